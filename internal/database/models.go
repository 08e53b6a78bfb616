package database

// Report is an archived research run.
type Report struct {
	ID           string
	Target       string
	Status       string // "DONE" or "FAILED"
	Model        string
	Markdown     string
	ChartJSON    *string
	Error        *string
	SectionCount int
	CreatedAt    string
}

// ReportSection is one generated section of a report.
type ReportSection struct {
	Position int
	Title    string
	Content  string
	Failed   bool
}

// ReportVector is one query vector mined for a report. Summary is nil
// when the vector yielded no intelligence.
type ReportVector struct {
	Position int
	Query    string
	Summary  *string
}

// Stats contains aggregate database statistics.
type Stats struct {
	Reports        int
	Completed      int
	Failed         int
	Sections       int
	FailedSections int
	Targets        int
	LastRun        string
}
