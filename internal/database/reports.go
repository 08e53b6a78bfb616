package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// InsertReport stores a finished report with its sections and vectors in
// one transaction. An empty r.ID is replaced by a new UUID, which is
// returned.
func (db *DB) InsertReport(r *Report, sections []ReportSection, vectors []ReportVector) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO reports (id, target, status, model, markdown, chart_json, error, section_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Target, r.Status, r.Model, r.Markdown, r.ChartJSON, r.Error, len(sections),
	)
	if err != nil {
		return "", fmt.Errorf("inserting report: %w", err)
	}

	for i, s := range sections {
		if _, err := tx.Exec(
			"INSERT INTO report_sections (report_id, position, title, content, failed) VALUES (?, ?, ?, ?, ?)",
			r.ID, i, s.Title, s.Content, s.Failed,
		); err != nil {
			return "", fmt.Errorf("inserting section %q: %w", s.Title, err)
		}
	}

	for i, v := range vectors {
		if _, err := tx.Exec(
			"INSERT INTO report_vectors (report_id, position, query, summary) VALUES (?, ?, ?, ?)",
			r.ID, i, v.Query, v.Summary,
		); err != nil {
			return "", fmt.Errorf("inserting vector %q: %w", v.Query, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	r.SectionCount = len(sections)
	return r.ID, nil
}

const reportColumns = "id, target, status, COALESCE(model, ''), markdown, chart_json, error, section_count, created_at"

func scanReport(row interface{ Scan(...any) error }) (*Report, error) {
	var r Report
	if err := row.Scan(&r.ID, &r.Target, &r.Status, &r.Model, &r.Markdown,
		&r.ChartJSON, &r.Error, &r.SectionCount, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReport returns the report with the given ID, or nil if none exists.
func (db *DB) GetReport(id string) (*Report, error) {
	r, err := scanReport(db.conn.QueryRow("SELECT "+reportColumns+" FROM reports WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// GetAllReports returns all reports, newest first.
func (db *DB) GetAllReports() ([]Report, error) {
	rows, err := db.conn.Query("SELECT " + reportColumns + " FROM reports ORDER BY created_at DESC, rowid DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetReportSections returns a report's sections in order.
func (db *DB) GetReportSections(reportID string) ([]ReportSection, error) {
	rows, err := db.conn.Query(
		"SELECT position, title, content, failed FROM report_sections WHERE report_id = ? ORDER BY position",
		reportID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportSection
	for rows.Next() {
		var s ReportSection
		if err := rows.Scan(&s.Position, &s.Title, &s.Content, &s.Failed); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetReportVectors returns a report's query vectors in generation order.
func (db *DB) GetReportVectors(reportID string) ([]ReportVector, error) {
	rows, err := db.conn.Query(
		"SELECT position, query, summary FROM report_vectors WHERE report_id = ? ORDER BY position",
		reportID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReportVector
	for rows.Next() {
		var v ReportVector
		if err := rows.Scan(&v.Position, &v.Query, &v.Summary); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteReport removes a report and everything attached to it. It
// reports whether a row was deleted.
func (db *DB) DeleteReport(id string) (bool, error) {
	res, err := db.conn.Exec("DELETE FROM reports WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FindReports returns the reports whose ID starts with prefix, so the
// CLI can accept shortened IDs.
func (db *DB) FindReports(prefix string) ([]Report, error) {
	rows, err := db.conn.Query("SELECT "+reportColumns+" FROM reports WHERE substr(id, 1, length(?1)) = ?1 ORDER BY created_at DESC", prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM reports", &s.Reports},
		{"SELECT COUNT(*) FROM reports WHERE status = 'DONE'", &s.Completed},
		{"SELECT COUNT(*) FROM reports WHERE status = 'FAILED'", &s.Failed},
		{"SELECT COUNT(*) FROM report_sections", &s.Sections},
		{"SELECT COUNT(*) FROM report_sections WHERE failed = 1", &s.FailedSections},
		{"SELECT COUNT(DISTINCT target) FROM reports", &s.Targets},
	}
	for _, q := range queries {
		if err := db.conn.QueryRow(q.query).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	var last sql.NullString
	if err := db.conn.QueryRow("SELECT MAX(created_at) FROM reports").Scan(&last); err != nil {
		return nil, err
	}
	s.LastRun = last.String
	return s, nil
}
