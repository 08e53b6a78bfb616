package database

import "time"

const sqliteTimeLayout = "2006-01-02 15:04:05"

// FormatCreatedAt formats a SQLite datetime('now') value for display,
// e.g. "Feb 06, 2026 14:05 UTC". Unparseable values are returned as is.
func FormatCreatedAt(createdAt string) string {
	t, err := time.Parse(sqliteTimeLayout, createdAt)
	if err != nil {
		return createdAt
	}
	return t.Format("Jan 02, 2006 15:04") + " UTC"
}

// ShortID returns the first eight characters of a report ID.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
