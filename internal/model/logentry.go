package model

import "time"

// LogEntry is one line of the request log.
// Timestamp is kept as written ("2006-01-02 15:04:05"); Time is set when the entry
// is recorded and is zero for parsed lines.
type LogEntry struct {
	Timestamp string    `json:"timestamp"`
	ID        string    `json:"id"`
	Tag       string    `json:"tag,omitempty"`
	IP        string    `json:"ip"`
	UserAgent string    `json:"user_agent"`
	Time      time.Time `json:"-"`
}
