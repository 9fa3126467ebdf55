package dispatch

import (
	"context"
	"time"
)

// Status is the per-contact delivery outcome within a dispatch run.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Contact is one recipient derived from a dataset row.
type Contact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Dataset is a parsed contact file: column names in file order plus one
// map per row. It is never mutated after loading.
type Dataset struct {
	FileName string              `json:"file_name"`
	Columns  []string            `json:"columns"`
	Rows     []map[string]string `json:"rows"`
}

// HasColumn reports whether name is one of the dataset's columns.
func (d Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

const (
	MinIntervalSeconds = 1
	MaxIntervalSeconds = 60
)

// Config holds the settings for one dispatch run.
type Config struct {
	PhoneColumn     string `json:"phone_column"`
	MessageTemplate string `json:"message_template"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// Interval is the pacing delay between consecutive contacts.
func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Snapshot is a copy of the run state handed to observers and API callers.
type Snapshot struct {
	RunID        string    `json:"run_id,omitempty"`
	FileName     string    `json:"file_name,omitempty"`
	Config       Config    `json:"config"`
	Contacts     []Contact `json:"contacts"`
	Cursor       int       `json:"cursor"`
	IsProcessing bool      `json:"is_processing"`
	Cancelled    bool      `json:"cancelled,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Stats counts contacts by status.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Progress is the percentage of contacts that reached a terminal status.
func (s Stats) Progress() int {
	if s.Total == 0 {
		return 0
	}
	return (s.Sent + s.Failed) * 100 / s.Total
}

// Stats counts the snapshot's contacts by status.
func (s Snapshot) Stats() Stats {
	st := Stats{Total: len(s.Contacts)}
	for _, c := range s.Contacts {
		switch c.Status {
		case StatusSent:
			st.Sent++
		case StatusFailed:
			st.Failed++
		default:
			st.Pending++
		}
	}
	return st
}

// Sender is the session layer the controller delivers through.
//
// Send returns nil on success. A *SendFailure reports a recipient-level
// failure whose reason is recorded on the contact; any other error is
// treated as an unexpected fault.
type Sender interface {
	IsConnected() bool
	Send(ctx context.Context, phone, text string) error
}

// Observer receives a snapshot after every state change. Observers run on
// the controller's goroutine and must not call back into the controller.
type Observer func(Snapshot)
