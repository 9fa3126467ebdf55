package dispatch

import (
	"strings"

	"github.com/google/uuid"
)

const unknownName = "Unknown"

func validateConfig(ds Dataset, cfg Config) error {
	if strings.TrimSpace(cfg.PhoneColumn) == "" {
		return &ConfigurationError{Field: "phone_column", Reason: "select the column holding phone numbers"}
	}
	if !ds.HasColumn(cfg.PhoneColumn) {
		return &ConfigurationError{Field: "phone_column", Reason: "column " + cfg.PhoneColumn + " not found in dataset"}
	}
	if strings.TrimSpace(cfg.MessageTemplate) == "" {
		return &ConfigurationError{Field: "message_template", Reason: "message template is empty"}
	}
	if cfg.IntervalSeconds < MinIntervalSeconds || cfg.IntervalSeconds > MaxIntervalSeconds {
		return &ConfigurationError{Field: "interval_seconds", Reason: "interval must be between 1 and 60 seconds"}
	}
	return nil
}

// deriveContacts builds one pending contact per dataset row. IDs are taken
// from prior by position so clients can keep tracking the same rows across
// reconfiguration; rows past the end of prior get a fresh ID.
func deriveContacts(ds Dataset, cfg Config, prior []Contact) []Contact {
	contacts := make([]Contact, len(ds.Rows))
	for i, row := range ds.Rows {
		id := ""
		if i < len(prior) {
			id = prior[i].ID
		}
		if id == "" {
			id = uuid.NewString()
		}
		contacts[i] = Contact{
			ID:     id,
			Name:   contactName(ds, row),
			Phone:  row[cfg.PhoneColumn],
			Status: StatusPending,
		}
	}
	return contacts
}

// contactName prefers a "name" column, then the row's first column.
func contactName(ds Dataset, row map[string]string) string {
	if v := row["name"]; v != "" {
		return v
	}
	if len(ds.Columns) > 0 {
		if v := row[ds.Columns[0]]; v != "" {
			return v
		}
	}
	return unknownName
}

func cloneContacts(in []Contact) []Contact {
	if in == nil {
		return nil
	}
	out := make([]Contact, len(in))
	copy(out, in)
	return out
}
