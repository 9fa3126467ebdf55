package models

import (
	"time"
)

// Message is an outgoing WhatsApp message logged by the session client.
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	WaID      string    `gorm:"index;not null" json:"wa_id"` // Graph API message ID, empty on failure
	Recipient string    `gorm:"index;not null" json:"recipient"`
	Content   string    `gorm:"type:text" json:"content"`
	Type      string    `gorm:"type:varchar(50)" json:"type"`
	Status    string    `gorm:"type:varchar(20)" json:"status"` // sent, failed
	Error     string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Message) TableName() string {
	return "messages"
}

// DispatchRun is one pass of the dispatch queue over a contact list
type DispatchRun struct {
	ID              string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FileName        string            `gorm:"type:varchar(255)" json:"file_name"`
	PhoneColumn     string            `gorm:"type:varchar(255)" json:"phone_column"`
	MessageTemplate string            `gorm:"type:text" json:"message_template"`
	IntervalSeconds int               `json:"interval_seconds"`
	Status          string            `gorm:"type:varchar(20);index" json:"status"` // running, completed, cancelled
	Total           int               `json:"total"`
	Sent            int               `json:"sent"`
	Failed          int               `json:"failed"`
	StartedAt       time.Time         `json:"started_at"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	Contacts        []DispatchContact `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE" json:"contacts,omitempty"`
}

func (DispatchRun) TableName() string {
	return "dispatch_runs"
}

// DispatchContact is the per-contact outcome within a run
type DispatchContact struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	RunID        string    `gorm:"type:varchar(36);uniqueIndex:idx_run_position;not null" json:"run_id"`
	Position     int       `gorm:"uniqueIndex:idx_run_position" json:"position"`
	ContactID    string    `gorm:"type:varchar(36)" json:"contact_id"`
	Name         string    `gorm:"type:varchar(255)" json:"name"`
	Phone        string    `gorm:"type:varchar(64)" json:"phone"`
	Status       string    `gorm:"type:varchar(20)" json:"status"`
	ErrorMessage string    `gorm:"type:text" json:"error_message,omitempty"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DispatchContact) TableName() string {
	return "dispatch_contacts"
}
