// Package store keeps dispatch run history and the outgoing message log.
package store

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rfalcfilho/disparazap/internal/dispatch"
	"github.com/rfalcfilho/disparazap/internal/models"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB

	mu       sync.Mutex
	recorded map[string][]dispatch.Status
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, recorded: make(map[string][]dispatch.Status)}
}

// RecordSnapshot upserts the run row and any contact whose status changed
// since the last snapshot of the same run.
func (s *Store) RecordSnapshot(ctx context.Context, snap dispatch.Snapshot) error {
	stats := snap.Stats()
	run := models.DispatchRun{
		ID:              snap.RunID,
		FileName:        snap.FileName,
		PhoneColumn:     snap.Config.PhoneColumn,
		MessageTemplate: snap.Config.MessageTemplate,
		IntervalSeconds: snap.Config.IntervalSeconds,
		Status:          runStatus(snap),
		Total:           stats.Total,
		Sent:            stats.Sent,
		Failed:          stats.Failed,
		StartedAt:       snap.UpdatedAt,
	}
	if run.Status != RunRunning {
		finished := snap.UpdatedAt
		run.FinishedAt = &finished
	}

	s.mu.Lock()
	prev, seen := s.recorded[snap.RunID]
	s.mu.Unlock()

	var changed []models.DispatchContact
	for i, c := range snap.Contacts {
		if seen && i < len(prev) && prev[i] == c.Status {
			continue
		}
		changed = append(changed, models.DispatchContact{
			RunID:        snap.RunID,
			Position:     i,
			ContactID:    c.ID,
			Name:         c.Name,
			Phone:        c.Phone,
			Status:       string(c.Status),
			ErrorMessage: c.ErrorMessage,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// started_at is only written by the first snapshot of a run.
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "total", "sent", "failed", "finished_at", "updated_at",
			}),
		}).Create(&run).Error; err != nil {
			return err
		}
		if len(changed) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "position"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "error_message", "updated_at"}),
		}).Create(&changed).Error
	})
	if err != nil {
		return err
	}

	current := make([]dispatch.Status, len(snap.Contacts))
	for i, c := range snap.Contacts {
		current[i] = c.Status
	}
	s.mu.Lock()
	if run.Status == RunRunning {
		s.recorded[snap.RunID] = current
	} else {
		delete(s.recorded, snap.RunID)
	}
	s.mu.Unlock()
	return nil
}

func runStatus(snap dispatch.Snapshot) string {
	switch {
	case snap.IsProcessing:
		return RunRunning
	case snap.Cancelled:
		return RunCancelled
	default:
		return RunCompleted
	}
}

// ListRuns returns the most recent runs first, without their contacts.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.DispatchRun, error) {
	var runs []models.DispatchRun
	err := s.db.WithContext(ctx).Order("started_at desc").Limit(clampLimit(limit)).Find(&runs).Error
	return runs, err
}

// GetRun loads a run with its contacts in list order.
func (s *Store) GetRun(ctx context.Context, id string) (*models.DispatchRun, error) {
	var run models.DispatchRun
	err := s.db.WithContext(ctx).
		Preload("Contacts", func(db *gorm.DB) *gorm.DB { return db.Order("position asc") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) LogMessage(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *Store) ListMessages(ctx context.Context, limit int) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).Order("created_at desc, id desc").Limit(clampLimit(limit)).Find(&msgs).Error
	return msgs, err
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}
