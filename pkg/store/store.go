// Package store is the task ledger: every session and task switchboard has
// opened against a remote agent, with the last known state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := db.AutoMigrate(&Session{}, &Task{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// DB exposes the connection so the audit log can share the file.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type Session struct {
	ID        string    `gorm:"primaryKey;column:id"`
	Agent     string    `gorm:"column:agent;not null;index:idx_sessions_agent"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (Session) TableName() string { return "sessions" }

type Task struct {
	ID         string     `gorm:"primaryKey;column:id"`
	Agent      string     `gorm:"column:agent;not null;index:idx_tasks_agent"`
	SessionID  string     `gorm:"column:session_id;not null;index:idx_tasks_session"`
	Message    string     `gorm:"column:message;not null;default:''"`
	State      string     `gorm:"column:state;not null"`
	Turns      int        `gorm:"column:turns;not null;default:0"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;not null"`
	FinishedAt *time.Time `gorm:"column:finished_at"`
}

func (Task) TableName() string { return "tasks" }

// TaskStarted records that message was sent under taskID. Sending again to a
// task waiting for input bumps its turn count and reopens it.
func (s *Store) TaskStarted(ctx context.Context, taskID, agent, sessionID, message string) error {
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess := Session{ID: sessionID, Agent: agent, CreatedAt: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"updated_at": now}),
		}).Create(&sess).Error; err != nil {
			return fmt.Errorf("recording session: %w", err)
		}

		task := Task{
			ID:        taskID,
			Agent:     agent,
			SessionID: sessionID,
			Message:   message,
			State:     "working",
			Turns:     1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"message":     message,
				"state":       "working",
				"turns":       gorm.Expr("turns + 1"),
				"updated_at":  now,
				"finished_at": nil,
			}),
		}).Create(&task).Error
	})
}

// TaskFinished stores the state a task ended a call in. Tasks still open
// for input keep FinishedAt unset.
func (s *Store) TaskFinished(ctx context.Context, taskID, state string) error {
	now := s.now()
	updates := map[string]any{"state": state, "updated_at": now}
	if state != "input-required" {
		updates["finished_at"] = now
	}
	res := s.db.WithContext(ctx).Model(&Task{}).Where("id = ?", taskID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("task %q: %w", taskID, ErrNotFound)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type TaskFilter struct {
	Agent     string
	SessionID string
	State     string
	Limit     int
}

// ListTasks returns matching tasks, most recently updated first.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	q := s.db.WithContext(ctx)
	if f.Agent != "" {
		q = q.Where("agent = ?", f.Agent)
	}
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	q = q.Order("updated_at DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var tasks []Task
	err := q.Find(&tasks).Error
	return tasks, err
}

// LatestSession returns the most recently used session for agent, so a
// restarted process can continue it.
func (s *Store) LatestSession(ctx context.Context, agent string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).
		Where("agent = ?", agent).
		Order("updated_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session for %q: %w", agent, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := s.db.WithContext(ctx).Order("updated_at DESC").Find(&sessions).Error
	return sessions, err
}

// PruneTasks deletes tasks that finished before cutoff. Open tasks are kept
// whatever their age.
func (s *Store) PruneTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("finished_at IS NOT NULL AND finished_at < ?", cutoff).
		Delete(&Task{})
	return res.RowsAffected, res.Error
}
