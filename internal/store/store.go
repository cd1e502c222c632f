// Package store persists the append-only event log and serves ordered
// range queries over it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agentdeck/ops-console/internal/model"
)

// ErrEventNotFound indicates that a cursor id does not resolve to a
// stored event. Resume callers treat this as "cannot resume precisely"
// and fall back to a recent-window fetch.
var ErrEventNotFound = errors.New("event not found")

const (
	// DefaultQueryLimit applies when a caller supplies no limit.
	DefaultQueryLimit = 100

	// MaxQueryLimit bounds replay cost; larger requests are clamped.
	MaxQueryLimit = 200
)

// Config selects the backing database. Exactly one of the two fields
// should be set; PostgresDSN wins when both are.
type Config struct {
	PostgresDSN string
	SQLitePath  string
}

// Store is a gorm-backed append-only event log.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the events table.
func Open(cfg Config) (*Store, error) {
	var dial gorm.Dialector

	switch {
	case cfg.PostgresDSN != "":
		dial = postgres.Open(cfg.PostgresDSN)
	case cfg.SQLitePath != "":
		dial = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("either postgres dsn or sqlite path must be provided")
	}

	db, err := gorm.Open(dial, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}

	if err := db.AutoMigrate(&eventRow{}); err != nil {
		return nil, fmt.Errorf("migrate event store: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying sql connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// eventRow is the persisted shape of an event. Payload and metadata are
// stored as JSON text so the core never interprets them.
type eventRow struct {
	ID       string    `gorm:"primaryKey;index:idx_events_cursor,priority:2"`
	TS       time.Time `gorm:"index:idx_events_cursor,priority:1"`
	Type     string    `gorm:"index"`
	Actor    string
	ActorID  string `gorm:"index"`
	TargetID *string
	Payload  string
	Severity string
	ThreadID *string `gorm:"index"`
	Metadata *string
}

// TableName returns the gorm table name.
func (eventRow) TableName() string { return "events" }

// Append persists the event in a single transaction. The event must
// already carry its writer-assigned id and timestamp.
func (s *Store) Append(ctx context.Context, evt *model.Event) error {
	row, err := toRow(evt)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("append event %s: %w", evt.ID, err)
	}

	return nil
}

// QueryParams selects a slice of the log. Cursor forms are mutually
// exclusive with precedence AfterID > BeforeID > AfterTS > Since; with
// none set the most recent Limit events are returned. AfterCursor is an
// already-resolved alternative to AfterID. All other filters are
// conjunctive.
type QueryParams struct {
	AfterID     string
	AfterCursor model.Cursor
	BeforeID    string
	AfterTS     time.Time
	Since       time.Time

	Types    []string
	ActorIDs []string
	ThreadID string

	Limit int
}

// Query returns matching events in ascending (ts, id) order. The
// no-cursor and BeforeID forms fetch descending internally and reverse
// before returning, so callers always receive ascending order.
func (s *Store) Query(ctx context.Context, p QueryParams) ([]model.Event, error) {
	limit := clampLimit(p.Limit)

	q := s.db.WithContext(ctx).Model(&eventRow{})
	descending := false

	switch {
	case p.AfterID != "":
		cur, err := s.ResolveCursor(ctx, p.AfterID)
		if err != nil {
			return nil, err
		}
		q = q.Where("ts > ? OR (ts = ? AND id > ?)", cur.TS, cur.TS, cur.ID)
	case !p.AfterCursor.IsZero():
		cur := p.AfterCursor
		q = q.Where("ts > ? OR (ts = ? AND id > ?)", cur.TS, cur.TS, cur.ID)
	case p.BeforeID != "":
		cur, err := s.ResolveCursor(ctx, p.BeforeID)
		if err != nil {
			return nil, err
		}
		q = q.Where("ts < ? OR (ts = ? AND id < ?)", cur.TS, cur.TS, cur.ID)
		descending = true
	case !p.AfterTS.IsZero():
		q = q.Where("ts > ?", p.AfterTS)
	case !p.Since.IsZero():
		q = q.Where("ts > ?", p.Since)
	default:
		descending = true
	}

	if len(p.Types) > 0 {
		q = q.Where("type IN ?", p.Types)
	}
	if len(p.ActorIDs) > 0 {
		q = q.Where("actor_id IN ?", p.ActorIDs)
	}
	if p.ThreadID != "" {
		q = q.Where("thread_id = ?", p.ThreadID)
	}

	if descending {
		q = q.Order("ts DESC, id DESC")
	} else {
		q = q.Order("ts ASC, id ASC")
	}

	var rows []eventRow
	if err := q.Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	if descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	events := make([]model.Event, len(rows))
	for i := range rows {
		evt, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		events[i] = *evt
	}

	return events, nil
}

// ResolveCursor resolves an event id to its (ts, id) position.
func (s *Store) ResolveCursor(ctx context.Context, id string) (model.Cursor, error) {
	var row eventRow
	err := s.db.WithContext(ctx).Select("id", "ts").First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Cursor{}, fmt.Errorf("resolve cursor %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return model.Cursor{}, fmt.Errorf("resolve cursor %s: %w", id, err)
	}
	return model.Cursor{TS: row.TS, ID: row.ID}, nil
}

// LatestCursor returns the newest event's cursor, or the zero cursor
// when the log is empty.
func (s *Store) LatestCursor(ctx context.Context) (model.Cursor, error) {
	var row eventRow
	err := s.db.WithContext(ctx).Select("id", "ts").Order("ts DESC, id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Cursor{}, nil
	}
	if err != nil {
		return model.Cursor{}, fmt.Errorf("latest cursor: %w", err)
	}
	return model.Cursor{TS: row.TS, ID: row.ID}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func toRow(evt *model.Event) (*eventRow, error) {
	payload := evt.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	row := &eventRow{
		ID:       evt.ID,
		TS:       evt.TS,
		Type:     evt.Type,
		Actor:    evt.Actor,
		ActorID:  evt.ActorID,
		Payload:  string(data),
		Severity: string(evt.Severity),
	}

	if evt.TargetID != "" {
		row.TargetID = &evt.TargetID
	}
	if evt.ThreadID != "" {
		row.ThreadID = &evt.ThreadID
	}
	if evt.Metadata != nil {
		meta, err := json.Marshal(evt.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		ms := string(meta)
		row.Metadata = &ms
	}

	return row, nil
}

func fromRow(row *eventRow) (*model.Event, error) {
	evt := &model.Event{
		ID:       row.ID,
		TS:       row.TS,
		Type:     row.Type,
		Actor:    row.Actor,
		ActorID:  row.ActorID,
		Severity: model.Severity(row.Severity),
	}

	if row.TargetID != nil {
		evt.TargetID = *row.TargetID
	}
	if row.ThreadID != nil {
		evt.ThreadID = *row.ThreadID
	}

	if err := json.Unmarshal([]byte(row.Payload), &evt.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", row.ID, err)
	}
	if row.Metadata != nil {
		if err := json.Unmarshal([]byte(*row.Metadata), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", row.ID, err)
		}
	}

	return evt, nil
}
