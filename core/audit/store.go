// Package audit keeps a queryable history of every wager event in a SQL
// database.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"wagerchain/core/events"
	"wagerchain/core/types"
)

// Store persists wager events through gorm. It implements events.Emitter so it
// can be attached directly to the wager engine.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu   sync.Mutex
	next uint64
}

// Open connects to the configured driver ("sqlite" or "postgres") and runs
// the schema migrations.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("audit: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("audit: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", driver, err)
	}
	return NewStore(db, logger)
}

// NewStore wraps an existing gorm handle and migrates the schema.
func NewStore(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	var last uint64
	if err := db.Model(&Entry{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("audit: load sequence: %w", err)
	}
	return &Store{db: db, logger: logger, nowFn: time.Now, next: last + 1}, nil
}

// DB exposes the gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Persistence failures are logged; the event
// has already been committed to the ledger.
func (s *Store) Emit(evt events.Event) {
	if evt == nil || evt.Event() == nil {
		return
	}
	if err := s.Record(context.Background(), evt.Event()); err != nil {
		s.logger.Error("audit: persist wager event", "type", evt.EventType(), "error", err)
	}
}

// Record persists a single event.
func (s *Store) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return errors.New("audit: nil event")
	}
	gameID, err := strconv.ParseUint(evt.Attr("gameId"), 10, 64)
	if err != nil {
		return fmt.Errorf("audit: event %s without game id: %w", evt.Type, err)
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	entry := &Entry{
		GameID:     gameID,
		Type:       evt.Type,
		White:      evt.Attr("white"),
		Black:      evt.Attr("black"),
		Winner:     evt.Attr("winner"),
		Total:      evt.Attr("total"),
		Outcome:    evt.Attr("outcome"),
		Replaced:   evt.Attr("replaced") == "true",
		Attributes: string(attrs),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Sequence = s.next
	entry.CreatedAt = s.nowFn().UTC()
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	s.next++
	return nil
}

// History returns the events recorded for gameID in emission order.
func (s *Store) History(ctx context.Context, gameID uint64) ([]Entry, error) {
	var entries []Entry
	err := s.db.WithContext(ctx).
		Where("game_id = ?", gameID).
		Order("sequence ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Recent returns up to limit of the latest events across all games, newest
// first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var entries []Entry
	err := s.db.WithContext(ctx).Order("sequence DESC").Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Decode returns the raw attribute map stored with the entry.
func (e Entry) Decode() (map[string]string, error) {
	attrs := make(map[string]string)
	if e.Attributes == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}
