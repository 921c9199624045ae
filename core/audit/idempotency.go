package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wagerchain/gateway/middleware"
)

// IdempotencyKey stores the reply to a mutating gateway request.
type IdempotencyKey struct {
	Key       string    `gorm:"primaryKey;size:128"`
	RequestID uuid.UUID `gorm:"type:uuid"`
	Method    string
	Path      string
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName pins the table name independent of the struct name.
func (IdempotencyKey) TableName() string { return "idempotency_keys" }

// LookupResponse implements middleware.IdempotencyStore.
func (s *Store) LookupResponse(ctx context.Context, key string) (*middleware.IdempotentResponse, bool, error) {
	var record IdempotencyKey
	err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &middleware.IdempotentResponse{
		Method: record.Method,
		Path:   record.Path,
		Status: record.Status,
		Body:   []byte(record.Response),
	}, true, nil
}

// SaveResponse implements middleware.IdempotencyStore. The first response
// stored under a key wins.
func (s *Store) SaveResponse(ctx context.Context, key string, resp *middleware.IdempotentResponse) error {
	record := IdempotencyKey{
		Key:       key,
		RequestID: uuid.New(),
		Method:    resp.Method,
		Path:      resp.Path,
		Status:    resp.Status,
		Response:  string(resp.Body),
		CreatedAt: s.nowFn().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
}
