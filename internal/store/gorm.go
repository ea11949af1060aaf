package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/psds-microservice/support-bot/internal/errs"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is one row of kv_entries.
type Entry struct {
	Key       string         `gorm:"primaryKey;type:text"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "kv_entries" }

// Counter is one row of kv_counters.
type Counter struct {
	Key   string `gorm:"primaryKey;type:text"`
	Value int64  `gorm:"not null"`
}

func (Counter) TableName() string { return "kv_counters" }

// Postgres keeps the KV in two tables. Incr and SetNX are single statements,
// so concurrent bot processes and pollers never race on them.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, key string, dst any) error {
	var e Entry
	if err := s.db.WithContext(ctx).First(&e, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%s: %w", key, errs.ErrNotFound)
		}
		return fmt.Errorf("store: get %s: %w", key, err)
	}
	return json.Unmarshal(e.Value, dst)
}

func (s *Postgres) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", key, err)
	}
	e := Entry{Key: key, Value: datatypes.JSON(raw), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func (s *Postgres) SetNX(ctx context.Context, key string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("store: marshal %s: %w", key, err)
	}
	e := Entry{Key: key, Value: datatypes.JSON(raw), UpdatedAt: time.Now().UTC()}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&e)
	if res.Error != nil {
		return false, fmt.Errorf("store: setnx %s: %w", key, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Postgres) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&Entry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *Postgres) DeleteIf(ctx context.Context, key, field, want string) (bool, error) {
	res := s.db.WithContext(ctx).Where("key = ? AND value->>? = ?", key, field, want).Delete(&Entry{})
	if res.Error != nil {
		return false, fmt.Errorf("store: delete %s if %s: %w", key, field, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Postgres) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Raw(
		`INSERT INTO kv_counters (key, value) VALUES (?, 1)
		 ON CONFLICT (key) DO UPDATE SET value = kv_counters.value + 1
		 RETURNING value`, key).Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("store: incr %s: %w", key, err)
	}
	return n, nil
}

func (s *Postgres) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("key LIKE ? ESCAPE '\\'", escapeLike(prefix)+"%").
		Order("key").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("store: keys %s: %w", prefix, err)
	}
	return keys, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
