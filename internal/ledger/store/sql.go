package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
)

// KVRecord is the single table backing the SQL store.
type KVRecord struct {
	bun.BaseModel `bun:"table:kv_records"`
	Key           string `bun:"key,pk"`
	Value         []byte `bun:"value,notnull"`
	Version       int64  `bun:"version,notnull"`
}

// SQL is a Store backed by a relational database through bun. The
// compare-and-swap runs as a guarded UPDATE on the version column.
type SQL struct {
	Bun *bun.DB
}

func NewSQL(db *bun.DB) *SQL {
	return &SQL{Bun: db}
}

// Init creates the backing table. Called once on boot.
func (s *SQL) Init(ctx context.Context) error {
	_, err := s.Bun.NewCreateTable().
		Model((*KVRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func (s *SQL) Get(ctx context.Context, key string) ([]byte, int64, error) {
	var record KVRecord
	err := s.Bun.NewSelect().
		Model(&record).
		Where("key = ?", key).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return record.Value, record.Version, nil
}

func (s *SQL) Put(ctx context.Context, key string, value []byte, expectedVersion int64) error {
	if expectedVersion == 0 {
		record := KVRecord{Key: key, Value: value, Version: 1}
		res, err := s.Bun.NewInsert().
			Model(&record).
			On("CONFLICT (key) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrVersionConflict
		}
		return nil
	}

	record := KVRecord{Key: key, Value: value, Version: expectedVersion + 1}
	res, err := s.Bun.NewUpdate().
		Model(&record).
		Column("value", "version").
		Where("key = ?", key).
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	return nil
}
