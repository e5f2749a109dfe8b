package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"plategate/internal/config"
	"plategate/internal/model"
)

// Store is the audit trail: every accepted plate read and every gate decision
// gets persisted.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SavePlateRead(ctx context.Context, read model.PlateRead) error
	SaveDecision(ctx context.Context, decision model.GateDecision) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
