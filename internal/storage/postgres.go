package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"plategate/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/plategate?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plate_reads (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			camera_index INTEGER NOT NULL,
			plate TEXT NOT NULL,
			plate_type TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plate_reads_plate ON plate_reads(plate)`,
		`CREATE INDEX IF NOT EXISTS idx_plate_reads_ts ON plate_reads(ts)`,
		`CREATE TABLE IF NOT EXISTS gate_decisions (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			direction TEXT NOT NULL,
			camera_index INTEGER NOT NULL,
			plate TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT,
			fee DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gate_decisions_ts ON gate_decisions(ts)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SavePlateRead(ctx context.Context, read model.PlateRead) error {
	if s.db == nil {
		return nil
	}
	ts := read.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plate_reads (ts, camera_index, plate, plate_type, confidence)
		VALUES ($1, $2, $3, $4, $5)`,
		ts.UTC(),
		read.CameraIndex,
		read.Plate,
		string(read.PlateType),
		read.Confidence,
	)
	return err
}

func (s *postgresStore) SaveDecision(ctx context.Context, decision model.GateDecision) error {
	if s.db == nil {
		return nil
	}
	ts := decision.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gate_decisions (ts, direction, camera_index, plate, outcome, detail, fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ts.UTC(),
		string(decision.Direction),
		decision.CameraIndex,
		decision.Plate,
		string(decision.Outcome),
		decision.Detail,
		decision.Fee,
	)
	return err
}
