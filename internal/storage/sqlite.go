package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"plategate/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:plategate.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS plate_reads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			camera_index INTEGER NOT NULL,
			plate TEXT NOT NULL,
			plate_type TEXT NOT NULL,
			confidence REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plate_reads_plate ON plate_reads(plate)`,
		`CREATE INDEX IF NOT EXISTS idx_plate_reads_ts ON plate_reads(ts)`,
		`CREATE TABLE IF NOT EXISTS gate_decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			direction TEXT NOT NULL,
			camera_index INTEGER NOT NULL,
			plate TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT,
			fee REAL NOT NULL DEFAULT 0
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

func (s *sqliteStore) SavePlateRead(ctx context.Context, read model.PlateRead) error {
	if s.db == nil {
		return nil
	}
	ts := read.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plate_reads (ts, camera_index, plate, plate_type, confidence)
		VALUES (?, ?, ?, ?, ?)`,
		ts.UTC(),
		read.CameraIndex,
		read.Plate,
		string(read.PlateType),
		read.Confidence,
	)
	return err
}

func (s *sqliteStore) SaveDecision(ctx context.Context, decision model.GateDecision) error {
	if s.db == nil {
		return nil
	}
	ts := decision.Timestamp
	if ts.IsZero() {
		ts = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gate_decisions (ts, direction, camera_index, plate, outcome, detail, fee)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
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
