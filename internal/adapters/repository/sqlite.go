package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/huntline/internal/domain/model"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS hunts (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	lane_count  INTEGER NOT NULL,
	started     INTEGER NOT NULL DEFAULT 0,
	start_time  INTEGER,
	created_at  INTEGER NOT NULL,
	version     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS lanes (
	id            TEXT PRIMARY KEY,
	hunt_id       TEXT NOT NULL REFERENCES hunts(id),
	position      INTEGER NOT NULL,
	checkpoints   TEXT NOT NULL,
	current_index INTEGER NOT NULL DEFAULT 0,
	participants  TEXT NOT NULL,
	invitation    TEXT NOT NULL,
	version       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS lanes_by_hunt ON lanes(hunt_id, position);
CREATE TABLE IF NOT EXISTS invitations (
	reference TEXT PRIMARY KEY,
	lane_id   TEXT NOT NULL REFERENCES lanes(id)
);
`

const laneColumns = `id, hunt_id, position, checkpoints, current_index, participants, invitation, version`

// SQLiteStore persists hunts in a single SQLite file. The pool holds one
// connection, so every transaction is the only writer.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a private throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrStorePath
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertHunt implements Store.
func (s *SQLiteStore) InsertHunt(ctx context.Context, h model.Hunt, lanes []model.Lane, invitations []model.Invitation) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hunts (id, name, lane_count, started, start_time, created_at, version) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			h.ID, h.Name, h.LaneCount, h.Started, nullableMillis(h.StartTime), toMillis(h.CreatedAt), h.Version,
		); err != nil {
			return fmt.Errorf("insert hunt: %w", err)
		}
		for _, l := range lanes {
			cps, parts, err := encodeLane(l)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO lanes (`+laneColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				l.ID, l.HuntID, l.Position, cps, l.CurrentIndex, parts, l.Invitation, l.Version,
			); err != nil {
				return fmt.Errorf("insert lane: %w", err)
			}
		}
		for _, inv := range invitations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO invitations (reference, lane_id) VALUES (?, ?)`, inv.Reference, inv.LaneID,
			); err != nil {
				return fmt.Errorf("insert invitation: %w", err)
			}
		}
		return nil
	})
}

// Hunt implements Store.
func (s *SQLiteStore) Hunt(ctx context.Context, id string) (model.Hunt, error) {
	return scanHunt(s.db.QueryRowContext(ctx, huntQuery, id), id)
}

// Lane implements Store.
func (s *SQLiteStore) Lane(ctx context.Context, id string) (model.Lane, error) {
	return scanLane(s.db.QueryRowContext(ctx, `SELECT `+laneColumns+` FROM lanes WHERE id = ?`, id), id)
}

// Lanes implements Store.
func (s *SQLiteStore) Lanes(ctx context.Context, huntID string) ([]model.Lane, error) {
	if _, err := s.Hunt(ctx, huntID); err != nil {
		return nil, err
	}
	return queryLanes(ctx, s.db, huntID)
}

// Invitation implements Store.
func (s *SQLiteStore) Invitation(ctx context.Context, ref string) (model.Invitation, error) {
	inv := model.Invitation{Reference: ref}
	err := s.db.QueryRowContext(ctx, `SELECT lane_id FROM invitations WHERE reference = ?`, ref).Scan(&inv.LaneID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Invitation{}, fmt.Errorf("invitation %s: %w", ref, model.ErrNotFound)
	}
	if err != nil {
		return model.Invitation{}, fmt.Errorf("select invitation: %w", err)
	}
	return inv, nil
}

// UpdateLane implements Store.
func (s *SQLiteStore) UpdateLane(ctx context.Context, laneID string, fn Mutation) (model.Hunt, model.Lane, error) {
	var (
		h    model.Hunt
		next model.Lane
	)
	err := s.tx(ctx, func(tx *sql.Tx) error {
		cur, err := scanLane(tx.QueryRowContext(ctx, `SELECT `+laneColumns+` FROM lanes WHERE id = ?`, laneID), laneID)
		if err != nil {
			return err
		}
		if h, err = scanHunt(tx.QueryRowContext(ctx, huntQuery, cur.HuntID), cur.HuntID); err != nil {
			return err
		}
		next = cur.Clone()
		if err := fn(h, &next); err != nil {
			return err
		}
		next.Version = cur.Version + 1
		cps, parts, err := encodeLane(next)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE lanes SET checkpoints = ?, current_index = ?, participants = ?, version = ? WHERE id = ? AND version = ?`,
			cps, next.CurrentIndex, parts, next.Version, laneID, cur.Version,
		)
		if err != nil {
			return fmt.Errorf("update lane: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("update lane %s: %w", laneID, model.ErrConflict)
		}
		return nil
	})
	if err != nil {
		return model.Hunt{}, model.Lane{}, err
	}
	return h, next, nil
}

// StartHunt implements Store.
func (s *SQLiteStore) StartHunt(ctx context.Context, huntID string, at time.Time) (model.Hunt, []model.Lane, error) {
	var (
		h     model.Hunt
		lanes []model.Lane
	)
	err := s.tx(ctx, func(tx *sql.Tx) error {
		var err error
		if h, err = scanHunt(tx.QueryRowContext(ctx, huntQuery, huntID), huntID); err != nil {
			return err
		}
		if h.Started {
			return fmt.Errorf("hunt %s already started: %w", huntID, model.ErrInvalidOperation)
		}
		h.Started = true
		h.StartTime = &at
		h.Version++
		if _, err := tx.ExecContext(ctx,
			`UPDATE hunts SET started = 1, start_time = ?, version = ? WHERE id = ?`, toMillis(at), h.Version, huntID,
		); err != nil {
			return fmt.Errorf("update hunt: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE lanes SET version = version + 1 WHERE hunt_id = ?`, huntID); err != nil {
			return fmt.Errorf("bump lanes: %w", err)
		}
		lanes, err = queryLanes(ctx, tx, huntID)
		return err
	})
	if err != nil {
		return model.Hunt{}, nil, err
	}
	return h, lanes, nil
}

// Counts implements Store.
func (s *SQLiteStore) Counts(ctx context.Context) (int, int) {
	var hunts, lanes int
	_ = s.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM hunts), (SELECT COUNT(*) FROM lanes)`).Scan(&hunts, &lanes)
	return hunts, lanes
}

func (s *SQLiteStore) tx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const huntQuery = `SELECT id, name, lane_count, started, start_time, created_at, version FROM hunts WHERE id = ?`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanHunt(row rowScanner, id string) (model.Hunt, error) {
	var (
		h         model.Hunt
		startTime sql.NullInt64
		createdAt int64
	)
	err := row.Scan(&h.ID, &h.Name, &h.LaneCount, &h.Started, &startTime, &createdAt, &h.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Hunt{}, fmt.Errorf("hunt %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Hunt{}, fmt.Errorf("select hunt: %w", err)
	}
	h.CreatedAt = fromMillis(createdAt)
	if startTime.Valid {
		h.StartTime = ptrTime(fromMillis(startTime.Int64))
	}
	return h, nil
}

func scanLane(row rowScanner, id string) (model.Lane, error) {
	var (
		l           model.Lane
		cps, partsJ string
	)
	err := row.Scan(&l.ID, &l.HuntID, &l.Position, &cps, &l.CurrentIndex, &partsJ, &l.Invitation, &l.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lane{}, fmt.Errorf("lane %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Lane{}, fmt.Errorf("select lane: %w", err)
	}
	if err := json.Unmarshal([]byte(cps), &l.Checkpoints); err != nil {
		return model.Lane{}, fmt.Errorf("decode checkpoints: %w", err)
	}
	if err := json.Unmarshal([]byte(partsJ), &l.Participants); err != nil {
		return model.Lane{}, fmt.Errorf("decode participants: %w", err)
	}
	return l, nil
}

func queryLanes(ctx context.Context, q queryer, huntID string) ([]model.Lane, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+laneColumns+` FROM lanes WHERE hunt_id = ? ORDER BY position`, huntID)
	if err != nil {
		return nil, fmt.Errorf("select lanes: %w", err)
	}
	defer rows.Close()
	var out []model.Lane
	for rows.Next() {
		l, err := scanLane(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lanes: %w", err)
	}
	return out, nil
}

func encodeLane(l model.Lane) (string, string, error) {
	cps := l.Checkpoints
	if cps == nil {
		cps = []model.Checkpoint{}
	}
	parts := l.Participants
	if parts == nil {
		parts = []model.Participant{}
	}
	cb, err := json.Marshal(cps)
	if err != nil {
		return "", "", fmt.Errorf("encode checkpoints: %w", err)
	}
	pb, err := json.Marshal(parts)
	if err != nil {
		return "", "", fmt.Errorf("encode participants: %w", err)
	}
	return string(cb), string(pb), nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
