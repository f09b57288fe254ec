package trace

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	maxSessions = 100
	maxReplyLen = 4000
)

// Store archives finished traces in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to a PostgreSQL trace database at connStr.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	if err = db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession registers a conversation and prunes the oldest beyond maxSessions.
func (s *Store) CreateSession(ctx context.Context, id, network string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, network, started_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET network = EXCLUDED.network, ended_at = NULL`,
		id, network, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id NOT IN (SELECT id FROM sessions ORDER BY started_at DESC LIMIT $1)`,
		maxSessions,
	)
	return err
}

// EndSession sets the ended_at timestamp.
func (s *Store) EndSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET ended_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	return err
}

// SaveTrace stores a closed trace, its steps and its reply text in one transaction.
func (s *Store) SaveTrace(ctx context.Context, sessionID string, tr Trace) error {
	edges, err := json.Marshal(tr.Edges)
	if err != nil {
		return fmt.Errorf("encode edges: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO traces (id, session_id, network, started_at, status, reply, edges)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, sessionID, tr.Network, tr.Timestamp.UTC(), string(tr.status()),
		truncate(tr.Reply(), maxReplyLen), string(edges),
	)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}

	for i, st := range tr.Steps {
		var details any
		if st.Details != nil {
			b, encErr := json.Marshal(st.Details)
			if encErr != nil {
				return fmt.Errorf("encode step %s: %w", st.ID, encErr)
			}
			details = string(b)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO steps (trace_id, ordinal, id, ts, agent, kind, description, status, details)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			tr.ID, i, st.ID, st.Timestamp.UTC(), st.Agent, string(st.Kind), st.Description, string(st.Status), details,
		)
		if err != nil {
			return fmt.Errorf("insert step %s: %w", st.ID, err)
		}
	}
	return tx.Commit()
}

// ListTraces returns a session's traces oldest first.
func (s *Store) ListTraces(ctx context.Context, sessionID string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.session_id, t.network, t.started_at, t.status, t.reply, COUNT(st.id) AS step_count
		FROM traces t
		LEFT JOIN steps st ON st.trace_id = t.id
		WHERE t.session_id = $1
		GROUP BY t.id
		ORDER BY t.started_at ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		var status string
		if err = rows.Scan(&sm.ID, &sm.SessionID, &sm.Network, &sm.StartedAt, &status, &sm.Reply, &sm.StepCount); err != nil {
			return nil, err
		}
		sm.Status = Status(status)
		out = append(out, sm)
	}
	return out, rows.Err()
}

// GetTrace loads a stored trace with its steps and edges.
func (s *Store) GetTrace(ctx context.Context, id string) (*Trace, error) {
	tr := Trace{ID: id, Closed: true}
	var edges string
	err := s.db.QueryRowContext(ctx,
		`SELECT network, started_at, edges::text FROM traces WHERE id = $1`, id,
	).Scan(&tr.Network, &tr.Timestamp, &edges)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(edges), &tr.Edges); err != nil {
		return nil, fmt.Errorf("decode edges: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, agent, kind, description, status, details::text FROM steps WHERE trace_id = $1 ORDER BY ordinal ASC`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var st Step
		var kind, status string
		var details sql.NullString
		if err = rows.Scan(&st.ID, &st.Timestamp, &st.Agent, &kind, &st.Description, &status, &details); err != nil {
			return nil, err
		}
		st.Kind, st.Status = Kind(kind), Status(status)
		if details.Valid {
			if err = json.Unmarshal([]byte(details.String), &st.Details); err != nil {
				return nil, fmt.Errorf("decode step %s: %w", st.ID, err)
			}
		}
		tr.Steps = append(tr.Steps, st)
	}
	return &tr, rows.Err()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
