package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/observer/pkg/canonicalize"
	"github.com/Mindburn-Labs/observer/pkg/event"
)

// SQLiteArchive is a durable journal of accepted events. It sits behind the
// in-memory store: events are journaled after the store commit, and Replay
// rebuilds in-memory state at startup. The archive is observation-only and
// never feeds back into upstream semantics.
type SQLiteArchive struct {
	db *sql.DB
}

// OpenSQLiteArchive opens (or creates) an archive at path.
func OpenSQLiteArchive(path string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	a := &SQLiteArchive{db: db}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteArchive) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS observed_events (
        event_id INTEGER PRIMARY KEY,
        source TEXT NOT NULL,
        artifact TEXT NOT NULL,
        thread_id TEXT NOT NULL DEFAULT '',
        turn_id TEXT NOT NULL DEFAULT '',
        parent_turn_id TEXT NOT NULL DEFAULT '',
        actor TEXT NOT NULL DEFAULT '',
        kind TEXT NOT NULL,
        decision_result TEXT NOT NULL DEFAULT '',
        policy_version TEXT NOT NULL DEFAULT '',
        latency_ms INTEGER,
        observed_at INTEGER NOT NULL DEFAULT 0,
        payload TEXT NOT NULL
    );`
	_, err := a.db.ExecContext(context.Background(), query)
	return err
}

// Append journals a single accepted event. The payload is stored in its
// canonical encoding so the journal round-trips byte-exactly.
func (a *SQLiteArchive) Append(ctx context.Context, e event.ObservedEvent) error {
	payload, err := canonicalize.Bytes(e.Payload)
	if err != nil {
		return err
	}
	var latency sql.NullInt64
	if ms, ok := e.Latency(); ok {
		latency = sql.NullInt64{Int64: ms, Valid: true}
	}
	_, err = a.db.ExecContext(ctx, `
        INSERT INTO observed_events
            (event_id, source, artifact, thread_id, turn_id, parent_turn_id,
             actor, kind, decision_result, policy_version, latency_ms,
             observed_at, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.Source, e.Artifact, e.ThreadID, e.TurnID, e.ParentTurnID,
		e.Actor, string(e.Kind), string(e.DecisionResult), e.PolicyVersion,
		latency, e.ObservedAt, string(payload))
	if err != nil {
		return fmt.Errorf("archive append: %w", err)
	}
	return nil
}

// Replay calls fn for every journaled event in event id order. Replay stops
// at the first error fn returns.
func (a *SQLiteArchive) Replay(ctx context.Context, fn func(event.ObservedEvent) error) error {
	rows, err := a.db.QueryContext(ctx, `
        SELECT event_id, source, artifact, thread_id, turn_id, parent_turn_id,
               actor, kind, decision_result, policy_version, latency_ms,
               observed_at, payload
        FROM observed_events
        ORDER BY event_id ASC`)
	if err != nil {
		return fmt.Errorf("archive replay: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			e           event.ObservedEvent
			kind        string
			result      string
			latency     sql.NullInt64
			payloadText string
		)
		if err := rows.Scan(&e.EventID, &e.Source, &e.Artifact, &e.ThreadID,
			&e.TurnID, &e.ParentTurnID, &e.Actor, &kind, &result,
			&e.PolicyVersion, &latency, &e.ObservedAt, &payloadText); err != nil {
			return fmt.Errorf("archive replay scan: %w", err)
		}
		e.Kind = event.Kind(kind)
		e.DecisionResult = event.DecisionResult(result)
		if latency.Valid {
			ms := latency.Int64
			e.LatencyMS = &ms
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(payloadText)))
		dec.UseNumber()
		if err := dec.Decode(&e.Payload); err != nil {
			return fmt.Errorf("archive replay payload: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the underlying database handle.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}
