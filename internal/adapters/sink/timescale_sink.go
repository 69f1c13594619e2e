package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/ghalamif/frameprobe/internal/domain"
	"github.com/ghalamif/frameprobe/internal/ports"
)

const timescaleColumns = "(run_name, session_id, role, record_type, ts, sequence, layer, latency_ms, payload)"

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TimescaleSink writes records to a Postgres/TimescaleDB table. The typed
// columns are the ones worth indexing; everything else goes in payload.
type TimescaleSink struct {
	db        *sql.DB
	tableName string
	ownsDB    bool
}

func NewTimescaleSink(db *sql.DB, table string) (*TimescaleSink, error) {
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TimescaleSink{db: db, tableName: table}, nil
}

// OpenTimescale connects with lib/pq and creates the table when missing.
func OpenTimescale(ctx context.Context, dsn, table string) (*TimescaleSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open timescale: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(time.Minute)

	t, err := NewTimescaleSink(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	t.ownsDB = true
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping timescale: %w", err)
	}
	if err := t.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *TimescaleSink) EnsureSchema(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+t.tableName+` (
	run_name    TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	role        TEXT NOT NULL,
	record_type TEXT NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	sequence    BIGINT,
	layer       TEXT,
	latency_ms  DOUBLE PRECISION,
	payload     JSONB NOT NULL,
	UNIQUE (session_id, record_type, ts, sequence, layer)
)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", t.tableName, err)
	}
	return nil
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

func (t *TimescaleSink) WriteBatch(records []*domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" ")
	b.WriteString(timescaleColumns)
	b.WriteString(" VALUES ")

	const perRow = 9
	args := make([]any, 0, len(records)*perRow)
	for i, r := range records {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(")
		for c := 1; c <= perRow; c++ {
			if c > 1 {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "$%d", len(args)+c)
		}
		b.WriteString(")")

		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		var (
			seq     any
			layer   any
			latency any
		)
		switch {
		case r.Latency != nil:
			seq = int64(r.Latency.Sequence)
			layer = string(r.Latency.Layer)
			if !r.Latency.OriginTime.IsZero() {
				latency = float64(r.Latency.Latency) / float64(time.Millisecond)
			}
		case r.Summary != nil:
			layer = string(r.Summary.Layer)
		}
		args = append(args,
			r.RunName,
			r.SessionID,
			string(r.Role),
			string(r.Type),
			r.Time,
			seq,
			layer,
			latency,
			payload,
		)
	}
	b.WriteString(" ON CONFLICT DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

func (t *TimescaleSink) Close() error {
	if t.ownsDB {
		return t.db.Close()
	}
	return nil
}

var _ ports.Sink = (*TimescaleSink)(nil)
