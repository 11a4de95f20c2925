package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Sink is the opaque insert-batch interface the analytics store presents
// to the gateway (spec.md §6, "opaque insert interface accepting batches").
// Schema evolution is additive only; Sink implementations never need a
// read path, matching the design's "write-only sink" framing.
type Sink interface {
	InsertInferences(ctx context.Context, records []InferenceRecord) error
	InsertFeedback(ctx context.Context, records []FeedbackRecord) error
}

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLSink persists records to SQLite or Postgres, following the same
// open/init/insert shape as internal/requestlog's SQLWriter.
type SQLSink struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteSink opens (creating if needed) a SQLite-backed analytics sink.
func NewSQLiteSink(dsn string) (*SQLSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "ferrogw-analytics.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite analytics sink: %w", err)
	}
	s := &SQLSink{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSink opens a Postgres-backed analytics sink.
func NewPostgresSink(dsn string) (*SQLSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres analytics sink: %w", err)
	}
	s := &SQLSink{db: db, dialect: dialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s analytics sink: %w", s.dialect, err)
	}

	inferenceDDL := `
CREATE TABLE IF NOT EXISTS inference_records (
	inference_id TEXT PRIMARY KEY,
	episode_id TEXT NOT NULL,
	function_name TEXT NOT NULL,
	variant_name TEXT NOT NULL,
	model_name TEXT NOT NULL,
	provider_name TEXT NOT NULL,
	input TEXT,
	rendered_messages TEXT,
	raw_response TEXT,
	parsed_output TEXT,
	tool_calls TEXT,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost_usd REAL NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);`
	feedbackDDL := `
CREATE TABLE IF NOT EXISTS feedback_records (
	feedback_id TEXT PRIMARY KEY,
	target_id TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	value TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);`

	if s.dialect == dialectPostgres {
		inferenceDDL = strings.ReplaceAll(inferenceDDL, "TIMESTAMP NOT NULL", "TIMESTAMPTZ NOT NULL")
		feedbackDDL = strings.ReplaceAll(feedbackDDL, "TIMESTAMP NOT NULL", "TIMESTAMPTZ NOT NULL")
	}

	if _, err := s.db.Exec(inferenceDDL); err != nil {
		return fmt.Errorf("initialize inference_records schema: %w", err)
	}
	if _, err := s.db.Exec(feedbackDDL); err != nil {
		return fmt.Errorf("initialize feedback_records schema: %w", err)
	}
	return nil
}

func (s *SQLSink) bind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	return bindPostgres(query)
}

// InsertInferences writes a batch of inference records in one transaction;
// a partial failure rolls back the whole batch so a retry (spec.md §4.H,
// "exponential backoff with jitter") never double-inserts a prefix.
func (s *SQLSink) InsertInferences(ctx context.Context, records []InferenceRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin inference batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.bind(`INSERT INTO inference_records(
		inference_id, episode_id, function_name, variant_name, model_name, provider_name,
		input, rendered_messages, raw_response, parsed_output, tool_calls,
		input_tokens, output_tokens, cost_usd, latency_ms, status, created_at
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)

	for _, r := range records {
		_, err := tx.ExecContext(ctx, query,
			r.InferenceID, r.EpisodeID, r.FunctionName, r.VariantName, r.ModelName, r.ProviderName,
			nullableRaw(r.Input), nullableRaw(r.RenderedMessages), nullableRaw(r.RawResponse),
			nullableRaw(r.ParsedOutput), nullableRaw(r.ToolCalls),
			r.InputTokens, r.OutputTokens, r.CostUSD, r.LatencyMS, string(r.Status), r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert inference record %s: %w", r.InferenceID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit inference batch: %w", err)
	}
	return nil
}

// InsertFeedback writes a batch of feedback records in one transaction.
func (s *SQLSink) InsertFeedback(ctx context.Context, records []FeedbackRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin feedback batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.bind(`INSERT INTO feedback_records(feedback_id, target_id, metric_name, value, created_at)
		VALUES (?,?,?,?,?)`)

	for _, r := range records {
		value, err := json.Marshal(r.Value)
		if err != nil {
			return fmt.Errorf("encode feedback value %s: %w", r.FeedbackID, err)
		}
		if _, err := tx.ExecContext(ctx, query, r.FeedbackID, r.TargetID, r.MetricName, string(value), r.CreatedAt); err != nil {
			return fmt.Errorf("insert feedback record %s: %w", r.FeedbackID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit feedback batch: %w", err)
	}
	return nil
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// bindPostgres rewrites `?` placeholders to Postgres's `$1, $2, ...` form.
func bindPostgres(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
