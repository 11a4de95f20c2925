package analytics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteTestSink(t *testing.T) *SQLSink {
	t.Helper()

	path := filepath.Join(t.TempDir(), "analytics.db")
	sink, err := NewSQLiteSink(path)
	if err != nil {
		t.Fatalf("new sqlite sink: %v", err)
	}
	t.Cleanup(func() {
		if sink.db != nil {
			_ = sink.db.Close()
		}
	})
	return sink
}

func TestSQLiteSinkImplementsSink(_ *testing.T) {
	var _ Sink = (*SQLSink)(nil)
}

func TestSQLiteSink_InsertInferences(t *testing.T) {
	sink := newSQLiteTestSink(t)

	records := []InferenceRecord{
		{
			InferenceID:  "inf-1",
			EpisodeID:    "ep-1",
			FunctionName: "basic_test",
			VariantName:  "test",
			ModelName:    "test",
			ProviderName: "good",
			ParsedOutput: nil,
			InputTokens:  10,
			OutputTokens: 5,
			LatencyMS:    42,
			Status:       StatusSuccess,
			CreatedAt:    time.Now().UTC(),
		},
	}

	if err := sink.InsertInferences(context.Background(), records); err != nil {
		t.Fatalf("insert inferences: %v", err)
	}

	var count int
	if err := sink.db.QueryRow("SELECT COUNT(*) FROM inference_records").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestSQLiteSink_InsertInferences_Empty(t *testing.T) {
	sink := newSQLiteTestSink(t)
	if err := sink.InsertInferences(context.Background(), nil); err != nil {
		t.Fatalf("insert empty batch should be a no-op: %v", err)
	}
}

func TestSQLiteSink_InsertFeedback(t *testing.T) {
	sink := newSQLiteTestSink(t)

	records := []FeedbackRecord{
		{FeedbackID: "fb-1", TargetID: "inf-1", MetricName: "task_success", Value: true, CreatedAt: time.Now().UTC()},
	}
	if err := sink.InsertFeedback(context.Background(), records); err != nil {
		t.Fatalf("insert feedback: %v", err)
	}

	var count int
	if err := sink.db.QueryRow("SELECT COUNT(*) FROM feedback_records").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestPostgresSink_Contract(t *testing.T) {
	dsn := os.Getenv("FERROGW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set FERROGW_TEST_POSTGRES_DSN to run Postgres sink integration tests")
	}

	sink, err := NewPostgresSink(dsn)
	if err != nil {
		t.Fatalf("new postgres sink: %v", err)
	}
	t.Cleanup(func() {
		_, _ = sink.db.Exec("DELETE FROM inference_records")
		_, _ = sink.db.Exec("DELETE FROM feedback_records")
		_ = sink.db.Close()
	})

	rec := InferenceRecord{InferenceID: "pg-1", EpisodeID: "pg-ep", Status: StatusSuccess, CreatedAt: time.Now().UTC()}
	if err := sink.InsertInferences(context.Background(), []InferenceRecord{rec}); err != nil {
		t.Fatalf("insert inferences: %v", err)
	}
}

func TestBindPostgres(t *testing.T) {
	got := bindPostgres("INSERT INTO t(a,b) VALUES (?,?)")
	want := "INSERT INTO t(a,b) VALUES ($1,$2)"
	if got != want {
		t.Errorf("bindPostgres = %q, want %q", got, want)
	}
}
