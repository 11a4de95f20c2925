package analytics

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ferro-labs/inference-gateway/internal/metrics"
)

// DefaultBufferSize is the bounded channel capacity per record type
// (spec.md §5, "Observability buffers: single-producer-multi-producer
// bounded channel").
const DefaultBufferSize = 4096

// DefaultBatchSize and DefaultFlushInterval are the size and time bounds a
// batch flushes on, whichever comes first (spec.md §4.H).
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 2 * time.Second
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Writer is the background consumer of the observability buffers: it
// batches InferenceRecord/FeedbackRecord values and flushes them to a Sink,
// retrying with exponential backoff and jitter on sink error, and dropping
// the oldest buffered record (incrementing a drop counter) when a buffer is
// full (spec.md §4.H).
//
// The request path only ever calls EnqueueInference/EnqueueFeedback, which
// never block: this is what keeps persistence off the request's critical
// path (spec.md §4.G step 7, "hand to H for async persistence").
type Writer struct {
	sink Sink

	inferenceCh chan InferenceRecord
	feedbackCh  chan FeedbackRecord

	batchSize     int
	flushInterval time.Duration

	wg   sync.WaitGroup
	done chan struct{}
}

// NewWriter builds a Writer over sink with the given buffer/batch sizing.
// A zero bufferSize/batchSize/flushInterval falls back to the package
// defaults.
func NewWriter(sink Sink, bufferSize, batchSize int, flushInterval time.Duration) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &Writer{
		sink:          sink,
		inferenceCh:   make(chan InferenceRecord, bufferSize),
		feedbackCh:    make(chan FeedbackRecord, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
	}
}

// Start launches the background consumer goroutines. Call once at startup.
func (w *Writer) Start() {
	w.wg.Add(2)
	go w.runInferences()
	go w.runFeedback()
}

// Close signals the consumers to flush whatever is buffered and stop, and
// waits up to timeout for them to finish (spec.md §9, "torn down on
// shutdown: flush buffer with a bounded timeout").
func (w *Writer) Close(timeout time.Duration) {
	close(w.done)
	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(timeout):
		slog.Warn("analytics writer: shutdown timeout elapsed with records still flushing")
	}
}

// EnqueueInference hands rec to the background writer. Never blocks: if the
// buffer is full, the oldest buffered record is dropped to make room
// (spec.md §4.H, §5 "Backpressure").
func (w *Writer) EnqueueInference(rec InferenceRecord) {
	enqueue(w.inferenceCh, rec, "inference")
}

// EnqueueFeedback hands rec to the background writer with the same
// never-blocks, drop-oldest-on-overflow policy.
func (w *Writer) EnqueueFeedback(rec FeedbackRecord) {
	enqueue(w.feedbackCh, rec, "feedback")
}

func enqueue[T any](ch chan T, rec T, recordType string) {
	select {
	case ch <- rec:
		return
	default:
	}
	// Buffer full: drop the oldest entry to make room for rec.
	select {
	case <-ch:
		metrics.ObservabilityRecordsDropped.WithLabelValues(recordType).Inc()
	default:
	}
	select {
	case ch <- rec:
	default:
		// A concurrent consumer refilled the freed slot before we could;
		// drop the incoming record instead rather than block the caller.
		metrics.ObservabilityRecordsDropped.WithLabelValues(recordType).Inc()
	}
}

func (w *Writer) runInferences() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]InferenceRecord, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flushInferences(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-w.inferenceCh:
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			w.drainInferences(&batch)
			flush()
			return
		}
	}
}

func (w *Writer) drainInferences(batch *[]InferenceRecord) {
	for {
		select {
		case rec := <-w.inferenceCh:
			*batch = append(*batch, rec)
		default:
			return
		}
	}
}

func (w *Writer) runFeedback() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]FeedbackRecord, 0, w.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flushFeedback(batch)
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-w.feedbackCh:
			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			w.drainFeedback(&batch)
			flush()
			return
		}
	}
}

func (w *Writer) drainFeedback(batch *[]FeedbackRecord) {
	for {
		select {
		case rec := <-w.feedbackCh:
			*batch = append(*batch, rec)
		default:
			return
		}
	}
}

// flushInferences retries the batch against the sink with exponential
// backoff and jitter until it succeeds or the writer is shutting down
// (spec.md §4.H, "On sink error: exponential backoff with jitter; records
// remain in the buffer" — here, remain in-flight in this batch rather than
// being dropped; new enqueues meanwhile may themselves drop-oldest if the
// channel fills while a retry is outstanding).
func (w *Writer) flushInferences(batch []InferenceRecord) {
	cp := make([]InferenceRecord, len(batch))
	copy(cp, batch)
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if err := w.sink.InsertInferences(context.Background(), cp); err == nil {
			return
		} else {
			slog.Warn("analytics: inference batch flush failed, retrying", "attempt", attempt, "error", err)
		}
		select {
		case <-w.done:
			return
		case <-time.After(jitter(backoff)):
		}
		backoff = nextBackoff(backoff)
	}
}

// flushFeedback is flushInferences' counterpart for feedback batches.
func (w *Writer) flushFeedback(batch []FeedbackRecord) {
	cp := make([]FeedbackRecord, len(batch))
	copy(cp, batch)
	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if err := w.sink.InsertFeedback(context.Background(), cp); err == nil {
			return
		} else {
			slog.Warn("analytics: feedback batch flush failed, retrying", "attempt", attempt, "error", err)
		}
		select {
		case <-w.done:
			return
		case <-time.After(jitter(backoff)):
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

// jitter returns a duration uniformly distributed in [d/2, d], so
// concurrent writers retrying after the same failure don't thunder-herd
// the sink.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half+1)))
}
