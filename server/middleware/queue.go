package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue/v2"

	"github.com/assettelematics/finbot/server/metrics"
)

// queueContextKey is a custom type for queue-specific context keys to avoid collisions
type queueContextKey string

const queuePositionKey queueContextKey = "queue_position"

// QueueMiddleware bounds the number of in-flight chat requests. Incoming
// requests join a FIFO queue when space is available and are rejected with
// 503 when it is full. Each queued request gets a completion channel whose
// close releases its slot, so cleanup happens even when a handler panics.
// Queue capacity survives restarts when a state path is configured.
type QueueMiddleware struct {
	queue         *queue.Queue[chan struct{}] // completion channels, FIFO
	maxSize       atomic.Int64
	mu            sync.RWMutex // protects queue operations
	processing    int32
	metrics       *metrics.Metrics
	statePath     string
	persistTicker *time.Ticker
	done          chan struct{}
}

// QueueState is the persisted queue configuration, restored on restart.
type QueueState struct {
	MaxSize     int64     `json:"max_size"`
	QueueLength int       `json:"queue_length"`
	LastSaved   time.Time `json:"last_saved"`
}

// QueueConfig defines the operational parameters for the queue middleware.
// An empty StatePath disables persistence.
type QueueConfig struct {
	InitialSize  int64
	Metrics      *metrics.Metrics
	StatePath    string
	SaveInterval time.Duration
}

// NewQueueMiddleware initializes the queue. If persistence is configured it
// restores the previous max size, falling back to InitialSize when no saved
// state exists, and starts the periodic save loop.
func NewQueueMiddleware(cfg QueueConfig) *QueueMiddleware {
	qm := &QueueMiddleware{
		queue:     queue.New[chan struct{}](),
		metrics:   cfg.Metrics,
		statePath: cfg.StatePath,
		done:      make(chan struct{}),
	}

	qm.maxSize.Store(cfg.InitialSize)

	if cfg.StatePath != "" {
		if err := qm.loadState(); err != nil {
			if qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_load_state").Inc()
			}
		}

		if cfg.SaveInterval > 0 {
			qm.persistTicker = time.NewTicker(cfg.SaveInterval)
			go qm.persistStateRoutine()
		}
	}

	return qm
}

func (qm *QueueMiddleware) loadState() error {
	if qm.statePath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(qm.statePath), 0755); err != nil {
		return err
	}

	data, err := os.ReadFile(qm.statePath)
	if err != nil {
		return err
	}

	var state QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}

	qm.maxSize.Store(state.MaxSize)
	return nil
}

// saveState writes the current state atomically via a temp file rename.
func (qm *QueueMiddleware) saveState() error {
	if qm.statePath == "" {
		return nil
	}

	qm.mu.RLock()
	state := QueueState{
		MaxSize:     qm.maxSize.Load(),
		QueueLength: qm.queue.Length(),
		LastSaved:   time.Now(),
	}
	qm.mu.RUnlock()

	data, err := json.Marshal(state)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(qm.statePath), 0755); err != nil {
		return err
	}

	tmpFile := qm.statePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpFile, qm.statePath)
}

func (qm *QueueMiddleware) persistStateRoutine() {
	for {
		select {
		case <-qm.persistTicker.C:
			if err := qm.saveState(); err != nil {
				if qm.metrics != nil {
					qm.metrics.ErrorsTotal.WithLabelValues("queue_persistence").Inc()
				}
			}
		case <-qm.done:
			if qm.persistTicker != nil {
				qm.persistTicker.Stop()
			}
			// Final save on shutdown
			_ = qm.saveState()
			return
		}
	}
}

// Shutdown stops the queue, waiting up to 5 seconds for in-flight requests
// to drain before the final state save.
func (qm *QueueMiddleware) Shutdown(ctx context.Context) error {
	select {
	case <-qm.done:
		// already closed
	default:
		close(qm.done)
	}

	if qm.persistTicker != nil {
		qm.persistTicker.Stop()
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		qm.mu.RLock()
		if qm.queue.Length() == 0 && atomic.LoadInt32(&qm.processing) == 0 {
			qm.mu.RUnlock()
			if err := qm.saveState(); err != nil && qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_persistence").Inc()
			}
			return nil
		}
		qm.mu.RUnlock()
		select {
		case <-ctx.Done():
			if qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_shutdown_timeout").Inc()
			}
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	if qm.metrics != nil {
		qm.metrics.ErrorsTotal.WithLabelValues("queue_shutdown_timeout").Inc()
	}
	return nil
}

// SetMaxSize updates the maximum number of queued requests. Takes effect
// immediately; new requests are rejected once the new limit is reached.
func (qm *QueueMiddleware) SetMaxSize(size int64) {
	qm.maxSize.Store(size)
	if qm.statePath != "" {
		go func() {
			if err := qm.saveState(); err != nil && qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_persistence").Inc()
			}
		}()
	}
}

// GetQueueSize returns the current queue length.
func (qm *QueueMiddleware) GetQueueSize() int {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.queue.Length()
}

// GetMaxSize returns the current maximum queue size.
func (qm *QueueMiddleware) GetMaxSize() int64 {
	return qm.maxSize.Load()
}

// GetProcessing returns the number of requests currently being processed.
func (qm *QueueMiddleware) GetProcessing() int32 {
	return atomic.LoadInt32(&qm.processing)
}

// Handler queues the request, rejects it when the queue is full, and
// releases the slot when the wrapped handler returns. The request's queue
// position at admission is exposed via context.
func (qm *QueueMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		qm.mu.Lock()
		currentSize := qm.queue.Length()
		maxSize := qm.maxSize.Load()

		if qm.metrics != nil {
			qm.metrics.ActiveRequests.WithLabelValues("queued").Set(float64(currentSize))
		}

		if int64(currentSize) >= maxSize {
			qm.mu.Unlock()
			if qm.metrics != nil {
				qm.metrics.ErrorsTotal.WithLabelValues("queue_full").Inc()
			}
			http.Error(w, "Queue is full", http.StatusServiceUnavailable)
			return
		}

		done := make(chan struct{})
		qm.queue.Add(done)
		qm.mu.Unlock()

		atomic.AddInt32(&qm.processing, 1)
		if qm.metrics != nil {
			qm.metrics.ActiveRequests.WithLabelValues("processing").Inc()
		}

		defer func() {
			atomic.AddInt32(&qm.processing, -1)
			if qm.metrics != nil {
				qm.metrics.ActiveRequests.WithLabelValues("processing").Dec()
			}
			close(done)
			qm.mu.Lock()
			qm.queue.Remove()
			if qm.metrics != nil {
				qm.metrics.ActiveRequests.WithLabelValues("queued").Set(float64(qm.queue.Length()))
			}
			qm.mu.Unlock()

			if qm.metrics != nil {
				qm.metrics.RequestDuration.WithLabelValues("queue_wait").Observe(time.Since(start).Seconds())
			}
		}()

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), queuePositionKey, currentSize)))
	})
}
