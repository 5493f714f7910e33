package async

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Anivie/gpt-cat/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous batch writes so that
// recording never delays a client response. Entries still queued when the
// process crashes are lost.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	logger        *log.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // Maximum entries per batch (default: 100)
	FlushInterval time.Duration // Maximum time between flushes (default: 1s)
	ChannelBuffer int           // Queue capacity before entries are dropped (default: 10000)
	NumWorkers    int           // Number of parallel batch writers (default: 1)
	Logger        *log.Logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		logger:        cfg.Logger,
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}
	s.logf("started %d worker(s), batch_size=%d, flush_interval=%v, buffer=%d",
		cfg.NumWorkers, cfg.BatchSize, cfg.FlushInterval, cfg.ChannelBuffer)
	return s
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf("[async-ledger] "+format, args...)
	}
}

// batchWriter collects entries until the batch is full or the interval
// passes. It drains the queue and returns once the queue is closed.
func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		failed := 0
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil {
				failed++
				s.logf("worker-%d ERROR writing %s: %v", workerID, entry.RequestID, err)
			}
		}
		if failed > 0 {
			s.logf("worker-%d flushed %d/%d entries", workerID, len(batch)-failed, len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.entryChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Record queues an entry without blocking. A full queue drops the entry.
func (s *Store) Record(_ context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	select {
	case s.entryChan <- entry:
	default:
		s.dropped.Add(1)
		s.logf("WARNING: queue full, dropping entry %s", entry.RequestID)
	}
	return nil
}

// Dropped is the number of entries lost to a full queue.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Summary delegates to the underlying store. Queued entries are not included.
func (s *Store) Summary(ctx context.Context, accountID int64) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, accountID)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// Close flushes queued entries and closes the underlying store. Records
// arriving afterwards are ignored.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.entryChan)
	s.mu.Unlock()
	s.wg.Wait()
	return s.underlying.Close()
}
