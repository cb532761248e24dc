package usage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alucardeht/hotcmd/internal/logger"
)

var log = logger.ForComponent("usage")

type WriterConfig struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		QueueSize:     1000,
		BatchSize:     64,
		FlushInterval: 500 * time.Millisecond,
	}
}

type WriterStats struct {
	Written int64
	Dropped int64
	Failed  int64
}

// Writer moves records from the dispatch path to the Store on its own
// goroutine. Enqueue never blocks; a full queue drops the record.
type Writer struct {
	store  *Store
	config WriterConfig
	queue  chan Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func NewWriter(store *Store, config WriterConfig) *Writer {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultWriterConfig().QueueSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultWriterConfig().BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultWriterConfig().FlushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Writer{
		store:  store,
		config: config,
		queue:  make(chan Record, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.run()
	log.Info("usage writer started", "queue", w.config.QueueSize, "batch", w.config.BatchSize)
}

func (w *Writer) Enqueue(r Record) bool {
	select {
	case <-w.ctx.Done():
		w.dropped.Add(1)
		return false
	default:
	}

	select {
	case w.queue <- r:
		return true
	default:
		w.dropped.Add(1)
		log.Warn("usage record dropped - queue full", "command", r.Command, "invocation", r.InvocationID)
		return false
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, w.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.store.Insert(context.Background(), batch...); err != nil {
			w.failed.Add(int64(len(batch)))
			log.Error("failed to persist usage records", "count", len(batch), "error", err)
		} else {
			w.written.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-w.ctx.Done():
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
					if len(batch) >= w.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}

		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= w.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}

// Stop drains what is queued and returns once it has been written.
func (w *Writer) Stop() {
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
		log.Info("usage writer stopped", "written", w.written.Load(), "dropped", w.dropped.Load())
	})
}

func (w *Writer) Stats() WriterStats {
	return WriterStats{
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}
