package controller

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/voicepay/internal/eventstore"
)

// journal writes to the event store off the loop goroutine. Writes are
// dropped when the store falls behind; the journal is diagnostic only.
type journal struct {
	store  *eventstore.Store
	logger *slog.Logger
	ops    chan func(context.Context) error
	done   chan struct{}
}

func newJournal(store *eventstore.Store, logger *slog.Logger, size int) *journal {
	j := &journal{store: store, logger: logger, done: make(chan struct{})}
	if !store.Enabled() {
		close(j.done)
		return j
	}
	j.ops = make(chan func(context.Context) error, size)
	go j.run()
	return j
}

func (j *journal) run() {
	defer close(j.done)
	for op := range j.ops {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := op(ctx); err != nil {
			j.logger.Warn("journal write failed", slogError(err))
		}
		cancel()
	}
}

func (j *journal) openSession(id, origin, language string) {
	j.enqueue(func(ctx context.Context) error {
		return j.store.OpenSession(ctx, id, origin, language)
	})
}

func (j *journal) record(e eventstore.Entry) {
	j.enqueue(func(ctx context.Context) error {
		return j.store.Record(ctx, e)
	})
}

func (j *journal) enqueue(op func(context.Context) error) {
	if j.ops == nil {
		return
	}
	select {
	case j.ops <- op:
	default:
		j.logger.Debug("journal queue full, dropping entry")
	}
}

// close flushes pending writes. Only the loop goroutine enqueues, so it must
// call close after it stops.
func (j *journal) close() {
	if j.ops != nil {
		close(j.ops)
	}
	<-j.done
}
