package service

import (
	"context"
	"sync"

	"github.com/stockflow/stockflow-backend/pkg/errors"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

type collectorKey struct{}

// collector buffers the events raised inside one unit of work
type collector struct {
	mu     sync.Mutex
	events []DomainEvent
}

// UnitOfWork runs service mutations in one transaction, retries them when a
// versioned update loses a race and dispatches the events they raised once
// the outermost transaction has committed.
type UnitOfWork struct {
	tx         Transactor
	bus        *EventBus
	maxRetries int
	logger     *logger.Logger
}

// NewUnitOfWork creates a unit of work. maxRetries below 1 means one attempt.
func NewUnitOfWork(tx Transactor, bus *EventBus, maxRetries int, log *logger.Logger) *UnitOfWork {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &UnitOfWork{
		tx:         tx,
		bus:        bus,
		maxRetries: maxRetries,
		logger:     log.WithComponent("unit_of_work"),
	}
}

// Do runs fn in a transaction. Called from inside another unit it joins the
// open transaction, and its events are dispatched with the outer unit's.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(collectorKey{}).(*collector); ok {
		return u.tx.WithTx(ctx, fn)
	}

	var err error
	for attempt := 1; attempt <= u.maxRetries; attempt++ {
		c := &collector{}
		err = u.tx.WithTx(context.WithValue(ctx, collectorKey{}, c), fn)
		if err == nil {
			u.bus.Publish(ctx, c.events...)
			return nil
		}
		if !errors.Is(err, errors.ErrConcurrentUpdate) {
			return err
		}
		u.logger.Warn().Err(err).Int("attempt", attempt).Msg("version conflict, retrying")
	}

	return errors.ConcurrentUpdate(err)
}

// emit queues events on the unit of work bound to ctx. Events raised by an
// attempt that rolls back are discarded with it.
func emit(ctx context.Context, events ...DomainEvent) {
	c, ok := ctx.Value(collectorKey{}).(*collector)
	if !ok {
		return
	}
	c.mu.Lock()
	c.events = append(c.events, events...)
	c.mu.Unlock()
}
