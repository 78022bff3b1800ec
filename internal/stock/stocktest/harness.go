package stocktest

import (
	"context"
	"sync"

	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/pkg/logger"
)

// EventRecorder keeps every event published on a bus
type EventRecorder struct {
	mu     sync.Mutex
	events []service.DomainEvent
}

// Handle records the event
func (r *EventRecorder) Handle(_ context.Context, ev service.DomainEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Named returns the recorded events with the given name
func (r *EventRecorder) Named(name string) []service.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []service.DomainEvent
	for _, ev := range r.events {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets every recorded event
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Harness wires the stock services on top of a MemoryStore the same way
// the service binary does
type Harness struct {
	Store    *MemoryStore
	Fixtures *FixtureFactory
	Bus      *service.EventBus
	Events   *EventRecorder
	Catalog  *service.CatalogService
	Ledger   *service.LedgerService
	Engine   *service.AllocationEngine
	Shortage *service.ShortageWorkflow
}

// NewHarness creates services over an empty store
func NewHarness() *Harness {
	log := logger.Nop()
	store := NewMemoryStore()
	stores := store.Stores()

	bus := service.NewEventBus(log)
	uow := service.NewUnitOfWork(store, bus, 3, log)

	catalog := service.NewCatalogService(uow, stores, log)
	ledger := service.NewLedgerService(uow, catalog, stores, log)
	engine := service.NewAllocationEngine(uow, ledger, stores, nil, log)
	shortage := service.NewShortageWorkflow(uow, stores, log)

	recorder := &EventRecorder{}
	bus.Subscribe(recorder.Handle)
	bus.Subscribe(shortage.HandleEvent)

	return &Harness{
		Store:    store,
		Fixtures: NewFixtureFactory(store),
		Bus:      bus,
		Events:   recorder,
		Catalog:  catalog,
		Ledger:   ledger,
		Engine:   engine,
		Shortage: shortage,
	}
}
