// Package stocktest provides in-memory stores and fixtures for testing the
// stock services and handlers without PostgreSQL.
package stocktest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stockflow/stockflow-backend/internal/stock/repository"
	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/pkg/errors"
)

type txKey struct{}

type state struct {
	items         map[string]*repository.StockItem
	allocations   map[string]*repository.AllocationRecord
	movements     []*repository.Movement
	notifications []*repository.Notification
	recipients    map[string]*repository.Recipient
	seq           int64
}

func (s *state) clone() *state {
	c := &state{
		items:         make(map[string]*repository.StockItem, len(s.items)),
		allocations:   make(map[string]*repository.AllocationRecord, len(s.allocations)),
		movements:     make([]*repository.Movement, len(s.movements)),
		notifications: make([]*repository.Notification, len(s.notifications)),
		recipients:    make(map[string]*repository.Recipient, len(s.recipients)),
		seq:           s.seq,
	}
	for k, v := range s.items {
		c.items[k] = copyItem(v)
	}
	for k, v := range s.allocations {
		c.allocations[k] = copyAllocation(v)
	}
	for i, v := range s.movements {
		m := *v
		c.movements[i] = &m
	}
	for i, v := range s.notifications {
		n := *v
		c.notifications[i] = &n
	}
	for k, v := range s.recipients {
		r := *v
		c.recipients[k] = &r
	}
	return c
}

// MemoryStore keeps every stock table in memory. Transactions are
// serialised and roll back to a snapshot when they fail, which stands in
// for the row locks of the PostgreSQL repositories.
type MemoryStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   *state

	conflicts int
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: &state{
		items:       map[string]*repository.StockItem{},
		allocations: map[string]*repository.AllocationRecord{},
		recipients:  map[string]*repository.Recipient{},
	}}
}

// Stores returns the store wired as service dependencies
func (s *MemoryStore) Stores() service.Stores {
	return service.Stores{
		Tx:            s,
		Items:         &Items{s},
		Movements:     &Movements{s},
		Allocations:   &Allocations{s},
		Notifications: &Notifications{s},
		Recipients:    &Recipients{s},
	}
}

// WithTx runs fn in a serialised transaction. A nested call joins it.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, true))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// InjectConflicts makes the next n versioned updates fail with
// ErrConcurrentUpdate, as if another writer got there first
func (s *MemoryStore) InjectConflicts(n int) {
	s.mu.Lock()
	s.conflicts = n
	s.mu.Unlock()
}

// AllMovements returns every movement of an item in posting order
func (s *MemoryStore) AllMovements(itemID string) []*repository.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Movement
	for _, m := range s.st.movements {
		if m.StockItemID == itemID {
			c := *m
			out = append(out, &c)
		}
	}
	return out
}

// AllNotifications returns every stored notification in creation order
func (s *MemoryStore) AllNotifications() []*repository.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*repository.Notification, len(s.st.notifications))
	for i, n := range s.st.notifications {
		c := *n
		out[i] = &c
	}
	return out
}

func (s *MemoryStore) takeConflict() bool {
	if s.conflicts > 0 {
		s.conflicts--
		return true
	}
	return false
}

// Items implements service.ItemStore
type Items struct{ s *MemoryStore }

func (r *Items) Create(_ context.Context, item *repository.StockItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.st.items {
		if existing.Reference == item.Reference {
			return errors.DuplicateReference(item.Reference)
		}
	}
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now()
	item.Version, item.CreatedAt, item.UpdatedAt = 1, now, now
	r.s.st.items[item.ID] = copyItem(item)
	return nil
}

func (r *Items) GetByID(_ context.Context, id string) (*repository.StockItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.st.items[id]
	if !ok {
		return nil, errors.NotFound("stock item")
	}
	return copyItem(item), nil
}

func (r *Items) GetByIDForUpdate(ctx context.Context, id string) (*repository.StockItem, error) {
	return r.GetByID(ctx, id)
}

func (r *Items) ExistsByReference(_ context.Context, reference string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, item := range r.s.st.items {
		if item.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (r *Items) List(_ context.Context, filter repository.ItemFilter, page, perPage int) ([]*repository.StockItem, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	search := strings.ToLower(filter.Search)
	var out []*repository.StockItem
	for _, item := range r.s.st.items {
		if search != "" && !strings.Contains(strings.ToLower(item.Reference), search) && !strings.Contains(strings.ToLower(item.Label), search) {
			continue
		}
		if filter.BelowThreshold && !item.IsBelowThreshold() {
			continue
		}
		out = append(out, copyItem(item))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return paginate(out, page, perPage), int64(len(out)), nil
}

func (r *Items) ListBelowThreshold(_ context.Context) ([]*repository.StockItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*repository.StockItem
	for _, item := range r.s.st.items {
		if item.IsBelowThreshold() {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reference < out[j].Reference })
	return out, nil
}

func (r *Items) Update(_ context.Context, item *repository.StockItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.st.items[item.ID]
	if !ok || stored.Version != item.Version || r.s.takeConflict() {
		return fmt.Errorf("stock item %s: %w", item.ID, errors.ErrConcurrentUpdate)
	}
	if item.Quantity.IsNegative() {
		return errors.InsufficientStock(item.Quantity.Neg().String(), "0", item.Quantity.Neg().String())
	}
	item.Version++
	item.UpdatedAt = time.Now()
	r.s.st.items[item.ID] = copyItem(item)
	return nil
}

func (r *Items) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.items[id]; !ok {
		return errors.NotFound("stock item")
	}
	for _, m := range r.s.st.movements {
		if m.StockItemID == id {
			return errors.Conflict("stock item is still referenced")
		}
	}
	for _, a := range r.s.st.allocations {
		if a.StockItemID == id {
			return errors.Conflict("stock item is still referenced")
		}
	}
	delete(r.s.st.items, id)
	return nil
}

// Movements implements service.MovementStore
type Movements struct{ s *MemoryStore }

func (r *Movements) Create(_ context.Context, m *repository.Movement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if !m.Quantity.IsPositive() {
		return errors.InvalidQuantity("quantity", "must be positive")
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	r.s.st.seq++
	m.Seq = r.s.st.seq
	m.CreatedAt = time.Now()
	c := *m
	r.s.st.movements = append(r.s.st.movements, &c)
	return nil
}

func (r *Movements) ListByItem(_ context.Context, itemID string, page, perPage int) ([]*repository.Movement, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*repository.Movement
	for i := len(r.s.st.movements) - 1; i >= 0; i-- {
		if m := r.s.st.movements[i]; m.StockItemID == itemID {
			c := *m
			out = append(out, &c)
		}
	}
	return paginate(out, page, perPage), int64(len(out)), nil
}

func (r *Movements) ListByItemChronological(_ context.Context, itemID string) ([]*repository.Movement, error) {
	return r.s.AllMovements(itemID), nil
}

func (r *Movements) ListByAllocation(_ context.Context, allocationID string) ([]*repository.Movement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*repository.Movement
	for _, m := range r.s.st.movements {
		if m.AllocationID != nil && *m.AllocationID == allocationID {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *Movements) CountByItem(ctx context.Context, itemID string) (int64, error) {
	return int64(len(r.s.AllMovements(itemID))), nil
}

func (r *Movements) CountByAllocation(ctx context.Context, allocationID string) (int64, error) {
	out, _ := r.ListByAllocation(ctx, allocationID)
	return int64(len(out)), nil
}

// Allocations implements service.AllocationStore
type Allocations struct{ s *MemoryStore }

func (r *Allocations) Create(_ context.Context, a *repository.AllocationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.allocations {
		if existing.WorkItemType == a.WorkItemType && existing.WorkItemID == a.WorkItemID && existing.StockItemID == a.StockItemID {
			return errors.Conflict("stock item is already allocated to this work item")
		}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now()
	a.Version, a.CreatedAt, a.UpdatedAt = 1, now, now
	r.s.st.allocations[a.ID] = copyAllocation(a)
	return nil
}

func (r *Allocations) GetByID(_ context.Context, id string) (*repository.AllocationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.st.allocations[id]
	if !ok {
		return nil, errors.NotFound("allocation record")
	}
	return copyAllocation(a), nil
}

func (r *Allocations) GetByIDForUpdate(ctx context.Context, id string) (*repository.AllocationRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *Allocations) ListByWorkItem(_ context.Context, wi repository.WorkItem) ([]*repository.AllocationRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*repository.AllocationRecord
	for _, a := range r.s.st.allocations {
		if a.WorkItemType == wi.Type && a.WorkItemID == wi.ID {
			out = append(out, copyAllocation(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Allocations) CountByItem(_ context.Context, itemID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, a := range r.s.st.allocations {
		if a.StockItemID == itemID {
			n++
		}
	}
	return n, nil
}

func (r *Allocations) Update(_ context.Context, a *repository.AllocationRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.st.allocations[a.ID]
	if !ok || stored.Version != a.Version || r.s.takeConflict() {
		return fmt.Errorf("allocation record %s: %w", a.ID, errors.ErrConcurrentUpdate)
	}
	total := a.Total()
	if a.ActualQuantityUsed.Valid && (a.ActualQuantityUsed.Decimal.IsNegative() || a.ActualQuantityUsed.Decimal.GreaterThan(total)) {
		return errors.InvalidQuantity("allocation", "quantities out of bounds")
	}
	if a.RemainingQuantity.Valid && (a.RemainingQuantity.Decimal.IsNegative() || a.RemainingQuantity.Decimal.GreaterThan(total)) {
		return errors.InvalidQuantity("allocation", "quantities out of bounds")
	}
	a.Version++
	a.UpdatedAt = time.Now()
	r.s.st.allocations[a.ID] = copyAllocation(a)
	return nil
}

func (r *Allocations) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.allocations[id]; !ok {
		return errors.NotFound("allocation record")
	}
	delete(r.s.st.allocations, id)
	return nil
}

// Notifications implements service.NotificationStore
type Notifications struct{ s *MemoryStore }

func (r *Notifications) Create(_ context.Context, n *repository.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.IsRead = false
	n.CreatedAt = time.Now()
	c := *n
	r.s.st.notifications = append(r.s.st.notifications, &c)
	return nil
}

func (r *Notifications) CreateStockAlert(_ context.Context, n *repository.Notification) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if n.StockItemID == nil {
		return false, errors.Validation(map[string]string{"stock_item_id": "is required"})
	}
	for _, existing := range r.s.st.notifications {
		if existing.RecipientID == n.RecipientID && existing.Category == repository.CategoryStockAlert && !existing.IsRead &&
			existing.StockItemID != nil && *existing.StockItemID == *n.StockItemID {
			return false, nil
		}
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.Category = repository.CategoryStockAlert
	n.IsRead = false
	n.CreatedAt = time.Now()
	c := *n
	r.s.st.notifications = append(r.s.st.notifications, &c)
	return true, nil
}

func (r *Notifications) ListByRecipient(_ context.Context, recipientID string, unreadOnly bool, page, perPage int) ([]*repository.Notification, int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*repository.Notification
	for i := len(r.s.st.notifications) - 1; i >= 0; i-- {
		n := r.s.st.notifications[i]
		if n.RecipientID != recipientID || (unreadOnly && n.IsRead) {
			continue
		}
		c := *n
		out = append(out, &c)
	}
	return paginate(out, page, perPage), int64(len(out)), nil
}

func (r *Notifications) MarkRead(_ context.Context, id, recipientID string) (*repository.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range r.s.st.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			if !n.IsRead {
				now := time.Now()
				n.IsRead, n.ReadAt = true, &now
			}
			c := *n
			return &c, nil
		}
	}
	return nil, errors.NotFound("notification")
}

func (r *Notifications) CountUnread(_ context.Context, recipientID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var count int64
	for _, n := range r.s.st.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// Recipients implements service.RecipientDirectory
type Recipients struct{ s *MemoryStore }

// Set creates or replaces a recipient
func (r *Recipients) Set(_ context.Context, rcpt *repository.Recipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *rcpt
	r.s.st.recipients[rcpt.UserID] = &c
	return nil
}

func (r *Recipients) ListByRoles(_ context.Context, roles []string) ([]*repository.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	wanted := make(map[string]bool, len(roles))
	for _, role := range roles {
		wanted[role] = true
	}
	var out []*repository.Recipient
	for _, rcpt := range r.s.st.recipients {
		if rcpt.RoleName != nil && wanted[*rcpt.RoleName] {
			c := *rcpt
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func copyItem(i *repository.StockItem) *repository.StockItem {
	c := *i
	return &c
}

func copyAllocation(a *repository.AllocationRecord) *repository.AllocationRecord {
	c := *a
	return &c
}

func paginate[T any](in []T, page, perPage int) []T {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		return in
	}
	start := (page - 1) * perPage
	if start >= len(in) {
		return []T{}
	}
	end := start + perPage
	if end > len(in) {
		end = len(in)
	}
	return in[start:end]
}
