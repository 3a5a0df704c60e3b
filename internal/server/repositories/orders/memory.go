package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mamyekta/novabot/internal/common"
	"github.com/mamyekta/novabot/internal/server/models"
)

// MemoryRepository is an in-memory Repository used by tests and dev mode.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[int64]*models.Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[int64]*models.Order)}
}

func (r *MemoryRepository) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; ok {
		return nil, common.ErrDuplicateOrderID
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	c := cloneOrder(order)
	r.orders[order.ID] = c
	return order, nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *MemoryRepository) Update(ctx context.Context, order *models.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[order.ID]; !ok {
		return common.ErrNotFound
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return common.ErrNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *MemoryRepository) ListByState(ctx context.Context, state models.OrderState) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.Order
	for _, o := range r.orders {
		if o.State == state {
			result = append(result, cloneOrder(o))
		}
	}
	sortByCreation(result)
	return result, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID int64, state models.OrderState) ([]*models.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.Order
	for _, o := range r.orders {
		if o.UserID == userID && o.State == state {
			result = append(result, cloneOrder(o))
		}
	}
	sortByCreation(result)
	return result, nil
}

func (r *MemoryRepository) CountWaitingByAmount(ctx context.Context, amountRials int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, o := range r.orders {
		if o.State == models.OrderWaiting && o.AmountRials == amountRials {
			n++
		}
	}
	return n, nil
}

func cloneOrder(o *models.Order) *models.Order {
	c := *o
	if o.PendingMsgRefs != nil {
		c.PendingMsgRefs = append([]int(nil), o.PendingMsgRefs...)
	}
	return &c
}

func sortByCreation(orders []*models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
}
