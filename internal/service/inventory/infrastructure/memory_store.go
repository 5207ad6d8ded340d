package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nayanjcode/OBAI-InventoryService/internal/service/inventory/domain"
)

// MemoryStore 是进程内的 domain.Store 实现，用于 storage.driver=memory 和测试。
// 事务通过撤销日志实现：fn 出错时按逆序回放撤销操作。
type MemoryStore struct {
	mu           sync.Mutex
	txMu         sync.Mutex // 事务之间串行
	products     map[uuid.UUID]domain.Product
	reservations map[int64]domain.Reservation
	settlements  map[uuid.UUID]domain.Settlement
	nextID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[uuid.UUID]domain.Product),
		reservations: make(map[int64]domain.Reservation),
		settlements:  make(map[uuid.UUID]domain.Settlement),
	}
}

func (s *MemoryStore) Products() domain.ProductRepository         { return memProducts{s: s} }
func (s *MemoryStore) Reservations() domain.ReservationRepository { return memReservations{s: s} }
func (s *MemoryStore) Settlements() domain.SettlementRepository   { return memSettlements{s: s} }

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(tx domain.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

type memTx struct {
	s    *MemoryStore
	undo []func()
}

func (t *memTx) Products() domain.ProductRepository         { return memProducts{s: t.s, tx: t} }
func (t *memTx) Reservations() domain.ReservationRepository { return memReservations{s: t.s, tx: t} }
func (t *memTx) Settlements() domain.SettlementRepository   { return memSettlements{s: t.s, tx: t} }

// WithinTx 嵌套事务并入外层
func (t *memTx) WithinTx(_ context.Context, fn func(tx domain.Store) error) error {
	return fn(t)
}

// record 必须在持有 s.mu 时调用
func (t *memTx) record(f func()) {
	if t != nil {
		t.undo = append(t.undo, f)
	}
}

func (t *memTx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

type memProducts struct {
	s  *MemoryStore
	tx *memTx
}

func (r memProducts) FindByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return &p, nil
}

func (r memProducts) FindAll(_ context.Context) ([]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID.String() < out[j].ProductID.String() })
	return out, nil
}

func (r memProducts) Save(_ context.Context, product *domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, existed := r.s.products[product.ProductID]
	r.s.products[product.ProductID] = *product
	r.tx.record(func() {
		if existed {
			r.s.products[product.ProductID] = prev
		} else {
			delete(r.s.products, product.ProductID)
		}
	})
	return nil
}

func (r memProducts) DeductQuantity(_ context.Context, id uuid.UUID, amount int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	prev := p
	p.Quantity -= amount
	p.LastUpdated = time.Now()
	r.s.products[id] = p
	r.tx.record(func() { r.s.products[id] = prev })
	return nil
}

type memReservations struct {
	s  *MemoryStore
	tx *memTx
}

func (r memReservations) Insert(_ context.Context, res *domain.Reservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextID++
	res.ID = r.s.nextID
	r.s.reservations[res.ID] = *res
	id := res.ID
	r.tx.record(func() { delete(r.s.reservations, id) })
	return nil
}

func (r memReservations) SumByProduct(_ context.Context, productID uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sum := 0
	for _, res := range r.s.reservations {
		if res.ProductID == productID {
			sum += res.ReservedQuantity
		}
	}
	return sum, nil
}

func (r memReservations) ListByOrder(_ context.Context, orderID uuid.UUID) ([]domain.Reservation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Reservation
	for _, res := range r.s.reservations {
		if res.OrderID == orderID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r memReservations) DeleteByOrder(_ context.Context, orderID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var removed []domain.Reservation
	for id, res := range r.s.reservations {
		if res.OrderID == orderID {
			removed = append(removed, res)
			delete(r.s.reservations, id)
		}
	}
	r.tx.record(func() {
		for _, res := range removed {
			r.s.reservations[res.ID] = res
		}
	})
	return int64(len(removed)), nil
}

func (r memReservations) ListOrdersCreatedBefore(_ context.Context, before time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, res := range r.s.reservations {
		if !res.CreatedAt.Before(before) {
			continue
		}
		if _, ok := seen[res.OrderID]; ok {
			continue
		}
		seen[res.OrderID] = struct{}{}
		out = append(out, res.OrderID)
	}
	return out, nil
}

type memSettlements struct {
	s  *MemoryStore
	tx *memTx
}

func (r memSettlements) FindByOrder(_ context.Context, orderID uuid.UUID) (*domain.Settlement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.settlements[orderID]
	if !ok {
		return nil, domain.ErrSettlementNotFound
	}
	return &st, nil
}

func (r memSettlements) Save(_ context.Context, st *domain.Settlement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.settlements[st.OrderID]; ok {
		return nil
	}
	r.s.settlements[st.OrderID] = *st
	orderID := st.OrderID
	r.tx.record(func() { delete(r.s.settlements, orderID) })
	return nil
}
