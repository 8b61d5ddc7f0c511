// Package memory implementa el almacén de cantidades y el libro de movimientos en memoria.
// Reproduce la semántica del adaptador PostgreSQL: bloqueo de fila por producto
// (equivalente a SELECT ... FOR UPDATE) y escrituras de la transacción aplicadas
// juntas en el Commit o descartadas en el Rollback.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var _ inventory.TxRunner = (*Store)(nil)

// Store estado compartido. mu protege los mapas; rowLocks serializa escritores por producto.
type Store struct {
	mu        sync.RWMutex
	products  map[string]*entity.Product
	movements map[string]*entity.StockMovement
	byKey     map[string]string
	byProduct map[string][]string

	locksMu  sync.Mutex
	rowLocks map[string]chan struct{}
}

// NewStore crea un almacén vacío.
func NewStore() *Store {
	return &Store{
		products:  make(map[string]*entity.Product),
		movements: make(map[string]*entity.StockMovement),
		byKey:     make(map[string]string),
		byProduct: make(map[string][]string),
		rowLocks:  make(map[string]chan struct{}),
	}
}

// PutProduct registra o reemplaza un producto (datos maestros gestionados fuera del libro).
func (s *Store) PutProduct(p entity.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	s.products[p.ID] = &p
}

// Stock repositorio fuera de transacción. AtomicAdjust abre su propia transacción.
func (s *Store) Stock() repository.StockRepository { return storeStock{s: s} }

// Movements repositorio de solo lectura sobre los movimientos confirmados.
func (s *Store) Movements() repository.StockMovementRepository { return storeMovements{s: s} }

// Products repositorio de lectura de productos.
func (s *Store) Products() repository.ProductRepository { return storeProducts{s: s} }

// Run ejecuta fn en una transacción. Las escrituras se aplican solo si fn no devuelve error.
func (s *Store) Run(ctx context.Context, fn func(
	movRepo repository.StockMovementRepository,
	stockRepo repository.StockRepository,
) error) error {
	tx := &memTx{s: s, deltas: make(map[string]int64)}
	defer tx.release()

	if err := fn(txMovements{tx}, txStock{tx}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (s *Store) rowLock(productID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.rowLocks[productID]
	if !ok {
		l = make(chan struct{}, 1)
		s.rowLocks[productID] = l
	}
	return l
}

func (s *Store) committedQuantity(productID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return p.Quantity, nil
}

func (s *Store) movementByKey(key string) *entity.StockMovement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil
	}
	m := *s.movements[id]
	return &m
}

// memTx escrituras pendientes y bloqueos de fila tomados por una transacción.
type memTx struct {
	s       *Store
	held    []string
	deltas  map[string]int64
	created []*entity.StockMovement
}

func (tx *memTx) holds(productID string) bool {
	for _, id := range tx.held {
		if id == productID {
			return true
		}
	}
	return false
}

func (tx *memTx) lock(ctx context.Context, productID string) error {
	if tx.holds(productID) {
		return nil
	}
	select {
	case tx.s.rowLock(productID) <- struct{}{}:
		tx.held = append(tx.held, productID)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tx *memTx) release() {
	for _, id := range tx.held {
		<-tx.s.rowLock(id)
	}
	tx.held = nil
}

func (tx *memTx) quantity(productID string) (int64, error) {
	q, err := tx.s.committedQuantity(productID)
	if err != nil {
		return 0, err
	}
	return q + tx.deltas[productID], nil
}

func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range tx.created {
		if m.IdempotencyKey == "" {
			continue
		}
		if _, dup := s.byKey[m.IdempotencyKey]; dup {
			return domain.ErrDuplicate
		}
	}
	for id, d := range tx.deltas {
		p, ok := s.products[id]
		if !ok {
			return domain.ErrNotFound
		}
		if p.Quantity+d < 0 {
			return domain.ErrNegativeStock
		}
	}

	now := time.Now()
	for id, d := range tx.deltas {
		p := *s.products[id]
		p.Quantity += d
		p.UpdatedAt = now
		s.products[id] = &p
	}
	for _, m := range tx.created {
		s.movements[m.ID] = m
		s.byProduct[m.ProductID] = append(s.byProduct[m.ProductID], m.ID)
		if m.IdempotencyKey != "" {
			s.byKey[m.IdempotencyKey] = m.ID
		}
	}
	return nil
}

// txStock vista del almacén de cantidades dentro de la transacción.
type txStock struct{ tx *memTx }

func (r txStock) ReadQuantity(_ context.Context, productID string) (int64, error) {
	return r.tx.quantity(productID)
}

func (r txStock) GetForUpdate(ctx context.Context, productID string) (int64, error) {
	if _, err := r.tx.s.committedQuantity(productID); err != nil {
		return 0, err
	}
	if err := r.tx.lock(ctx, productID); err != nil {
		return 0, err
	}
	return r.tx.quantity(productID)
}

// AtomicAdjust toma el bloqueo de fila si aún no lo tiene, igual que un UPDATE.
func (r txStock) AtomicAdjust(ctx context.Context, productID string, signedDelta int64) (int64, error) {
	if err := r.tx.lock(ctx, productID); err != nil {
		return 0, err
	}
	cur, err := r.tx.quantity(productID)
	if err != nil {
		return 0, err
	}
	if cur+signedDelta < 0 {
		return 0, domain.ErrNegativeStock
	}
	r.tx.deltas[productID] += signedDelta
	return cur + signedDelta, nil
}

// txMovements vista del libro dentro de la transacción.
type txMovements struct{ tx *memTx }

func (r txMovements) Create(_ context.Context, m *entity.StockMovement) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.IdempotencyKey != "" {
		if r.tx.s.movementByKey(m.IdempotencyKey) != nil {
			return domain.ErrDuplicate
		}
		for _, c := range r.tx.created {
			if c.IdempotencyKey == m.IdempotencyKey {
				return domain.ErrDuplicate
			}
		}
	}
	cp := *m
	r.tx.created = append(r.tx.created, &cp)
	return nil
}

func (r txMovements) GetByID(ctx context.Context, id string) (*entity.StockMovement, error) {
	for _, c := range r.tx.created {
		if c.ID == id {
			m := *c
			return &m, nil
		}
	}
	return storeMovements{s: r.tx.s}.GetByID(ctx, id)
}

func (r txMovements) GetByIdempotencyKey(_ context.Context, key string) (*entity.StockMovement, error) {
	for _, c := range r.tx.created {
		if c.IdempotencyKey == key {
			m := *c
			return &m, nil
		}
	}
	return r.tx.s.movementByKey(key), nil
}

func (r txMovements) ListByProduct(ctx context.Context, productID string, from, to *time.Time, limit, offset int) ([]*entity.StockMovement, error) {
	return storeMovements{s: r.tx.s}.ListByProduct(ctx, productID, from, to, limit, offset)
}

// storeStock acceso fuera de transacción.
type storeStock struct{ s *Store }

func (r storeStock) ReadQuantity(_ context.Context, productID string) (int64, error) {
	return r.s.committedQuantity(productID)
}

// GetForUpdate fuera de transacción no puede retener el bloqueo; equivale a una lectura.
func (r storeStock) GetForUpdate(ctx context.Context, productID string) (int64, error) {
	return r.ReadQuantity(ctx, productID)
}

func (r storeStock) AtomicAdjust(ctx context.Context, productID string, signedDelta int64) (int64, error) {
	var out int64
	err := r.s.Run(ctx, func(_ repository.StockMovementRepository, stock repository.StockRepository) error {
		q, err := stock.AtomicAdjust(ctx, productID, signedDelta)
		out = q
		return err
	})
	return out, err
}

type storeMovements struct{ s *Store }

func (r storeMovements) Create(ctx context.Context, m *entity.StockMovement) error {
	return r.s.Run(ctx, func(movRepo repository.StockMovementRepository, _ repository.StockRepository) error {
		return movRepo.Create(ctx, m)
	})
}

func (r storeMovements) GetByID(_ context.Context, id string) (*entity.StockMovement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.movements[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r storeMovements) GetByIdempotencyKey(_ context.Context, key string) (*entity.StockMovement, error) {
	return r.s.movementByKey(key), nil
}

func (r storeMovements) ListByProduct(_ context.Context, productID string, from, to *time.Time, limit, offset int) ([]*entity.StockMovement, error) {
	r.s.mu.RLock()
	var list []*entity.StockMovement
	for _, id := range r.s.byProduct[productID] {
		m := *r.s.movements[id]
		if from != nil && m.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && m.CreatedAt.After(*to) {
			continue
		}
		list = append(list, &m)
	}
	r.s.mu.RUnlock()

	// Más reciente primero; a igual fecha, orden inverso de inserción.
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })

	if offset >= len(list) {
		return []*entity.StockMovement{}, nil
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list, nil
}

type storeProducts struct{ s *Store }

func (r storeProducts) GetByID(_ context.Context, id string) (*entity.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}
