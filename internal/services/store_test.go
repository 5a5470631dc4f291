package service

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/honeynil/venue-ledger/internal/models"
	pkgerrors "github.com/honeynil/venue-ledger/pkg/errors"
)

// memStore is an in-memory stand-in for postgres. Units run concurrently;
// only GetByIDForUpdate and LockUser serialize them, the way row and advisory
// locks do. A failed unit replays its undo log before releasing its locks.
type memStore struct {
	mu sync.Mutex

	nextID   int64
	payments map[int64]models.Payment
	bonus    []models.BonusTransaction
	packages map[int64]models.UserTrainingPackage

	locks   map[string]*sync.Mutex
	lockLog map[string]int

	// conflicts makes the next n units fail before running fn.
	conflicts int
	units     int
}

type memTx struct {
	held map[string]*sync.Mutex
	undo []func()
}

type memTxKey struct{}

func newMemStore() *memStore {
	return &memStore{
		payments: map[int64]models.Payment{},
		packages: map[int64]models.UserTrainingPackage{},
		locks:    map[string]*sync.Mutex{},
		lockLog:  map[string]int{},
	}
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	s.mu.Lock()
	s.units++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return pkgerrors.ErrConcurrencyConflict
	}
	s.mu.Unlock()

	tx := &memTx{held: map[string]*sync.Mutex{}}
	err := fn(context.WithValue(ctx, memTxKey{}, tx))
	if err != nil {
		s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		s.mu.Unlock()
	}
	for _, m := range tx.held {
		m.Unlock()
	}
	return err
}

// lock blocks until the unit in ctx holds key. Outside a unit the call is
// only counted.
func (s *memStore) lock(ctx context.Context, key string) {
	s.mu.Lock()
	s.lockLog[key]++
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	s.mu.Unlock()

	tx, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return
	}
	if _, held := tx.held[key]; held {
		return
	}
	m.Lock()
	tx.held[key] = m
}

func (s *memStore) lockCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockLog[key]
}

// onRollback registers undo for the unit in ctx. Callers hold s.mu and undo
// runs with s.mu held.
func (s *memStore) onRollback(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, undo)
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

func paymentLockKey(id int64) string { return fmt.Sprintf("payment:%d", id) }
func packageLockKey(id int64) string { return fmt.Sprintf("package:%d", id) }
func userLockKey(id int64) string    { return fmt.Sprintf("bonus_balance:%d", id) }

type memPayments struct{ *memStore }

func (r memPayments) Create(ctx context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.id()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	r.payments[p.ID] = *p
	id := p.ID
	r.onRollback(ctx, func() { delete(r.payments, id) })
	return nil
}

// GetByID yields after reading so units that skip the row lock interleave.
func (r memPayments) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	r.mu.Lock()
	p, ok := r.payments[id]
	r.mu.Unlock()
	runtime.Gosched()
	if !ok {
		return nil, pkgerrors.ErrPaymentNotFound
	}
	return &p, nil
}

func (r memPayments) GetByIDForUpdate(ctx context.Context, id int64) (*models.Payment, error) {
	r.lock(ctx, paymentLockKey(id))
	return r.GetByID(ctx, id)
}

func (r memPayments) UpdateStatus(ctx context.Context, p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.payments[p.ID]
	if !ok {
		return pkgerrors.ErrPaymentNotFound
	}
	previous := current
	current.Status = p.Status
	current.BonusEarned = p.BonusEarned
	current.UpdatedAt = time.Now()
	r.payments[p.ID] = current
	r.onRollback(ctx, func() { r.payments[previous.ID] = previous })
	return nil
}

type memBonus struct{ *memStore }

func (r memBonus) Create(ctx context.Context, tx *models.BonusTransaction) error {
	if tx.PointsChange <= 0 {
		return pkgerrors.ErrInvalidPoints
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	tx.ID = r.id()
	tx.CreatedAt = time.Now()
	r.bonus = append(r.bonus, *tx)
	id := tx.ID
	r.onRollback(ctx, func() {
		for i := range r.bonus {
			if r.bonus[i].ID == id {
				r.bonus = append(r.bonus[:i], r.bonus[i+1:]...)
				return
			}
		}
	})
	return nil
}

// GetBalance yields after summing so spends that skip LockUser interleave.
func (r memBonus) GetBalance(ctx context.Context, userID int64) (int64, error) {
	defer runtime.Gosched()
	r.mu.Lock()
	defer r.mu.Unlock()
	var balance int64
	for _, tx := range r.bonus {
		if tx.UserID != userID {
			continue
		}
		if tx.Type == models.TypeEarned {
			balance += tx.PointsChange
		} else {
			balance -= tx.PointsChange
		}
	}
	return balance, nil
}

func (r memBonus) LockUser(ctx context.Context, userID int64) error {
	r.lock(ctx, userLockKey(userID))
	return nil
}

func (r memBonus) ListByPayment(ctx context.Context, paymentID int64) ([]models.BonusTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BonusTransaction, 0)
	for _, tx := range r.bonus {
		if tx.PaymentID != nil && *tx.PaymentID == paymentID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (r memBonus) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.BonusTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BonusTransaction, 0)
	for i := len(r.bonus) - 1; i >= 0; i-- {
		if r.bonus[i].UserID == userID {
			out = append(out, r.bonus[i])
		}
	}
	if offset >= len(out) {
		return []models.BonusTransaction{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memPackages struct{ *memStore }

func (r memPackages) Create(ctx context.Context, pkg *models.UserTrainingPackage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pkg.ID = r.id()
	r.packages[pkg.ID] = *pkg
	id := pkg.ID
	r.onRollback(ctx, func() { delete(r.packages, id) })
	return nil
}

// GetByID yields after reading so units that skip the row lock interleave.
func (r memPackages) GetByID(ctx context.Context, id int64) (*models.UserTrainingPackage, error) {
	r.mu.Lock()
	pkg, ok := r.packages[id]
	r.mu.Unlock()
	runtime.Gosched()
	if !ok {
		return nil, pkgerrors.ErrPackageNotFound
	}
	return &pkg, nil
}

func (r memPackages) GetByIDForUpdate(ctx context.Context, id int64) (*models.UserTrainingPackage, error) {
	r.lock(ctx, packageLockKey(id))
	return r.GetByID(ctx, id)
}

func (r memPackages) Update(ctx context.Context, pkg *models.UserTrainingPackage) error {
	if pkg.SessionsUsed < 0 || pkg.SessionsUsed > pkg.SessionsTotal {
		return pkgerrors.ErrInvalidPackage
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, ok := r.packages[pkg.ID]
	if !ok {
		return pkgerrors.ErrPackageNotFound
	}
	r.packages[pkg.ID] = *pkg
	r.onRollback(ctx, func() { r.packages[previous.ID] = previous })
	return nil
}

func (r memPackages) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, pkg := range r.packages {
		if pkg.Status == models.PackageActive && pkg.ExpirationDate.Before(now) {
			previous := pkg
			r.onRollback(ctx, func() { r.packages[previous.ID] = previous })
			pkg.Status = models.PackageExpired
			r.packages[id] = pkg
			n++
		}
	}
	return n, nil
}

func (r memPackages) FindUsable(ctx context.Context, userID int64, definitionID *int64, now time.Time) (*models.UserTrainingPackage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []models.UserTrainingPackage
	for _, pkg := range r.packages {
		if pkg.UserID != userID || pkg.Status != models.PackageActive || pkg.Exhausted() || pkg.ExpirationDate.Before(now) {
			continue
		}
		if definitionID != nil && pkg.PackageDefinitionID != *definitionID {
			continue
		}
		candidates = append(candidates, pkg)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ExpirationDate.Equal(candidates[j].ExpirationDate) {
			return candidates[i].ID < candidates[j].ID
		}
		return candidates[i].ExpirationDate.Before(candidates[j].ExpirationDate)
	})
	return &candidates[0], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.LedgerEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, e models.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type memCache struct {
	mu          sync.Mutex
	balances    map[int64]int64
	invalidated []int64
}

func newMemCache() *memCache {
	return &memCache{balances: map[int64]int64{}}
}

func (c *memCache) Get(ctx context.Context, userID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.balances[userID]
	if !ok {
		return 0, pkgerrors.ErrInvalidInput
	}
	return b, nil
}

func (c *memCache) Set(ctx context.Context, userID, balance int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[userID] = balance
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, userID)
	c.invalidated = append(c.invalidated, userID)
	return nil
}

type fixture struct {
	store    *memStore
	cache    *memCache
	events   *recordingPublisher
	balance  *BalanceAccessor
	payments *PaymentLedger
	sessions *SessionLedger
}

func newFixture() *fixture {
	store := newMemStore()
	cache := newMemCache()
	events := &recordingPublisher{}
	retry := RetryConfig{Attempts: 3, Delay: time.Millisecond}
	balance := NewBalanceAccessor(memBonus{store}, cache)
	return &fixture{
		store:    store,
		cache:    cache,
		events:   events,
		balance:  balance,
		payments: NewPaymentLedger(store, memPayments{store}, balance, events, retry),
		sessions: NewSessionLedger(store, memPackages{store}, events, retry),
	}
}

// seedBalance credits points outside any payment.
func (f *fixture) seedBalance(userID, points int64) {
	_ = f.store.WithinTx(context.Background(), func(ctx context.Context) error {
		_, err := f.balance.AppendEarn(ctx, userID, points, nil, "seed")
		return err
	})
}
