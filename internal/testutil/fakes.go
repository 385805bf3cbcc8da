// Package testutil 服务层与 handler 测试共用的内存实现
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"genpix/internal/infrastructure/lock"
	"genpix/internal/infrastructure/payment"
	"genpix/internal/model"
	"genpix/internal/repository"
)

// Store 内存版账本，users / transactions 共用一把锁，SpendCredit、ApplyPayment 与数据库实现一样是原子的
type Store struct {
	mu           sync.Mutex
	users        map[string]*model.User
	transactions map[string]*model.Transaction
	events       []model.LedgerEvent

	DeletedTransactions []string
}

func NewStore() *Store {
	return &Store{
		users:        make(map[string]*model.User),
		transactions: make(map[string]*model.Transaction),
	}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

func (s *Store) Create(ctx context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return repository.ErrEmailTaken
		}
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// SetBalance 测试准备数据用
func (s *Store) SetBalance(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		u.CreditBalance = balance
	}
}

func (s *Store) Balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u.CreditBalance
	}
	return 0
}

// Transactions 当前所有流水的快照
func (s *Store) Transactions() []model.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Transaction, 0, len(s.transactions))
	for _, t := range s.transactions {
		out = append(out, *t)
	}
	return out
}

func (s *Store) Events() []model.LedgerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.LedgerEvent(nil), s.events...)
}

// TransactionStore 流水表视图
func (s *Store) TransactionStore() *TransactionStore {
	return &TransactionStore{s: s}
}

type TransactionStore struct {
	s *Store
}

func (t *TransactionStore) Create(ctx context.Context, trans *model.Transaction) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.transactions[trans.ID]; ok {
		return fmt.Errorf("duplicate transaction %s", trans.ID)
	}
	c := *trans
	t.s.transactions[trans.ID] = &c
	return nil
}

func (t *TransactionStore) Delete(ctx context.Context, id string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if trans, ok := t.s.transactions[id]; ok && !trans.Payment {
		delete(t.s.transactions, id)
		t.s.DeletedTransactions = append(t.s.DeletedTransactions, id)
	}
	return nil
}

func (s *Store) ApplyPayment(ctx context.Context, transactionID string) (*model.Transaction, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trans, ok := s.transactions[transactionID]
	if !ok {
		return nil, 0, repository.ErrTransactionNotFound
	}
	if trans.Payment {
		return nil, 0, repository.ErrPaymentApplied
	}
	user, ok := s.users[trans.UserID]
	if !ok {
		return nil, 0, repository.ErrUserNotFound
	}

	trans.Payment = true
	user.CreditBalance += trans.Credits
	s.events = append(s.events, model.LedgerEvent{
		Event:         model.EventCreditsPurchased,
		UserID:        user.ID,
		TransactionID: trans.ID,
		Plan:          trans.Plan,
		Delta:         trans.Credits,
		Balance:       user.CreditBalance,
	})
	c := *trans
	return &c, user.CreditBalance, nil
}

func (s *Store) SpendCredit(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok || user.CreditBalance <= 0 {
		return 0, repository.ErrInsufficientCredits
	}
	user.CreditBalance--
	s.events = append(s.events, model.LedgerEvent{
		Event:   model.EventCreditsSpent,
		UserID:  userID,
		Delta:   -1,
		Balance: user.CreditBalance,
	})
	return user.CreditBalance, nil
}

// Gateway 假支付网关，订单默认未支付
type Gateway struct {
	mu       sync.Mutex
	orders   map[string]*payment.Order
	seq      int
	Err      error // CreateOrder 返回的错误
	FetchErr error

	Requests []payment.CreateOrderRequest
}

func NewGateway() *Gateway {
	return &Gateway{orders: make(map[string]*payment.Order)}
}

func (g *Gateway) Currency() string { return "INR" }

func (g *Gateway) CreateOrder(ctx context.Context, req *payment.CreateOrderRequest) (*payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Requests = append(g.Requests, *req)
	if g.Err != nil {
		return nil, g.Err
	}
	g.seq++
	order := &payment.Order{
		ID:       fmt.Sprintf("order_%d", g.seq),
		Entity:   "order",
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
	}
	g.orders[order.ID] = order
	c := *order
	return &c, nil
}

func (g *Gateway) FetchOrder(ctx context.Context, orderID string) (*payment.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FetchErr != nil {
		return nil, g.FetchErr
	}
	order, ok := g.orders[orderID]
	if !ok {
		return nil, errors.New("BAD_REQUEST_ERROR: The id provided does not exist")
	}
	c := *order
	return &c, nil
}

// MarkPaid 模拟用户在收银台完成支付
func (g *Gateway) MarkPaid(orderID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if order, ok := g.orders[orderID]; ok {
		order.Status = payment.StatusPaid
		order.AmountPaid = order.Amount
	}
}

// Generator 假生图接口
type Generator struct {
	APIKey string
	Image  []byte
	Err    error

	calls int32
}

func NewGenerator() *Generator {
	return &Generator{APIKey: "test-key", Image: []byte{0x89, 'P', 'N', 'G'}}
}

func (g *Generator) Configured() bool { return g.APIKey != "" }

func (g *Generator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	atomic.AddInt32(&g.calls, 1)
	if g.Err != nil {
		return nil, g.Err
	}
	return g.Image, nil
}

func (g *Generator) Calls() int {
	return int(atomic.LoadInt32(&g.calls))
}

// Locker 进程内互斥，已被占用时返回 lock.ErrLockFailed，Err 非空时直接返回 Err
type Locker struct {
	mu   sync.Mutex
	held map[string]bool
	Err  error
}

func NewLocker() *Locker {
	return &Locker{held: make(map[string]bool)}
}

func (l *Locker) Acquire(ctx context.Context, key, owner string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	if l.held[key] {
		return nil, lock.ErrLockFailed
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}
