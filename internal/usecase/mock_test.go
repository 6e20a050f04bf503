//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// -----------------------------
// Users
// -----------------------------

type MockUserRepo struct {
	mu          sync.Mutex
	users       map[string]*model.User
	setPlans    int
	invalidated []string
}

func NewMockUserRepo(users ...*model.User) *MockUserRepo {
	r := &MockUserRepo{users: map[string]*model.User{}}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

var _ repository.UserRepository = (*MockUserRepo)(nil)

func (r *MockUserRepo) Save(_ context.Context, _ repository.Tx, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *u
	r.users[u.ID] = &cp
	return nil
}

func (r *MockUserRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MockUserRepo) SetPlan(_ context.Context, _ repository.Tx, userID, planID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrNotFound
	}
	p, e := planID, expiresAt
	u.PlanID, u.PlanExpireDate, u.PlanIsActive = &p, &e, true
	r.setPlans++
	return nil
}

func (r *MockUserRepo) InvalidateUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, userID)
	return nil
}

func (r *MockUserRepo) invalidations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.invalidated...)
}

// -----------------------------
// Plans
// -----------------------------

type MockPlanRepo struct {
	mu    sync.Mutex
	plans map[string]*model.SubscriptionPlan
}

func NewMockPlanRepo(plans ...*model.SubscriptionPlan) *MockPlanRepo {
	r := &MockPlanRepo{plans: map[string]*model.SubscriptionPlan{}}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

var _ repository.SubscriptionPlanRepository = (*MockPlanRepo)(nil)

func (r *MockPlanRepo) Save(_ context.Context, _ repository.Tx, p *model.SubscriptionPlan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plans[p.ID] = p
	return nil
}

func (r *MockPlanRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.SubscriptionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *MockPlanRepo) ListAll(_ context.Context, _ repository.Tx) ([]*model.SubscriptionPlan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.SubscriptionPlan, 0, len(r.plans))
	for _, p := range r.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MockPlanRepo) Delete(_ context.Context, _ repository.Tx, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plans, id)
	return nil
}

// -----------------------------
// Coupons
// -----------------------------

type MockCouponRepo struct {
	mu      sync.Mutex
	coupons map[string]*model.Coupon
}

func NewMockCouponRepo(coupons ...*model.Coupon) *MockCouponRepo {
	r := &MockCouponRepo{coupons: map[string]*model.Coupon{}}
	for _, c := range coupons {
		r.coupons[model.NormalizeCouponCode(c.Code)] = c
	}
	return r
}

var _ repository.CouponRepository = (*MockCouponRepo)(nil)

func (r *MockCouponRepo) Save(_ context.Context, _ repository.Tx, c *model.Coupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[model.NormalizeCouponCode(c.Code)] = c
	return nil
}

func (r *MockCouponRepo) FindByCode(_ context.Context, _ repository.Tx, code string) (*model.Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[model.NormalizeCouponCode(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MockCouponRepo) IncrementUsage(_ context.Context, _ repository.Tx, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coupons[model.NormalizeCouponCode(code)]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.Exhausted() {
		return false, nil
	}
	c.TimesUsed++
	return true, nil
}

func (r *MockCouponRepo) used(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.coupons[model.NormalizeCouponCode(code)].TimesUsed
}

// -----------------------------
// Activations
// -----------------------------

type MockActivationRepo struct {
	mu      sync.Mutex
	byOrder map[string]*model.ActivationRecord
	err     error
}

func NewMockActivationRepo() *MockActivationRepo {
	return &MockActivationRepo{byOrder: map[string]*model.ActivationRecord{}}
}

var _ repository.ActivationRepository = (*MockActivationRepo)(nil)

func (r *MockActivationRepo) Insert(_ context.Context, _ repository.Tx, rec *model.ActivationRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.byOrder[rec.OrderID]; ok {
		return false, nil
	}
	cp := *rec
	r.byOrder[rec.OrderID] = &cp
	return true, nil
}

func (r *MockActivationRepo) FindByOrderID(_ context.Context, _ repository.Tx, orderID string) (*model.ActivationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byOrder[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *MockActivationRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byOrder)
}

// -----------------------------
// Orders: compare-and-set under a mutex, like the SQL UPDATE ... WHERE status
// -----------------------------

type MockOrderRepo struct {
	mu          sync.Mutex
	orders      map[string]*model.PlanOrder
	transitions int
}

func NewMockOrderRepo() *MockOrderRepo {
	return &MockOrderRepo{orders: map[string]*model.PlanOrder{}}
}

var _ repository.OrderRepository = (*MockOrderRepo)(nil)

func (r *MockOrderRepo) Create(_ context.Context, _ repository.Tx, o *model.PlanOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.PaymentID]; ok {
		return domain.ErrDuplicatePaymentID
	}
	cp := *o
	r.orders[o.PaymentID] = &cp
	return nil
}

func (r *MockOrderRepo) Transition(_ context.Context, _ repository.Tx, paymentID string, from, to model.OrderStatus, upd model.OrderUpdate) (*model.PlanOrder, error) {
	if !model.CanTransition(from, to) {
		return nil, domain.ErrInvalidTransition
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if o.Status != from {
		return nil, domain.ErrAlreadyProcessed
	}
	o.Status = to
	if upd.ProviderReference != nil {
		o.ProviderReference = *upd.ProviderReference
	}
	if upd.Notes != nil {
		o.Notes = *upd.Notes
	}
	if upd.ProcessedBy != nil {
		by := *upd.ProcessedBy
		o.ProcessedBy = &by
	}
	at := upd.ProcessedAt
	o.ProcessedAt = &at
	r.transitions++
	cp := *o
	return &cp, nil
}

func (r *MockOrderRepo) FindByPaymentID(_ context.Context, _ repository.Tx, paymentID string) (*model.PlanOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *MockOrderRepo) FindByProviderReference(_ context.Context, _ repository.Tx, method, ref string) (*model.PlanOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if ref != "" && o.PaymentMethod == method && o.ProviderReference == ref {
			cp := *o
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockOrderRepo) SetProviderReference(_ context.Context, _ repository.Tx, paymentID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[paymentID]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != model.OrderStatusPending {
		return domain.ErrAlreadyProcessed
	}
	o.ProviderReference = ref
	return nil
}

func (r *MockOrderRepo) ListPendingOlderThan(_ context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]*model.PlanOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PlanOrder
	for _, o := range r.orders {
		if o.Status == model.OrderStatusPending && o.OrderedAt.Before(cutoff) {
			cp := *o
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockOrderRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, _ int) ([]*model.PlanOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PlanOrder
	for _, o := range r.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockOrderRepo) ListApprovedUnactivated(_ context.Context, _ repository.Tx, _ int) ([]*model.PlanOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PlanOrder
	for _, o := range r.orders {
		if o.Status == model.OrderStatusApproved {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MockOrderRepo) put(o *model.PlanOrder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.orders[o.PaymentID] = &cp
}

func (r *MockOrderRepo) get(paymentID string) *model.PlanOrder {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.orders[paymentID]
	return &cp
}

// -----------------------------
// Gateways
// -----------------------------

// MockGateway authenticates callbacks by comparing a "sig" header with its
// secret and reports whatever outcome the test configured.
type MockGateway struct {
	mu       sync.Mutex
	name     string
	secret   string
	caps     adapter.Capabilities
	outcome  adapter.VerifiedOutcome
	lookup   adapter.VerifiedOutcome
	err      error
	verified int
}

func NewMockGateway(name string) *MockGateway {
	return &MockGateway{
		name:   name,
		secret: "whsec_test",
		caps:   adapter.Capabilities{Redirect: true, Webhook: true, Requery: true},
	}
}

func (g *MockGateway) Name() string                       { return g.name }
func (g *MockGateway) Capabilities() adapter.Capabilities { return g.caps }

func (g *MockGateway) CreateCharge(_ context.Context, o *model.PlanOrder, _ *model.PurchaseRequest) (adapter.ChargeResult, error) {
	if g.err != nil {
		return adapter.ChargeResult{}, g.err
	}
	return adapter.ChargeResult{RedirectURL: "https://pay.test/" + o.PaymentID, ProviderReference: "ref_" + o.PaymentID}, nil
}

func (g *MockGateway) Reference(cb adapter.Callback) (adapter.CallbackReference, error) {
	if cb.Headers.Get("X-Ignore") != "" {
		return adapter.CallbackReference{}, domain.ErrEventIgnored
	}
	if id := cb.Query.Get("payment_id"); id != "" {
		return adapter.CallbackReference{PaymentID: id}, nil
	}
	if id := cb.Headers.Get("X-Payment-ID"); id != "" {
		return adapter.CallbackReference{PaymentID: id}, nil
	}
	return adapter.CallbackReference{}, domain.VerificationError(domain.ErrInvalidArgument, "no reference")
}

func (g *MockGateway) Verify(_ context.Context, cb adapter.Callback, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	g.mu.Lock()
	g.verified++
	g.mu.Unlock()
	if cb.Headers.Get("sig") != g.secret {
		return adapter.VerifiedOutcome{}, domain.VerificationError(domain.ErrInvalidSignature, g.name)
	}
	out := g.outcome
	if out.PaymentID == "" {
		out.PaymentID = expected.PaymentID
	}
	return out, nil
}

func (g *MockGateway) Lookup(_ context.Context, expected *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	return g.lookup, nil
}

type MockResolver map[string]adapter.PaymentGateway

func (r MockResolver) Gateway(name string) (adapter.PaymentGateway, error) {
	if g, ok := r[name]; ok {
		return g, nil
	}
	return nil, domain.ErrProviderNotFound
}

// -----------------------------
// Referral
// -----------------------------

type MockReferral struct {
	mu    sync.Mutex
	calls []adapter.Commission
	done  chan struct{}
}

func NewMockReferral() *MockReferral { return &MockReferral{done: make(chan struct{}, 16)} }

func (m *MockReferral) AccrueCommission(_ context.Context, c adapter.Commission) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
	m.done <- struct{}{}
	return nil
}

func (m *MockReferral) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// -----------------------------
// Tx manager, logger, fixtures
// -----------------------------

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager { return &MockTxManager{} }

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func approvedOrder(id, userID string, cycle model.BillingCycle, price string) *model.PlanOrder {
	return &model.PlanOrder{
		ID:            "uuid-" + id,
		PaymentID:     id,
		UserID:        userID,
		PlanID:        "pro",
		BillingCycle:  cycle,
		OriginalPrice: dec(price),
		FinalPrice:    dec(price),
		Currency:      "USD",
		PaymentMethod: "mockpay",
		Status:        model.OrderStatusApproved,
		OrderedAt:     time.Now().UTC(),
	}
}
