package sched

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"saas-plan-payments/internal/config"
	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/model"
	"saas-plan-payments/internal/domain/ports/adapter"
	"saas-plan-payments/internal/domain/ports/repository"
	"saas-plan-payments/internal/infra/redis"
	"saas-plan-payments/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memOrders struct {
	repository.OrderRepository
	mu        sync.Mutex
	orders    map[string]*model.PlanOrder
	activated map[string]bool
}

func (m *memOrders) ListApprovedUnactivated(_ context.Context, _ repository.Tx, limit int) ([]*model.PlanOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PlanOrder
	for id, o := range m.orders {
		if o.Status == model.OrderStatusApproved && !m.activated[id] {
			cp := *o
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) markActivated(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activated[id] = true
}

func (m *memOrders) ListPendingOlderThan(_ context.Context, _ repository.Tx, cutoff time.Time, limit int) ([]*model.PlanOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PlanOrder
	for _, o := range m.orders {
		if o.Status == model.OrderStatusPending && o.OrderedAt.Before(cutoff) {
			cp := *o
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOrders) Transition(_ context.Context, _ repository.Tx, paymentID string, from, to model.OrderStatus, upd model.OrderUpdate) (*model.PlanOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if o.Status != from {
		return nil, domain.ErrAlreadyProcessed
	}
	o.Status = to
	if upd.Notes != nil {
		o.Notes = *upd.Notes
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) status(id string) model.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id].Status
}

type fakeGateway struct {
	name    string
	caps    adapter.Capabilities
	out     adapter.VerifiedOutcome
	err     error
	lookups int
}

func (g *fakeGateway) Name() string                       { return g.name }
func (g *fakeGateway) Capabilities() adapter.Capabilities { return g.caps }
func (g *fakeGateway) CreateCharge(context.Context, *model.PlanOrder, *model.PurchaseRequest) (adapter.ChargeResult, error) {
	return adapter.ChargeResult{}, nil
}
func (g *fakeGateway) Reference(adapter.Callback) (adapter.CallbackReference, error) {
	return adapter.CallbackReference{}, nil
}
func (g *fakeGateway) Verify(context.Context, adapter.Callback, *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	return adapter.VerifiedOutcome{}, domain.ErrVerificationFailed
}
func (g *fakeGateway) Lookup(_ context.Context, o *model.PlanOrder) (adapter.VerifiedOutcome, error) {
	g.lookups++
	return g.out, g.err
}

type fakeResolver map[string]adapter.PaymentGateway

func (r fakeResolver) Gateway(name string) (adapter.PaymentGateway, error) {
	if g, ok := r[name]; ok {
		return g, nil
	}
	return nil, domain.ErrProviderNotFound
}

// fakeDispatcher settles through the same order store the reconciler reads.
type fakeDispatcher struct {
	orders  *memOrders
	applied int
}

func (d *fakeDispatcher) Dispatch(context.Context, string, adapter.Callback) (*usecase.Ack, error) {
	return nil, errors.New("not used")
}

func (d *fakeDispatcher) Apply(ctx context.Context, o *model.PlanOrder, out adapter.VerifiedOutcome) (*usecase.Ack, error) {
	d.applied++
	var to model.OrderStatus
	switch out.Status {
	case adapter.OutcomeSucceeded:
		to = model.OrderStatusApproved
	case adapter.OutcomeFailed:
		to = model.OrderStatusFailed
	default:
		return &usecase.Ack{Order: o, Outcome: out.Status}, nil
	}
	updated, err := d.orders.Transition(ctx, nil, o.PaymentID, model.OrderStatusPending, to, model.OrderUpdate{})
	if err != nil {
		return nil, err
	}
	if to == model.OrderStatusApproved {
		d.orders.markActivated(o.PaymentID)
	}
	return &usecase.Ack{Order: updated, Outcome: out.Status}, nil
}

// fakeActivation records late activations in the order store.
type fakeActivation struct {
	orders *memOrders
	err    error
	calls  int
}

func (a *fakeActivation) Activate(_ context.Context, o *model.PlanOrder) (*usecase.ActivationResult, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	a.orders.mu.Lock()
	replayed := a.orders.activated[o.PaymentID]
	a.orders.activated[o.PaymentID] = true
	a.orders.mu.Unlock()
	return &usecase.ActivationResult{Record: &model.ActivationRecord{PaymentID: o.PaymentID}, Replayed: replayed}, nil
}

type fakeLocker struct {
	held     bool
	unlocked int
}

func (l *fakeLocker) TryLock(context.Context, string, time.Duration) (string, error) {
	if l.held {
		return "", redis.ErrLockHeld
	}
	return "tok", nil
}

func (l *fakeLocker) Unlock(context.Context, string, string) error {
	l.unlocked++
	return nil
}

type fixture struct {
	orders     *memOrders
	dispatcher *fakeDispatcher
	activation *fakeActivation
	locker     *fakeLocker
	rec        *PaymentReconciler
	now        time.Time
}

func newFixture(t *testing.T, gateways ...*fakeGateway) *fixture {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := &memOrders{orders: map[string]*model.PlanOrder{}, activated: map[string]bool{}}
	disp := &fakeDispatcher{orders: orders}
	act := &fakeActivation{orders: orders}
	locker := &fakeLocker{}
	res := fakeResolver{}
	for _, g := range gateways {
		res[g.name] = g
	}
	logger := zerolog.New(io.Discard)
	rec := NewPaymentReconciler(orders, res, disp, act, locker, config.SchedulerConfig{
		ReconcileInterval: time.Minute,
		StaleAfter:        10 * time.Minute,
		PendingTTL:        time.Hour,
		BatchSize:         10,
	}, &logger)
	rec.now = func() time.Time { return now }
	return &fixture{orders: orders, dispatcher: disp, activation: act, locker: locker, rec: rec, now: now}
}

func (f *fixture) addOrder(id, method string, age time.Duration) {
	f.orders.orders[id] = &model.PlanOrder{
		PaymentID:     id,
		UserID:        "u1",
		PlanID:        "pro",
		FinalPrice:    decimal.NewFromInt(10),
		Currency:      "USD",
		PaymentMethod: method,
		Status:        model.OrderStatusPending,
		OrderedAt:     f.now.Add(-age),
	}
}

func TestReconciler_RequeryApprovesStaleOrder(t *testing.T) {
	gw := &fakeGateway{name: "stripe", caps: adapter.Capabilities{Webhook: true, Requery: true},
		out: adapter.VerifiedOutcome{Status: adapter.OutcomeSucceeded, Amount: decimal.NewFromInt(10), Currency: "USD"}}
	f := newFixture(t, gw)
	f.addOrder("ord_stale", "stripe", 20*time.Minute)
	f.addOrder("ord_fresh", "stripe", time.Minute)

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, gw.lookups, "fresh orders are not re-queried")
	assert.Equal(t, model.OrderStatusApproved, f.orders.status("ord_stale"))
	assert.Equal(t, model.OrderStatusPending, f.orders.status("ord_fresh"))
	assert.Equal(t, 1, f.locker.unlocked)
}

func TestReconciler_ExpiresPastTTL(t *testing.T) {
	gw := &fakeGateway{name: "stripe", caps: adapter.Capabilities{Webhook: true, Requery: true},
		out: adapter.VerifiedOutcome{Status: adapter.OutcomePending}}
	f := newFixture(t, gw)
	f.addOrder("ord_old", "stripe", 2*time.Hour)
	f.addOrder("ord_recent", "stripe", 30*time.Minute)

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OrderStatusFailed, f.orders.status("ord_old"))
	assert.Equal(t, expiredNote, f.orders.orders["ord_old"].Notes)
	assert.Equal(t, model.OrderStatusPending, f.orders.status("ord_recent"))
}

func TestReconciler_UnavailableGatewayDoesNotExpire(t *testing.T) {
	gw := &fakeGateway{name: "paystack", caps: adapter.Capabilities{Webhook: true, Requery: true},
		err: domain.ErrGatewayUnavailable}
	f := newFixture(t, gw)
	f.addOrder("ord_old", "paystack", 3*time.Hour)

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.OrderStatusPending, f.orders.status("ord_old"))
	assert.Zero(t, f.dispatcher.applied)
}

func TestReconciler_UnverifiedLookupNeverApproves(t *testing.T) {
	gw := &fakeGateway{name: "zarinpal", caps: adapter.Capabilities{Redirect: true, Requery: true},
		err: domain.VerificationError(domain.ErrAmountMismatch, "")}
	f := newFixture(t, gw)
	f.addOrder("ord_a", "zarinpal", 20*time.Minute)

	_, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, f.dispatcher.applied)
	assert.Equal(t, model.OrderStatusPending, f.orders.status("ord_a"))
}

func TestReconciler_ManualGatewayWaitsForOperator(t *testing.T) {
	gw := &fakeGateway{name: "bank_transfer", caps: adapter.Capabilities{Redirect: true}}
	f := newFixture(t, gw)
	f.addOrder("ord_bank", "bank_transfer", 72*time.Hour)

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.OrderStatusPending, f.orders.status("ord_bank"))
}

func TestReconciler_DisabledGatewayExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	f.addOrder("ord_gone", "razorpay", 2*time.Hour)

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.OrderStatusFailed, f.orders.status("ord_gone"))
}

func TestReconciler_SkipsWhenLockHeld(t *testing.T) {
	gw := &fakeGateway{name: "stripe", caps: adapter.Capabilities{Requery: true}}
	f := newFixture(t, gw)
	f.addOrder("ord_x", "stripe", 2*time.Hour)
	f.locker.held = true

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, gw.lookups)
	assert.Equal(t, model.OrderStatusPending, f.orders.status("ord_x"))
	assert.Zero(t, f.locker.unlocked)
}

func TestReconciler_ActivatesApprovedOrdersLeftWithoutPlan(t *testing.T) {
	f := newFixture(t)
	f.addOrder("ord_zp", "zarinpal", time.Minute)
	f.orders.orders["ord_zp"].Status = model.OrderStatusApproved
	f.addOrder("ord_done", "stripe", time.Minute)
	f.orders.orders["ord_done"].Status = model.OrderStatusApproved
	f.orders.activated["ord_done"] = true

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.activation.calls)
	assert.True(t, f.orders.activated["ord_zp"])

	n, err = f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.activation.calls, "activated orders are not listed again")
}

func TestReconciler_LateActivationFailureRetriesNextPass(t *testing.T) {
	f := newFixture(t)
	f.addOrder("ord_zp", "zarinpal", time.Minute)
	f.orders.orders["ord_zp"].Status = model.OrderStatusApproved
	f.activation.err = errors.New("db down")

	n, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	f.activation.err = nil
	n, err = f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.activation.calls)
}
