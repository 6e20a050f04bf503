package payment

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"saas-plan-payments/internal/domain"
	"saas-plan-payments/internal/domain/ports/adapter"
)

var _ adapter.GatewayResolver = (*Registry)(nil)

// Registry maps provider names to factories and holds the gateways built
// from configuration.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]adapter.GatewayFactory
	gateways  map[string]adapter.PaymentGateway
}

func NewRegistry(factories ...adapter.GatewayFactory) *Registry {
	r := &Registry{
		factories: map[string]adapter.GatewayFactory{},
		gateways:  map[string]adapter.PaymentGateway{},
	}
	for _, f := range factories {
		if f == nil {
			continue
		}
		provider := key(f.Provider())
		if provider == "" {
			continue
		}
		r.factories[provider] = f
	}
	return r
}

// DefaultFactories returns a factory for every built-in gateway.
func DefaultFactories() []adapter.GatewayFactory {
	return []adapter.GatewayFactory{
		StripeFactory{},
		PaystackFactory{},
		RazorpayFactory{},
		ZarinpalFactory{},
		BankTransferFactory{},
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[key(provider)]
	return ok
}

// Configure builds a gateway for every config. A config naming an unknown
// provider or failing its factory aborts the whole call.
func (r *Registry) Configure(cfgs []adapter.GatewayConfig) error {
	built := make(map[string]adapter.PaymentGateway, len(cfgs))
	for _, cfg := range cfgs {
		name := key(cfg.Name)
		f, ok := r.factories[name]
		if !ok {
			return fmt.Errorf("%w: %q", domain.ErrProviderNotFound, cfg.Name)
		}
		cfg.Name = name
		gw, err := f.NewGateway(cfg)
		if err != nil {
			return fmt.Errorf("configure %s: %w", name, err)
		}
		built[name] = gw
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, gw := range built {
		r.gateways[name] = gw
	}
	return nil
}

// Register installs a ready gateway, replacing any previous one of the same name.
func (r *Registry) Register(gw adapter.PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[key(gw.Name())] = gw
}

func (r *Registry) Gateway(name string) (adapter.PaymentGateway, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrProviderNotFound, name)
	}
	return gw, nil
}

// Names lists the configured gateways in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
