package providers

import (
	"fmt"
	"strings"
	"sync"
)

// Registry resolves canonical provider identities to gateways
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
	families map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{
		gateways: make(map[string]Gateway),
		families: make(map[string]Gateway),
	}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// NewDefaultRegistry wires Airtel, TNM and one gateway per supported bank
func NewDefaultRegistry(currency string, opts Options, callbackSecrets map[string]string) *Registry {
	withSecret := func(family string) Options {
		o := opts
		o.CallbackSecret = callbackSecrets[family]
		return o
	}

	r := NewRegistry(
		NewAirtelGateway(withSecret("AIRTEL")),
		NewTNMGateway(withSecret("TNM")),
	)
	for _, bank := range Banks() {
		r.Register(NewBankGateway(bank, currency, withSecret("BANK")))
	}
	return r
}

// Register adds g under its name. The first gateway of a family (BANK for BANK_NBM)
// also answers for the family name.
func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := strings.ToUpper(g.Name())
	r.gateways[name] = g

	family := strings.SplitN(name, "_", 2)[0]
	if _, ok := r.families[family]; !ok {
		r.families[family] = g
	}
}

func (r *Registry) Resolve(provider string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := strings.ToUpper(strings.TrimSpace(provider))
	if g, ok := r.gateways[name]; ok {
		return g, nil
	}
	if g, ok := r.families[name]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
}
