package tenant

import (
	"context"
	"fmt"
	"sync"

	"github.com/mikey/phishguard/internal/core"
)

// StaticProvider serves tiers from configured plans and tenant assignments
type StaticProvider struct {
	mu          sync.RWMutex
	plans       map[string]core.TierInfo
	assignments map[string]string
	defaultPlan string
}

// NewStaticProvider creates a provider. Tenants without an assignment get defaultPlan.
func NewStaticProvider(plans map[string]core.TierInfo, assignments map[string]string, defaultPlan string) (*StaticProvider, error) {
	if _, ok := plans[defaultPlan]; !ok {
		return nil, fmt.Errorf("default plan %q is not defined", defaultPlan)
	}
	for tenantID, plan := range assignments {
		if _, ok := plans[plan]; !ok {
			return nil, fmt.Errorf("tenant %s is assigned unknown plan %q", tenantID, plan)
		}
	}

	p := &StaticProvider{
		plans:       make(map[string]core.TierInfo, len(plans)),
		assignments: make(map[string]string, len(assignments)),
		defaultPlan: defaultPlan,
	}
	for name, tier := range plans {
		tier.Plan = name
		p.plans[name] = tier
	}
	for tenantID, plan := range assignments {
		p.assignments[tenantID] = plan
	}
	return p, nil
}

// GetTier returns the tier of the tenant's plan
func (p *StaticProvider) GetTier(_ context.Context, tenantID string) (core.TierInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	plan, ok := p.assignments[tenantID]
	if !ok {
		plan = p.defaultPlan
	}
	return p.plans[plan], nil
}

// Assign moves a tenant to another plan
func (p *StaticProvider) Assign(tenantID, plan string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.plans[plan]; !ok {
		return fmt.Errorf("%w: plan %q", core.ErrNotFound, plan)
	}
	p.assignments[tenantID] = plan
	return nil
}
