package tenant

import (
	"context"
	"testing"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var plans = map[string]core.TierInfo{
	"free": {Limit: 5, WindowSeconds: 86400},
	"pro":  {Limit: -1, WindowSeconds: 86400},
}

func TestStaticProvider(t *testing.T) {
	p, err := NewStaticProvider(plans, map[string]string{"acme": "pro"}, "free")
	require.NoError(t, err)
	ctx := context.Background()

	tier, err := p.GetTier(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, core.TierInfo{Plan: "pro", Limit: -1, WindowSeconds: 86400}, tier)
	assert.True(t, tier.Unlimited())

	tier, err = p.GetTier(ctx, "someone")
	require.NoError(t, err)
	assert.Equal(t, "free", tier.Plan)
	assert.Equal(t, 5, tier.Limit)

	require.NoError(t, p.Assign("someone", "pro"))
	tier, err = p.GetTier(ctx, "someone")
	require.NoError(t, err)
	assert.Equal(t, "pro", tier.Plan)

	assert.ErrorIs(t, p.Assign("someone", "gold"), core.ErrNotFound)
}

func TestStaticProviderValidation(t *testing.T) {
	_, err := NewStaticProvider(plans, nil, "gold")
	assert.Error(t, err)

	_, err = NewStaticProvider(plans, map[string]string{"acme": "gold"}, "free")
	assert.Error(t, err)
}

func TestSQLProvider(t *testing.T) {
	p, err := NewSQLProvider("sqlite3", ":memory:", zap.NewNop())
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	_, err = p.GetTier(ctx, "acme")
	assert.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, p.SetTier(ctx, "acme", core.TierInfo{Plan: "free", Limit: 5, WindowSeconds: 86400}))
	tier, err := p.GetTier(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 5, tier.Limit)

	require.NoError(t, p.SetTier(ctx, "acme", core.TierInfo{Plan: "pro", Limit: -1, WindowSeconds: 3600}))
	tier, err = p.GetTier(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, core.TierInfo{Plan: "pro", Limit: -1, WindowSeconds: 3600}, tier)
}

func TestSQLProviderErrors(t *testing.T) {
	_, err := NewSQLProvider("postgres", "", zap.NewNop())
	assert.Error(t, err)

	p, err := NewSQLProvider("sqlite3", ":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.GetTier(context.Background(), "acme")
	require.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrNotFound)
}
