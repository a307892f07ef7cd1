package factory

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mikey/phishguard/internal/adapters/cache"
	"github.com/mikey/phishguard/internal/adapters/filter"
	"github.com/mikey/phishguard/internal/adapters/hybrid"
	"github.com/mikey/phishguard/internal/adapters/openai"
	"github.com/mikey/phishguard/internal/adapters/rules"
	"github.com/mikey/phishguard/internal/config"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/quota"
	"github.com/mikey/phishguard/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newConfig(values map[string]any) *config.Config {
	v := config.NewEmptyViper()
	for k, val := range values {
		v.Set(k, val)
	}
	return config.NewFromViper(v)
}

func newMetrics(t *testing.T) *metrics.Metrics {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestLLMFactory(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		backend string
		err     string
	}{
		{"default", nil, rules.Backend, ""},
		{"openai", map[string]any{"llm.provider": "openai", "openai.api_key": "k"}, openai.Backend, ""},
		{"openai without key", map[string]any{"llm.provider": "openai"}, "", "openai API key is required"},
		{"gemini without key", map[string]any{"llm.provider": "gemini"}, "", "gemini API key is required"},
		{"hybrid", map[string]any{"llm.provider": "hybrid", "openai.api_key": "k"}, hybrid.Backend, ""},
		{"hybrid of rules", map[string]any{"llm.provider": "hybrid", "llm.hybrid_provider": "rules"}, "", "unsupported hybrid LLM provider"},
		{"unknown", map[string]any{"llm.provider": "nope"}, "", "unsupported LLM provider: nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewLLMFactory(newConfig(tt.values), zap.NewNop())
			backend, err := f.CreateBackend()
			if tt.err != "" {
				assert.ErrorContains(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.backend, backend.Name())
		})
	}
}

func TestCreateClassifier(t *testing.T) {
	f := NewLLMFactory(newConfig(map[string]any{"classifier.timeout": "250ms"}), zap.NewNop())

	adapter, err := f.CreateClassifier(rules.NewEngine(), newMetrics(t))
	require.NoError(t, err)
	assert.Equal(t, rules.Backend, adapter.Backend())

	f = NewLLMFactory(newConfig(map[string]any{"classifier.timeout": "soon"}), zap.NewNop())
	_, err = f.CreateClassifier(rules.NewEngine(), newMetrics(t))
	assert.ErrorContains(t, err, "invalid duration for classifier.timeout")
}

func TestCacheFactoryStores(t *testing.T) {
	mr := miniredis.RunT(t)
	dir := t.TempDir()

	tests := []struct {
		name   string
		values map[string]any
		want   any
	}{
		{"sqlite", map[string]any{"cache.store": "sqlite", "cache.sqlite_path": filepath.Join(dir, "nested", "cache.db")}, &cache.SQLiteStore{}},
		{"redis", map[string]any{"cache.store": "redis", "redis.address": mr.Addr()}, &cache.RedisStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newConfig(tt.values)
			redisFactory := NewRedisFactory(cfg, zap.NewNop())
			defer redisFactory.Close()

			store, err := NewCacheFactory(cfg, zap.NewNop(), redisFactory).CreateVerdictStore()
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)

			_, err = store.Get(context.Background(), core.Fingerprint{1})
			assert.ErrorIs(t, err, core.ErrNotFound)
		})
	}
}

func TestCacheFactoryNoStore(t *testing.T) {
	cfg := newConfig(nil)
	f := NewCacheFactory(cfg, zap.NewNop(), NewRedisFactory(cfg, zap.NewNop()))

	store, err := f.CreateVerdictStore()
	require.NoError(t, err)
	assert.Nil(t, store)

	c, err := f.CreateVerdictCache(store, newMetrics(t))
	require.NoError(t, err)
	defer c.Stop()
	assert.Equal(t, 0, c.Len())

	_, err = NewCacheFactory(newConfig(map[string]any{"cache.store": "tape"}), zap.NewNop(), nil).CreateVerdictStore()
	assert.ErrorContains(t, err, "unsupported cache store: tape")
}

func TestQuotaFactory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := newConfig(map[string]any{
		"quota.backend": "redis",
		"redis.address": mr.Addr(),
		"tenants.assignments": []map[string]any{
			{"tenant": "Acme", "plan": "pro"},
		},
	})
	redisFactory := NewRedisFactory(cfg, zap.NewNop())
	defer redisFactory.Close()
	f := NewQuotaFactory(cfg, zap.NewNop(), redisFactory)

	provider, err := f.CreateTierProvider()
	require.NoError(t, err)
	assert.IsType(t, &tenant.StaticProvider{}, provider)

	tier, err := provider.GetTier(context.Background(), "Acme")
	require.NoError(t, err)
	assert.Equal(t, "pro", tier.Plan)

	counter, err := f.CreateCounter(newMetrics(t))
	require.NoError(t, err)
	require.IsType(t, &quota.FallbackCounter{}, counter)
	t.Cleanup(counter.(*quota.FallbackCounter).Stop)

	gate, err := f.CreateGate(provider, counter)
	require.NoError(t, err)
	usage, err := gate.Usage(context.Background(), "someone")
	require.NoError(t, err)
	assert.Equal(t, "free", usage.Plan)
	assert.Equal(t, 5, usage.Remaining)
}

func TestQuotaFactoryErrors(t *testing.T) {
	f := NewQuotaFactory(newConfig(map[string]any{"quota.backend": "etcd"}), zap.NewNop(), nil)
	_, err := f.CreateCounter(newMetrics(t))
	assert.ErrorContains(t, err, "unsupported quota backend: etcd")

	f = NewQuotaFactory(newConfig(map[string]any{"tenants.source": "ldap"}), zap.NewNop(), nil)
	_, err = f.CreateTierProvider()
	assert.ErrorContains(t, err, "unsupported tenant source: ldap")

	f = NewQuotaFactory(newConfig(map[string]any{"tenants.default_plan": "gold"}), zap.NewNop(), nil)
	_, err = f.CreateGate(nil, quota.NewMemoryCounter())
	assert.ErrorContains(t, err, `default plan "gold" is not configured`)
}

func TestQuotaFactorySQLProvider(t *testing.T) {
	f := NewQuotaFactory(newConfig(map[string]any{
		"tenants.source": "sql",
		"tenants.driver": "sqlite3",
		"tenants.dsn":    ":memory:",
	}), zap.NewNop(), nil)

	provider, err := f.CreateTierProvider()
	require.NoError(t, err)
	sqlProvider, ok := provider.(*tenant.SQLProvider)
	require.True(t, ok)
	defer sqlProvider.Close()

	_, err = provider.GetTier(context.Background(), "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

type nopAnalyzer struct{}

func (nopAnalyzer) Analyze(context.Context, *core.AnalysisRequest) (*core.Verdict, error) {
	return &core.Verdict{Category: core.CategorySafe}, nil
}

func (nopAnalyzer) Usage(_ context.Context, tenantID string) (*core.QuotaUsage, error) {
	return &core.QuotaUsage{TenantID: tenantID}, nil
}

func TestFilterFactory(t *testing.T) {
	tests := []struct {
		filterType string
		want       any
	}{
		{"http", &filter.HTTPFilter{}},
		{"postfix", &filter.PostfixFilter{}},
		{"cli", &filter.CliFilter{}},
	}

	for _, tt := range tests {
		t.Run(tt.filterType, func(t *testing.T) {
			cfg := newConfig(map[string]any{"server.filter_type": tt.filterType})
			f, err := NewFilterFactory(cfg, zap.NewNop(), nopAnalyzer{}).CreateEmailFilter(nil, &bytes.Buffer{})
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}

	cfg := newConfig(map[string]any{"server.filter_type": "milter"})
	_, err := NewFilterFactory(cfg, zap.NewNop(), nopAnalyzer{}).CreateEmailFilter(nil, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unsupported filter type: milter")
}
