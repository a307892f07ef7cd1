package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mikey/phishguard/internal/aggregate"
	"github.com/mikey/phishguard/internal/classifier"
	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/features"
	"github.com/mikey/phishguard/internal/metrics"
	"github.com/mikey/phishguard/internal/normalize"
	"github.com/mikey/phishguard/internal/quota"
	"github.com/mikey/phishguard/internal/tenant"
	"github.com/mikey/phishguard/internal/verdictcache"
	"github.com/mikey/phishguard/internal/whitelist"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type countingBackend struct {
	calls atomic.Int32
	score float64
	err   error
	delay time.Duration
}

func (b *countingBackend) Name() string { return "fake" }

func (b *countingBackend) Score(ctx context.Context, _ string, _ core.FeatureSet) (*core.ClassifierResult, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return &core.ClassifierResult{Score: b.score, Confidence: 0.9, Rationale: []string{"model says so"}, Backend: "fake"}, nil
}

type ServiceSuite struct {
	suite.Suite
	backend *countingBackend
	reg     *prometheus.Registry
	cache   *verdictcache.Cache
	service *core.AnalysisService
}

func (s *ServiceSuite) SetupTest() {
	logger := zaptest.NewLogger(s.T())

	s.reg = prometheus.NewRegistry()
	m, err := metrics.New(s.reg)
	s.Require().NoError(err)

	plans := map[string]core.TierInfo{
		"trial": {Limit: 2, WindowSeconds: 86400},
		"free":  {Limit: 5, WindowSeconds: 86400},
		"pro":   {Limit: -1, WindowSeconds: 86400},
	}
	assignments := map[string]string{"t1": "trial", "a": "pro", "b": "pro"}
	tiers, err := tenant.NewStaticProvider(plans, assignments, "free")
	s.Require().NoError(err)
	gate := quota.NewGate(quota.NewTierCache(tiers, plans["free"], time.Minute, logger), quota.NewMemoryCounter(), logger)

	s.cache, err = verdictcache.New(verdictcache.Config{Capacity: 100, Shards: 4, TTL: time.Hour, DegradedTTL: time.Minute}, nil, m, logger)
	s.Require().NoError(err)

	s.backend = &countingBackend{score: 0.8}
	settings := classifier.DefaultSettings()
	settings.Timeout = 200 * time.Millisecond

	s.service = core.NewAnalysisService(
		gate,
		normalize.NewNormalizer(logger),
		normalize.Fingerprint,
		features.NewExtractor(whitelist.NewChecker(nil, logger)),
		classifier.NewAdapter(s.backend, settings, m, logger),
		aggregate.NewAggregator(),
		s.cache,
		m,
		logger,
	)
}

func (s *ServiceSuite) TearDownTest() {
	s.cache.Stop()
}

func phishing() core.EmailContent {
	return core.EmailContent{
		Sender:  "PayPal Support <support@paypa1-secure.com>",
		Subject: "Urgent: verify your account",
		Body:    `<p>Your account is suspended. <a href="http://192.168.1.10/login">https://www.paypal.com/login</a></p>`,
	}
}

func (s *ServiceSuite) analyze(tenantID string, content core.EmailContent) (*core.Verdict, error) {
	return s.service.Analyze(context.Background(), core.NewAnalysisRequest(tenantID, content, time.Now()))
}

func (s *ServiceSuite) TestQuotaAndCache() {
	first, err := s.analyze("t1", phishing())
	s.Require().NoError(err)
	s.Equal(core.CategoryMalicious, first.Category)
	s.False(first.Degraded)
	s.NotEmpty(first.Reasons)

	second, err := s.analyze("t1", phishing())
	s.Require().NoError(err)
	s.Equal(int32(1), s.backend.calls.Load(), "second call served from cache")
	s.Equal(first.Score, second.Score)
	s.Equal(first.Reasons, second.Reasons)
	s.Equal(first.Category, second.Category)

	_, err = s.analyze("t1", phishing())
	s.ErrorIs(err, core.ErrQuotaExceeded)
	s.NoError(testutil.GatherAndCompare(s.reg, strings.NewReader(`
# HELP phishguard_quota_rejections_total Requests rejected because the tenant quota was exhausted
# TYPE phishguard_quota_rejections_total counter
phishguard_quota_rejections_total 1
`), "phishguard_quota_rejections_total"))

	usage, err := s.service.Usage(context.Background(), "t1")
	s.Require().NoError(err)
	s.Equal(2, usage.Used)
	s.Equal(core.QuotaExhausted, usage.State)
}

func (s *ServiceSuite) TestSharedVerdictAcrossTenants() {
	_, err := s.analyze("a", phishing())
	s.Require().NoError(err)
	_, err = s.analyze("b", phishing())
	s.Require().NoError(err)

	s.Equal(int32(1), s.backend.calls.Load())
	fp := normalize.Fingerprint(normalize.NewNormalizer(zap.NewNop()).Normalize(phishing()))
	s.Equal([]string{"a", "b"}, s.cache.Accessors(fp))
}

func (s *ServiceSuite) TestReturnedVerdictIsPrivate() {
	first, err := s.analyze("a", phishing())
	s.Require().NoError(err)
	first.Reasons[0] = "tampered"

	second, err := s.analyze("a", phishing())
	s.Require().NoError(err)
	s.NotEqual("tampered", second.Reasons[0])
}

func (s *ServiceSuite) TestDegradedFallback() {
	s.backend.err = errors.New("backend down")

	v, err := s.analyze("a", phishing())
	s.Require().NoError(err)
	s.True(v.Degraded)
	s.Equal(classifier.HeuristicBackend, v.Backend)
	s.NotEqual(core.CategorySafe, v.Category)
}

func (s *ServiceSuite) TestInvalidRequests() {
	_, err := s.service.Analyze(context.Background(), nil)
	s.ErrorIs(err, core.ErrInvalidRequest)

	_, err = s.analyze("", phishing())
	s.ErrorIs(err, core.ErrInvalidRequest)
}

func (s *ServiceSuite) TestCancelledCallerStillPopulatesCache() {
	s.backend.delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := s.service.Analyze(ctx, core.NewAnalysisRequest("a", phishing(), time.Now()))
	s.ErrorIs(err, context.Canceled)

	s.Eventually(func() bool { return s.cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.analyze("a", phishing())
	s.Require().NoError(err)
	s.Equal(int32(1), s.backend.calls.Load())
}

func (s *ServiceSuite) TestConcurrentIdenticalSubmissions() {
	s.backend.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	verdicts := make([]*core.Verdict, 10)
	for i := range verdicts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.analyze("a", phishing())
			s.NoError(err)
			verdicts[i] = v
		}(i)
	}
	wg.Wait()

	s.Equal(int32(1), s.backend.calls.Load())
	for _, v := range verdicts {
		s.Require().NotNil(v)
		s.Equal(verdicts[0].Score, v.Score)
	}
}

func (s *ServiceSuite) TestWhitespaceNoiseSharesVerdict() {
	noisy := phishing()
	noisy.Subject = "  Urgent:   verify your\taccount "
	_, err := s.analyze("a", phishing())
	s.Require().NoError(err)
	_, err = s.analyze("a", noisy)
	s.Require().NoError(err)
	s.Equal(int32(1), s.backend.calls.Load())
}

func (s *ServiceSuite) TestSenderIdentityChangesFingerprint() {
	plain := core.EmailContent{
		Sender:  "alerts@example.org",
		Subject: "Account notice",
		Body:    "Please review the attached statement.",
	}
	spoofed := plain
	spoofed.Sender = "PayPal Security <alerts@example.org>"
	replyTo := plain
	replyTo.Headers = map[string][]string{"Reply-To": {"billing@elsewhere.example"}}

	first, err := s.analyze("a", plain)
	s.Require().NoError(err)
	second, err := s.analyze("a", spoofed)
	s.Require().NoError(err)
	third, err := s.analyze("a", replyTo)
	s.Require().NoError(err)

	s.Equal(int32(3), s.backend.calls.Load())
	s.NotEqual(first.Fingerprint, second.Fingerprint)
	s.NotEqual(first.Fingerprint, third.Fingerprint)
	s.Greater(second.Score, first.Score)

	again, err := s.analyze("b", spoofed)
	s.Require().NoError(err)
	s.Equal(second.Fingerprint, again.Fingerprint)
	s.Equal(int32(3), s.backend.calls.Load())
}

func (s *ServiceSuite) TestSafeMail() {
	s.backend.score = 0.05
	v, err := s.analyze("a", core.EmailContent{
		Sender:  "alice@example.org",
		Subject: "Lunch",
		Body:    "Are we still on for lunch tomorrow?",
	})
	s.Require().NoError(err)
	s.Equal(core.CategorySafe, v.Category)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
