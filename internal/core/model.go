package core

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmailContent is the raw email submitted by a tenant
type EmailContent struct {
	Sender  string
	Subject string
	Body    string
	Headers map[string][]string
	// Raw holds the full RFC 5322 message when the caller has it
	Raw []byte
}

// AnalysisRequest represents a single analysis submission
type AnalysisRequest struct {
	ID          string
	TenantID    string
	Content     EmailContent
	SubmittedAt time.Time
}

// NewAnalysisRequest creates a request with a fresh ID and a private copy of the content
func NewAnalysisRequest(tenantID string, content EmailContent, submittedAt time.Time) *AnalysisRequest {
	headers := make(map[string][]string, len(content.Headers))
	for k, v := range content.Headers {
		headers[k] = append([]string(nil), v...)
	}
	content.Headers = headers
	if content.Raw != nil {
		content.Raw = append([]byte(nil), content.Raw...)
	}

	return &AnalysisRequest{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Content:     content,
		SubmittedAt: submittedAt,
	}
}

// Fingerprint is the SHA-256 digest of normalized content
type Fingerprint [32]byte

// String returns the lowercase hex form of the fingerprint
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// IsZero reports whether the fingerprint was never computed
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint parses the hex form produced by String
func ParseFingerprint(s string) (Fingerprint, error) {
	var fp Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, err
	}
	if len(b) != len(fp) {
		return fp, hex.ErrLength
	}
	copy(fp[:], b)
	return fp, nil
}

// Link is a hyperlink found in the email body
type Link struct {
	Href    string
	Display string
}

// NormalizedContent is the canonical form of an email used for fingerprinting and features
type NormalizedContent struct {
	Sender      string
	DisplayName string
	Subject     string
	Text        string
	Links       []Link
	Attachments []string
	Headers     map[string]string
	Unparseable bool

	// TrackingPixels counts hidden or 1x1 images removed from HTML bodies
	TrackingPixels int
}

// FingerprintHeaders are the headers that feed features and so take part in the fingerprint.
// Other headers carry per-delivery noise (Message-ID, Received, Date) and are excluded.
var FingerprintHeaders = []string{"reply-to"}

// Canonical returns the byte sequence the fingerprint is computed over. It covers every
// field features and backends read, so contents that may score differently never share a key.
func (n *NormalizedContent) Canonical() []byte {
	size := len(n.Sender) + len(n.DisplayName) + len(n.Subject) + len(n.Text) + 128
	for _, l := range n.Links {
		size += len(l.Href) + len(l.Display) + 2
	}
	buf := make([]byte, 0, size)
	buf = append(buf, "from:"...)
	buf = append(buf, n.Sender...)
	buf = append(buf, '\n')
	buf = append(buf, "name:"...)
	buf = append(buf, n.DisplayName...)
	buf = append(buf, '\n')
	for _, h := range FingerprintHeaders {
		if v := n.Headers[h]; v != "" {
			buf = append(buf, h...)
			buf = append(buf, ':')
			buf = append(buf, strings.ToLower(v)...)
			buf = append(buf, '\n')
		}
	}
	buf = append(buf, "subject:"...)
	buf = append(buf, n.Subject...)
	buf = append(buf, '\n')
	for _, l := range n.Links {
		buf = append(buf, "link:"...)
		buf = append(buf, l.Href...)
		buf = append(buf, '|')
		buf = append(buf, l.Display...)
		buf = append(buf, '\n')
	}
	for _, a := range n.Attachments {
		buf = append(buf, "attachment:"...)
		buf = append(buf, a...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "pixels:"...)
	buf = strconv.AppendInt(buf, int64(n.TrackingPixels), 10)
	buf = append(buf, '\n')
	buf = append(buf, "unparseable:"...)
	buf = strconv.AppendBool(buf, n.Unparseable)
	buf = append(buf, '\n')
	buf = append(buf, "body:"...)
	buf = append(buf, n.Text...)
	return buf
}

// Feature is a single named heuristic signal
type Feature struct {
	Name  string
	Value float64
	Bool  bool
}

// FeatureSet is an ordered, read-only mapping of feature names to values
type FeatureSet struct {
	features []Feature
	index    map[string]int
}

// NewFeatureSet builds a feature set in the given order. Later duplicates overwrite earlier values.
func NewFeatureSet(features ...Feature) FeatureSet {
	fs := FeatureSet{
		features: make([]Feature, 0, len(features)),
		index:    make(map[string]int, len(features)),
	}
	for _, f := range features {
		if i, ok := fs.index[f.Name]; ok {
			fs.features[i] = f
			continue
		}
		fs.index[f.Name] = len(fs.features)
		fs.features = append(fs.features, f)
	}
	return fs
}

// NumberFeature creates a numeric feature
func NumberFeature(name string, v float64) Feature {
	return Feature{Name: name, Value: v}
}

// BoolFeature creates a boolean feature stored as 0 or 1
func BoolFeature(name string, v bool) Feature {
	f := Feature{Name: name, Bool: true}
	if v {
		f.Value = 1
	}
	return f
}

// Get returns the value of a feature
func (fs FeatureSet) Get(name string) (float64, bool) {
	i, ok := fs.index[name]
	if !ok {
		return 0, false
	}
	return fs.features[i].Value, true
}

// Value returns the value of a feature or zero when absent
func (fs FeatureSet) Value(name string) float64 {
	v, _ := fs.Get(name)
	return v
}

// Flag reports whether a feature is present and non-zero
func (fs FeatureSet) Flag(name string) bool {
	return fs.Value(name) != 0
}

// Len returns the number of features
func (fs FeatureSet) Len() int {
	return len(fs.features)
}

// All returns a copy of the features in order
func (fs FeatureSet) All() []Feature {
	out := make([]Feature, len(fs.features))
	copy(out, fs.features)
	return out
}

// Map returns the features as a map, booleans rendered as bool values
func (fs FeatureSet) Map() map[string]any {
	m := make(map[string]any, len(fs.features))
	for _, f := range fs.features {
		if f.Bool {
			m[f.Name] = f.Value != 0
		} else {
			m[f.Name] = f.Value
		}
	}
	return m
}

// ClassifierResult is the raw output of the scoring capability
type ClassifierResult struct {
	Score      float64
	Rationale  []string
	Confidence float64
	Degraded   bool
	Backend    string
}

// Category is the final risk classification
type Category string

const (
	CategorySafe       Category = "safe"
	CategorySuspicious Category = "suspicious"
	CategoryMalicious  Category = "malicious"
)

// Score thresholds separating the categories
const (
	SuspiciousThreshold = 0.3
	MaliciousThreshold  = 0.7
)

// CategoryForScore maps a risk score to its category
func CategoryForScore(score float64) Category {
	switch {
	case score >= MaliciousThreshold:
		return CategoryMalicious
	case score >= SuspiciousThreshold:
		return CategorySuspicious
	default:
		return CategorySafe
	}
}

// Verdict is the final result of an analysis
type Verdict struct {
	Category    Category    `json:"category"`
	Score       float64     `json:"score"`
	Reasons     []string    `json:"reasons"`
	Fingerprint Fingerprint `json:"-"`
	Confidence  float64     `json:"confidence"`
	Degraded    bool        `json:"degraded"`
	Backend     string      `json:"backend"`
	ComputedAt  time.Time   `json:"computed_at"`
}

// Clone returns a copy that shares no mutable state with v
func (v *Verdict) Clone() *Verdict {
	out := *v
	out.Reasons = append([]string{}, v.Reasons...)
	return &out
}

// CacheEntry is a cached verdict for a fingerprint
type CacheEntry struct {
	Fingerprint Fingerprint
	Verdict     *Verdict
	InsertedAt  time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the entry is past its expiry at the given time
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// TierInfo describes a tenant's quota as supplied by the billing collaborator
type TierInfo struct {
	Plan          string
	Limit         int
	WindowSeconds int
}

// Unlimited reports whether the tier has no request cap
func (t TierInfo) Unlimited() bool {
	return t.Limit < 0
}

// Window returns the window length
func (t TierInfo) Window() time.Duration {
	return time.Duration(t.WindowSeconds) * time.Second
}

// QuotaState is the admission state of a tenant
type QuotaState string

const (
	QuotaWithinBudget QuotaState = "within-budget"
	QuotaExhausted    QuotaState = "exhausted"
)

// TenantQuotaState is the usage of a tenant in its current window
type TenantQuotaState struct {
	TenantID    string
	WindowStart time.Time
	Count       int
	Limit       int
}

// State returns the admission state derived from count and limit
func (s TenantQuotaState) State() QuotaState {
	if s.Limit >= 0 && s.Count >= s.Limit {
		return QuotaExhausted
	}
	return QuotaWithinBudget
}

// Admission is the result of a successful quota check
type Admission struct {
	TenantID    string
	WindowStart time.Time
	Used        int
	Limit       int
}

// QuotaUsage reports a tenant's consumption for the current window
type QuotaUsage struct {
	TenantID    string     `json:"tenant_id"`
	Plan        string     `json:"plan"`
	State       QuotaState `json:"state"`
	Used        int        `json:"used"`
	Limit       int        `json:"limit"`
	Remaining   int        `json:"remaining"`
	WindowStart time.Time  `json:"window_start"`
	WindowEnd   time.Time  `json:"window_end"`
}

// WindowStart aligns t to the start of its fixed window
func WindowStart(t time.Time, window time.Duration) time.Time {
	if window <= 0 {
		return time.Unix(0, 0).UTC()
	}
	return t.UTC().Truncate(window)
}
