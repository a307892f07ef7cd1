package aggregate

import (
	"sort"
	"time"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/features"
)

// Offset is a fixed score adjustment applied when a high-confidence feature fires
type Offset struct {
	Name  string
	Value float64
	// Applies decides whether the offset fires for a feature set
	Applies func(fs core.FeatureSet) bool
}

// Offsets are the high-confidence adjustments added on top of the classifier score
var Offsets = []Offset{
	{Name: features.DomainMismatch, Value: 0.15, Applies: flag(features.DomainMismatch)},
	{Name: features.LookalikeDomain, Value: 0.10, Applies: flag(features.LookalikeDomain)},
	{Name: features.AttachmentRisk, Value: 0.10, Applies: func(fs core.FeatureSet) bool {
		return fs.Value(features.AttachmentRisk) >= features.AttachmentRiskExecutable
	}},
	{Name: features.SenderSpoof, Value: 0.05, Applies: flag(features.SenderSpoof)},
}

func flag(name string) func(core.FeatureSet) bool {
	return func(fs core.FeatureSet) bool { return fs.Flag(name) }
}

// Aggregator combines classifier output and heuristic signals into a verdict
type Aggregator struct {
	now func() time.Time
}

// NewAggregator creates a new verdict aggregator
func NewAggregator() *Aggregator {
	return &Aggregator{now: time.Now}
}

type reason struct {
	text   string
	weight float64
	order  int
}

// Aggregate produces the final verdict. The category depends only on the score.
func (a *Aggregator) Aggregate(result *core.ClassifierResult, fs core.FeatureSet, fp core.Fingerprint) *core.Verdict {
	score := result.Score
	for _, o := range Offsets {
		if o.Applies(fs) {
			score += o.Value
		}
	}
	score = features.Clamp(score)

	// classifier rationale ranks by the backend's confidence, features by their weighted contribution
	var reasons []reason
	for _, r := range result.Rationale {
		reasons = append(reasons, reason{text: r, weight: result.Confidence * result.Score, order: len(reasons)})
	}
	for _, c := range features.Contributions(fs) {
		w := c.Value
		for _, o := range Offsets {
			if o.Name == c.Name && o.Applies(fs) {
				w += o.Value
			}
		}
		reasons = append(reasons, reason{text: c.Reason, weight: w, order: len(reasons)})
	}

	return &core.Verdict{
		Category:    core.CategoryForScore(score),
		Score:       score,
		Reasons:     rank(reasons),
		Fingerprint: fp,
		Confidence:  features.Clamp(result.Confidence),
		Degraded:    result.Degraded,
		Backend:     result.Backend,
		ComputedAt:  a.now().UTC(),
	}
}

// rank orders reasons by descending weight, keeping the first occurrence of duplicates
func rank(reasons []reason) []string {
	best := make(map[string]int, len(reasons))
	unique := reasons[:0:0]
	for _, r := range reasons {
		if i, ok := best[r.text]; ok {
			if r.weight > unique[i].weight {
				unique[i].weight = r.weight
			}
			continue
		}
		best[r.text] = len(unique)
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		if unique[i].weight != unique[j].weight {
			return unique[i].weight > unique[j].weight
		}
		return unique[i].order < unique[j].order
	})

	out := make([]string, len(unique))
	for i, r := range unique {
		out[i] = r.text
	}
	return out
}
