package features

import (
	"math"
	"sort"

	"github.com/mikey/phishguard/internal/core"
)

// Signal describes how one feature contributes to the heuristic risk score
type Signal struct {
	Name string
	// Weight is multiplied by the feature value
	Weight float64
	// Cap bounds the contribution, zero means Weight
	Cap    float64
	Reason string
}

// Signals is the fixed weight table of the heuristic score
var Signals = []Signal{
	{Name: DomainMismatch, Weight: 0.35, Reason: "Link text points to a different domain than its target"},
	{Name: LookalikeDomain, Weight: 0.30, Reason: "Domain imitates a well-known brand"},
	{Name: SenderSpoof, Weight: 0.25, Reason: "Sender display name impersonates another identity"},
	{Name: AttachmentRisk, Weight: 0.25, Reason: "Dangerous attachment type"},
	{Name: UrgencyScore, Weight: 0.20, Reason: "Urgent or coercive language"},
	{Name: IPAddressLink, Weight: 0.15, Reason: "IP address in URL"},
	{Name: SensitiveRequest, Weight: 0.15, Reason: "Requests for sensitive information"},
	{Name: AnomalyCount, Weight: 0.03, Cap: 0.15, Reason: "Structural anomalies in message"},
	{Name: LinkToTextRatio, Weight: 0.10, Reason: "Message is dominated by links"},
	{Name: SenderMalformed, Weight: 0.10, Reason: "Suspicious sender email format"},
	{Name: Unparseable, Weight: 0.10, Reason: "Message could not be fully decoded"},
	{Name: InsecureLink, Weight: 0.05, Reason: "Non-secure protocol (HTTP)"},
	{Name: ExcessiveCaps, Weight: 0.05, Reason: "Poor email formatting"},
}

// Contribution is the weighted share of one feature in the heuristic score
type Contribution struct {
	Name   string
	Value  float64
	Reason string
}

// Contributions returns the non-zero weighted contributions, largest first.
// Ties keep the order of the weight table.
func Contributions(fs core.FeatureSet) []Contribution {
	out := make([]Contribution, 0, len(Signals))
	for _, s := range Signals {
		v, ok := fs.Get(s.Name)
		if !ok || v <= 0 || math.IsNaN(v) {
			continue
		}
		c := v * s.Weight
		limit := s.Cap
		if limit == 0 {
			limit = s.Weight
		}
		if c > limit {
			c = limit
		}
		out = append(out, Contribution{Name: s.Name, Value: c, Reason: s.Reason})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Value > out[j].Value
	})
	return out
}

// HeuristicScore is the clamped sum of all contributions
func HeuristicScore(fs core.FeatureSet) float64 {
	score := 0.0
	for _, c := range Contributions(fs) {
		score += c.Value
	}
	return Clamp(score)
}

// Clamp bounds a score to [0,1]
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ReasonFor returns the human-readable reason of a feature
func ReasonFor(name string) string {
	for _, s := range Signals {
		if s.Name == name {
			return s.Reason
		}
	}
	return name
}
