package rules

import (
	"context"
	"fmt"

	"github.com/mikey/phishguard/internal/core"
	"github.com/mikey/phishguard/internal/features"
)

// Backend is the name reported on results of the rule engine
const Backend = "rules"

// confidence is reported on every rule engine result
const confidence = 0.7

// Weights of each rule group in the risk score
var (
	KeywordWeights = map[string]float64{
		features.CategoryUrgency: 0.25,
		features.CategoryThreat:  0.25,
		features.CategoryAction:  0.2,
		features.CategoryReward:  0.15,
	}
	SuspiciousURLWeight    = 0.4
	SuspiciousSenderWeight = 0.3
	PoorFormattingWeight   = 0.15
	SensitiveRequestWeight = 0.35
	AttachmentWeight       = 0.3
)

var keywordCategories = []string{
	features.CategoryUrgency,
	features.CategoryThreat,
	features.CategoryAction,
	features.CategoryReward,
}

// Engine scores email text with weighted rule groups over keywords and extracted features.
// It never fails and needs no network.
type Engine struct{}

// NewEngine creates a new rule engine
func NewEngine() *Engine {
	return &Engine{}
}

// Name returns the backend name
func (e *Engine) Name() string {
	return Backend
}

// Score computes the risk score and the risk factors that raised it
func (e *Engine) Score(ctx context.Context, text string, fs core.FeatureSet) (*core.ClassifierResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	score, factors := Evaluate(text, fs)
	return &core.ClassifierResult{
		Score:      score,
		Rationale:  factors,
		Confidence: confidence,
		Backend:    Backend,
	}, nil
}

// Evaluate returns the clamped rule score and its risk factors in rule order
func Evaluate(text string, fs core.FeatureSet) (float64, []string) {
	score := 0.0
	factors := []string{}

	hits := features.Category(text)
	for _, category := range keywordCategories {
		if hits[category] > 0 {
			score += KeywordWeights[category]
			factors = append(factors, fmt.Sprintf("Contains %s-related suspicious keywords", category))
		}
	}

	var urlReasons []string
	if fs.Flag(features.LookalikeDomain) {
		urlReasons = append(urlReasons, "Similar to legitimate domain")
	}
	if fs.Flag(features.DomainMismatch) {
		urlReasons = append(urlReasons, "Link text does not match its destination")
	}
	if fs.Flag(features.IPAddressLink) {
		urlReasons = append(urlReasons, "IP address in URL")
	}
	if len(urlReasons) > 0 {
		score += SuspiciousURLWeight
		factors = append(factors, urlReasons...)
	}
	// plain http only counts as a factor, it is too common to weigh on its own
	if fs.Flag(features.InsecureLink) {
		factors = append(factors, "Non-secure protocol (HTTP)")
	}

	if fs.Flag(features.SenderMalformed) || fs.Flag(features.SenderSpoof) {
		score += SuspiciousSenderWeight
		factors = append(factors, "Suspicious sender email format")
	}

	if fs.Flag(features.ExcessiveCaps) {
		score += PoorFormattingWeight
		factors = append(factors, "Poor email formatting")
	}

	if fs.Flag(features.SensitiveRequest) {
		score += SensitiveRequestWeight
		factors = append(factors, "Requests for sensitive information")
	}

	if risk := fs.Value(features.AttachmentRisk); risk > 0 {
		score += AttachmentWeight * risk
		factors = append(factors, "Dangerous attachment type")
	}

	return features.Clamp(score), factors
}
