package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/phishguard/internal/core"
)

// ScoreResponse is the JSON object LLM backends are asked to return
type ScoreResponse struct {
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons"`
}

// ScorePrompt is the instruction shared by every LLM backend. It takes the
// feature summary and the email text.
const ScorePrompt = `You are a phishing detection system. Analyze the following email and estimate the risk that it is a phishing attempt.
Respond with a JSON object containing:
- score: number between 0 and 1 (higher means more likely to be phishing)
- confidence: number between 0 and 1 (how confident you are in your assessment)
- reasons: array of short strings naming the suspicious elements you found, empty if none

Signals already extracted from the message:
%s

Email:
%s

Respond only with the JSON object and nothing else.`

// SystemPrompt is sent as the system role where the backend supports one
const SystemPrompt = "You are a cybersecurity expert specializing in phishing detection. Respond only with JSON."

// BuildPrompt renders the shared prompt for text and features
func BuildPrompt(text string, fs core.FeatureSet) string {
	return fmt.Sprintf(ScorePrompt, FeatureSummary(fs), text)
}

// FeatureSummary renders a feature set as one "name: value" line per feature
func FeatureSummary(fs core.FeatureSet) string {
	var sb strings.Builder
	for _, f := range fs.All() {
		sb.WriteString("- ")
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		if f.Bool {
			if f.Value != 0 {
				sb.WriteString("true")
			} else {
				sb.WriteString("false")
			}
		} else {
			fmt.Fprintf(&sb, "%.2f", f.Value)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// ParseScoreResponse decodes an LLM reply, tolerating prose around the JSON object
func ParseScoreResponse(responseText string) (*ScoreResponse, error) {
	var resp ScoreResponse
	if err := json.Unmarshal([]byte(responseText), &resp); err == nil {
		return &resp, nil
	}

	jsonStart := strings.Index(responseText, "{")
	jsonEnd := strings.LastIndex(responseText, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return nil, fmt.Errorf("failed to extract JSON from LLM response")
	}

	if err := json.Unmarshal([]byte(responseText[jsonStart:jsonEnd+1]), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse LLM response as JSON: %w", err)
	}
	return &resp, nil
}

// ToResult converts a parsed response into a classifier result
func (r *ScoreResponse) ToResult(backend string) *core.ClassifierResult {
	reasons := make([]string, 0, len(r.Reasons))
	for _, reason := range r.Reasons {
		if reason = strings.TrimSpace(reason); reason != "" {
			reasons = append(reasons, reason)
		}
	}
	return &core.ClassifierResult{
		Score:      r.Score,
		Confidence: r.Confidence,
		Rationale:  reasons,
		Backend:    backend,
	}
}
