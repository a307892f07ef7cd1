package utils

import (
	"strings"
	"testing"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTruncateText(t *testing.T) {
	tp := NewTextProcessor(zaptest.NewLogger(t))

	assert.Equal(t, "short", tp.TruncateText("short", 10))
	assert.Equal(t, "short", tp.TruncateText("short", 0))
	assert.Equal(t, "abc"+TruncationMarker, tp.TruncateText("abcdef", 3))

	// "é" is two bytes, the cut must not split it
	assert.Equal(t, "a"+TruncationMarker, tp.TruncateText("aé", 2))
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(nil)

	assert.Equal(t, "valid", tp.SanitizeUTF8("valid"))
	assert.Equal(t, "ab", tp.SanitizeUTF8("a\xffb"))
}

func TestParseScoreResponse(t *testing.T) {
	resp, err := ParseScoreResponse(`{"score":0.8,"confidence":0.9,"reasons":["fake login page"," "]}`)
	require.NoError(t, err)
	assert.Equal(t, 0.8, resp.Score)

	result := resp.ToResult("openai")
	assert.Equal(t, []string{"fake login page"}, result.Rationale)
	assert.Equal(t, "openai", result.Backend)

	resp, err = ParseScoreResponse("Here is my analysis:\n```json\n{\"score\": 0.1, \"confidence\": 0.7, \"reasons\": []}\n```")
	require.NoError(t, err)
	assert.Equal(t, 0.1, resp.Score)

	_, err = ParseScoreResponse("no json at all")
	assert.Error(t, err)

	_, err = ParseScoreResponse("{broken")
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	fs := core.NewFeatureSet(
		core.NumberFeature("link_count", 2),
		core.BoolFeature("domain_mismatch", true),
	)

	prompt := BuildPrompt("Subject: hi", fs)

	assert.True(t, strings.Contains(prompt, "- link_count: 2.00\n- domain_mismatch: true"))
	assert.Contains(t, prompt, "Subject: hi")
}
