package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestAnthropicModel(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":"{\"score\":0.75,\"confidence\":0.8,\"reasons\":[\"Spoofed sender\"]}"}]}`}
	c := NewBedrockClient(inv, "anthropic.claude-3-haiku-20240307-v1:0", 256, 0.1, 1, zap.NewNop())

	res, err := c.Score(context.Background(), "Subject: hi", core.NewFeatureSet())
	require.NoError(t, err)
	assert.Equal(t, 0.75, res.Score)
	assert.Equal(t, []string{"Spoofed sender"}, res.Rationale)
	assert.Equal(t, Backend, res.Backend)

	assert.Equal(t, "anthropic.claude-3-haiku-20240307-v1:0", aws.ToString(inv.input.ModelId))
	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(inv.input.Body, &req))
	assert.Equal(t, "bedrock-2023-05-31", req["anthropic_version"])
	assert.Len(t, req["messages"], 1)
}

func TestTitanModel(t *testing.T) {
	inv := &fakeInvoker{body: `{"results":[{"outputText":"{\"score\":0.2,\"confidence\":0.7,\"reasons\":[]}"}]}`}
	c := NewBedrockClient(inv, "amazon.titan-text-express-v1", 256, 0.1, 1, zap.NewNop())

	res, err := c.Score(context.Background(), "hello", core.NewFeatureSet())
	require.NoError(t, err)
	assert.Equal(t, 0.2, res.Score)

	var req map[string]interface{}
	require.NoError(t, json.Unmarshal(inv.input.Body, &req))
	assert.Contains(t, req, "inputText")
	assert.Contains(t, req, "textGenerationConfig")
}

func TestGenericModel(t *testing.T) {
	inv := &fakeInvoker{body: `{"output":"{\"score\":0.5,\"confidence\":0.5,\"reasons\":[\"x\"]}"}`}
	c := NewBedrockClient(inv, "meta.llama3-8b-instruct-v1:0", 256, 0.1, 1, zap.NewNop())

	res, err := c.Score(context.Background(), "hello", core.NewFeatureSet())
	require.NoError(t, err)
	assert.Equal(t, 0.5, res.Score)
}

func TestErrors(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("throttled")}
	c := NewBedrockClient(inv, "amazon.titan-text-express-v1", 256, 0.1, 1, zap.NewNop())
	_, err := c.Score(context.Background(), "hello", core.NewFeatureSet())
	assert.Error(t, err)

	inv = &fakeInvoker{body: `{"results":[]}`}
	c = NewBedrockClient(inv, "amazon.titan-text-express-v1", 256, 0.1, 1, zap.NewNop())
	_, err = c.Score(context.Background(), "hello", core.NewFeatureSet())
	assert.Error(t, err)
}
