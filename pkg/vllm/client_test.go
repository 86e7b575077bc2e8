package vllm

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = byte(i * 7)
	}
	return img
}

// newMockServer replies to every chat completion with the given content and
// first-token logprob, verifying the wire format of each request.
func newMockServer(t *testing.T, content, token string, logprob float64) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "POST", r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])
		assert.Equal(t, float64(5), req["max_tokens"])
		assert.Equal(t, true, req["logprobs"])

		// One user message with a text part and a data-URL image part
		messages, ok := req["messages"].([]any)
		require.True(t, ok)
		require.Len(t, messages, 1)
		parts, ok := messages[0].(map[string]any)["content"].([]any)
		require.True(t, ok)
		require.Len(t, parts, 2)
		imageURL := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		assert.True(t, strings.HasPrefix(imageURL, "data:image/jpeg;base64,"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"id": "chatcmpl-test",
			"object": "chat.completion",
			"created": 1,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": %q},
				"logprobs": {"content": [{"token": %q, "logprob": %g, "bytes": []}]}
			}]
		}`, content, token, logprob)
	}))
	return server, &calls
}

func newTestClient(serverURL string) *Client {
	return NewClient(Config{
		Endpoint: serverURL,
		APIKey:   "test-key",
		Model:    "test-model",
	})
}

func TestDetect_TokenProbability_Detected(t *testing.T) {
	server, calls := newMockServer(t, "Yes", "Yes", math.Log(0.9))
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a cat", 0.1, true)
	require.NoError(t, err)

	assert.True(t, obj.IsDetected)
	assert.Equal(t, 0.9, obj.Confidence)
	assert.Equal(t, 0.9, obj.Probability)
	assert.Equal(t, "a cat", obj.Name)
	assert.Equal(t, "test-model", obj.ModelName)
	assert.Equal(t, 1, obj.NumberOfDetections)
	assert.Equal(t, int64(1), calls.Load())
}

func TestDetect_TokenProbability_BelowThreshold(t *testing.T) {
	server, _ := newMockServer(t, "Yes", "Yes", math.Log(0.05))
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a cat", 0.1, true)
	require.NoError(t, err)

	// A Yes at or below the threshold is demoted and its confidence zeroed
	assert.False(t, obj.IsDetected)
	assert.Equal(t, 0.0, obj.Confidence)
	assert.Equal(t, 0.0, obj.Probability)
}

func TestDetect_TokenProbability_NegativeAnswerKeepsConfidence(t *testing.T) {
	server, _ := newMockServer(t, "No", "No", math.Log(0.8))
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a cat", 0.1, true)
	require.NoError(t, err)

	// The negative branch records the token confidence without zeroing it
	assert.False(t, obj.IsDetected)
	assert.Equal(t, 0.8, obj.Confidence)
	assert.Equal(t, 0.8, obj.Probability)
}

func TestDetect_TokenProbability_UnparseableAnswer(t *testing.T) {
	server, _ := newMockServer(t, "Maybe, hard to tell", "Maybe", math.Log(0.7))
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a cat", 0.1, true)
	require.NoError(t, err)

	// A first token other than Yes/No means the model ignored the parsing rule
	assert.False(t, obj.IsDetected)
	assert.Equal(t, 0.0, obj.Confidence)
}

func TestDetect_Scale(t *testing.T) {
	server, _ := newMockServer(t, "7.5 - fairly confident", "7", -0.5)
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a traffic jam", 0.1, false)
	require.NoError(t, err)

	assert.True(t, obj.IsDetected)
	assert.Equal(t, 0.75, obj.Confidence)
	assert.Equal(t, 0.75, obj.Probability)
}

func TestDetect_Scale_NoNumberFallsBack(t *testing.T) {
	server, _ := newMockServer(t, "I cannot determine", "I", -0.5)
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a traffic jam", 0.1, false)
	require.NoError(t, err)

	// The 0.10 fallback is applied before the scale division
	assert.False(t, obj.IsDetected)
	assert.Equal(t, 0.01, obj.Confidence)
	assert.Equal(t, 0.01, obj.Probability)
}

func TestDetect_Scale_ClampsToOne(t *testing.T) {
	server, _ := newMockServer(t, "15", "1", -0.5)
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a traffic jam", 0.1, false)
	require.NoError(t, err)

	assert.True(t, obj.IsDetected)
	assert.Equal(t, 1.0, obj.Confidence)
}

func TestDetect_Scale_RoundsToThreeDecimals(t *testing.T) {
	server, _ := newMockServer(t, "3.3335", "3", -0.5)
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a traffic jam", 0.1, false)
	require.NoError(t, err)

	assert.Equal(t, 0.333, obj.Confidence)
	assert.Equal(t, 0.333, obj.Probability)
}

func TestInferWithImage_MissingImage(t *testing.T) {
	server, calls := newMockServer(t, "Yes", "Yes", math.Log(0.9))
	defer server.Close()

	client := newTestClient(server.URL)
	_, _, err := client.InferWithImage(context.Background(), "Is there a cat present in the image?", nil, "")

	require.ErrorIs(t, err, ErrNoImage)
	assert.Equal(t, int64(0), calls.Load())
}

func TestInferWithImage_TokenConfidence(t *testing.T) {
	server, _ := newMockServer(t, "No", "No", math.Log(0.6))
	defer server.Close()

	client := newTestClient(server.URL)
	text, confidence, err := client.InferWithImage(context.Background(), "Is there a cat present in the image?", testImage(), "")
	require.NoError(t, err)

	assert.Equal(t, "No", text)
	assert.InDelta(t, 0.6, confidence, 1e-9)
}

func TestDetect_TransportErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	obj, err := client.Detect(context.Background(), testImage(), "a cat", 0.1, true)

	require.Error(t, err)
	assert.Nil(t, obj)
}

func TestNewClient_ParallelInferenceProvider(t *testing.T) {
	shared := NewClient(Config{Endpoint: "http://localhost:8000/v1", APIKey: "empty", Model: "m"})
	_, ok := shared.provider.(*sharedProvider)
	assert.True(t, ok)

	parallel := NewClient(Config{Endpoint: "http://localhost:8000/v1", APIKey: "empty", Model: "m", ParallelInference: true})
	_, ok = parallel.provider.(*perCallProvider)
	assert.True(t, ok)
}
