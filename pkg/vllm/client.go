package vllm

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"visiondetect/pkg/detection"
	"visiondetect/pkg/media"
	"visiondetect/pkg/metrics"
)

// ErrNoImage is returned when neither an image nor an image path is supplied.
// It is raised before any network call is attempted.
var ErrNoImage = errors.New("one of image or image path must be provided")

const (
	defaultTimeout = 120 * time.Second

	// The answer is a single Yes/No token or a short number; anything longer
	// is chatter the parsing rules forbid.
	maxAnswerTokens = 5

	// fallbackConfidence is substituted (pre scale division) when the model
	// reply contains no numeric value in scale scoring mode.
	fallbackConfidence = 0.10

	modeTokenProbability = "token_probability"
	modeScale            = "scale"
)

var floatPattern = regexp.MustCompile(`\d+(\.\d+)?`)

// Config holds the construction parameters for a Client. All fields are fixed
// for the lifetime of the client.
type Config struct {
	// Endpoint is the base URL of an OpenAI-compatible chat completions
	// server, e.g. "http://localhost:8000/v1".
	Endpoint string
	// APIKey may be a placeholder such as "empty" for unauthenticated
	// local servers.
	APIKey string
	// Model is the identifier passed to the server, e.g. "OpenGVLab/InternVL2-8B".
	Model string
	// ParallelInference builds a fresh transport client per call so
	// concurrent callers never share transport state.
	ParallelInference bool
	// Timeout bounds each chat completion round trip.
	Timeout time.Duration
	// Encode controls JPEG re-encoding of the uploaded image.
	Encode media.EncodeOptions
}

// clientProvider selects the transport client lifetime: a single shared SDK
// client built at construction, or a fresh one per call.
type clientProvider interface {
	client() openai.Client
}

type sharedProvider struct {
	c openai.Client
}

func (p *sharedProvider) client() openai.Client {
	return p.c
}

type perCallProvider struct {
	endpoint string
	apiKey   string
}

func (p *perCallProvider) client() openai.Client {
	return newSDKClient(p.endpoint, p.apiKey)
}

func newSDKClient(endpoint, apiKey string) openai.Client {
	return openai.NewClient(
		option.WithBaseURL(endpoint),
		option.WithAPIKey(apiKey),
	)
}

// Client queries a remote vision-language model to answer detection questions
// about images. It issues exactly one chat completion per call and performs
// no retries of its own.
type Client struct {
	provider clientProvider
	model    string
	timeout  time.Duration
	encode   media.EncodeOptions
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	var provider clientProvider
	if cfg.ParallelInference {
		provider = &perCallProvider{endpoint: cfg.Endpoint, apiKey: cfg.APIKey}
	} else {
		provider = &sharedProvider{c: newSDKClient(cfg.Endpoint, cfg.APIKey)}
	}

	return &Client{
		provider: provider,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		encode:   cfg.Encode,
	}
}

// Model returns the model identifier the client was built with.
func (c *Client) Model() string {
	return c.model
}

// InferWithImage sends one chat completion carrying the prompt and the image
// and returns the generated text together with a token confidence: when the
// first generated token is literally "Yes" or "No", the confidence is the
// probability mass the model put on it (exp of its log probability);
// otherwise 0.0, meaning the model did not answer as instructed.
//
// Exactly one of img and imagePath must be set; otherwise ErrNoImage is
// returned before any network I/O.
func (c *Client) InferWithImage(ctx context.Context, prompt string, img image.Image, imagePath string) (string, float64, error) {
	if img == nil && imagePath == "" {
		return "", 0, ErrNoImage
	}

	if imagePath != "" {
		loaded, err := media.Load(imagePath)
		if err != nil {
			return "", 0, err
		}
		img = loaded
	}

	imageURL, err := media.EncodeDataURL(img, c.encode)
	if err != nil {
		return "", 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{
					OfArrayOfContentParts: []openai.ChatCompletionContentPartUnionParam{
						{OfText: &openai.ChatCompletionContentPartTextParam{
							Text: prompt,
						}},
						{OfImageURL: &openai.ChatCompletionContentPartImageParam{
							ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
								URL: imageURL,
							},
						}},
					},
				},
			}},
		},
		MaxTokens: openai.Int(maxAnswerTokens),
		Logprobs:  openai.Bool(true),
	}

	cl := c.provider.client()
	resp, err := cl.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", 0, fmt.Errorf("chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", 0, fmt.Errorf("empty response from model %s", c.model)
	}

	choice := resp.Choices[0]

	confidence := 0.0
	if len(choice.Logprobs.Content) > 0 {
		first := choice.Logprobs.Content[0]
		if first.Token == "Yes" || first.Token == "No" {
			confidence = math.Exp(first.Logprob)
		}
	}

	return choice.Message.Content, confidence, nil
}

// Detect asks whether the description matches the image and scores the answer.
//
// With confidenceAsTokenProbability, the model is constrained to a Yes/No
// answer and the confidence is the emitted probability of that token; an
// affirmative answer at or below the threshold is demoted to not-detected
// with the confidence zeroed. Otherwise the model reports a 0-10 numeric
// confidence which is scaled to 0-1 and compared against the threshold
// without zeroing.
func (c *Client) Detect(ctx context.Context, img image.Image, description string, threshold float64, confidenceAsTokenProbability bool) (*detection.DetectedObject, error) {
	var (
		confidence float64
		detected   bool
	)

	if confidenceAsTokenProbability {
		start := time.Now()
		response, tokenConfidence, err := c.InferWithImage(ctx, yesNoPrompt(description), img, "")
		if err != nil {
			metrics.InferenceRequests.WithLabelValues(modeTokenProbability, "error").Inc()
			return nil, err
		}
		metrics.InferenceRequests.WithLabelValues(modeTokenProbability, "ok").Inc()
		metrics.InferenceDuration.WithLabelValues(modeTokenProbability).Observe(time.Since(start).Seconds())

		confidence = tokenConfidence
		if strings.Contains(strings.ToLower(response), "yes") {
			detected = true
			if confidence <= threshold {
				confidence = 0.0
				detected = false
			}
		}
	} else {
		start := time.Now()
		response, _, err := c.InferWithImage(ctx, scalePrompt(description), img, "")
		if err != nil {
			metrics.InferenceRequests.WithLabelValues(modeScale, "error").Inc()
			return nil, err
		}
		metrics.InferenceRequests.WithLabelValues(modeScale, "ok").Inc()
		metrics.InferenceDuration.WithLabelValues(modeScale).Observe(time.Since(start).Seconds())

		confidence = extractScaleValue(response) / 10
		if confidence > 1.0 {
			confidence = 1.0
		}
		detected = confidence > threshold
	}

	return &detection.DetectedObject{
		Name:               description,
		ModelName:          c.model,
		Confidence:         round3(confidence),
		Probability:        round3(confidence),
		NumberOfDetections: 1,
		IsDetected:         detected,
	}, nil
}

// extractScaleValue pulls the first decimal number out of the model reply.
// A reply with no number falls back to a fixed low confidence rather than
// failing the call.
func extractScaleValue(response string) float64 {
	match := floatPattern.FindString(response)
	if match == "" {
		return fallbackConfidence
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return fallbackConfidence
	}
	return value
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
