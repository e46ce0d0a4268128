package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	// DefaultGeminiModel is used when neither config nor environment names a model.
	DefaultGeminiModel = "gemini-2.5-flash"
	// DefaultGeminiAPIVersion is the Gemini API version the executor targets.
	DefaultGeminiAPIVersion = "v1beta"
	// DefaultTimeout bounds a single AI request.
	DefaultTimeout = 15 * time.Second
)

// GeminiConfig holds configuration for the Gemini API backend. An empty
// BaseURL uses the SDK's endpoint. Timeout, when positive, overrides
// TimeoutSeconds.
type GeminiConfig struct {
	BaseConfig
	APIKey         string        `json:"api_key"`
	Model          string        `json:"model"`
	BaseURL        string        `json:"base_url"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	Timeout        time.Duration `json:"-"`
}

// Load reads the Gemini configuration and fills gaps from the environment.
func (c *GeminiConfig) Load(logger *zap.Logger) error {
	if err := c.LoadConfig(c.ConfigPath, "gemini", c, logger); err != nil {
		return err
	}

	c.APIKey = envOr(c.APIKey, "GEMINI_API_KEY")
	c.Model = envOr(c.Model, "GEMINI_MODEL")
	c.BaseURL = envOr(c.BaseURL, "GEMINI_BASE_URL")
	return nil
}

func (c GeminiConfig) withDefaults() GeminiConfig {
	if c.Model == "" {
		c.Model = DefaultGeminiModel
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	return c
}

func (c GeminiConfig) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// GeminiExecutor calls generateContent through the Gemini API SDK.
type GeminiExecutor struct {
	config GeminiConfig
	client *genai.Client
	logger *zap.Logger
}

// NewGeminiExecutor creates an executor. Without an API key no SDK client
// is built and every call fails with ErrMissingAPIKey. A nil httpClient
// uses a fresh http.Client; the per-call deadline comes from the config.
func NewGeminiExecutor(ctx context.Context, config GeminiConfig, httpClient *http.Client, logger *zap.Logger) (*GeminiExecutor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config = config.withDefaults()
	e := &GeminiExecutor{config: config, logger: logger.Named("gemini")}
	if config.APIKey == "" {
		return e, nil
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    config.BaseURL,
			APIVersion: DefaultGeminiAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	e.client = client
	return e, nil
}

func (e *GeminiExecutor) Name() string { return "gemini" }

// Execute issues exactly one request bounded by the configured deadline.
func (e *GeminiExecutor) Execute(ctx context.Context, spec PromptSpec) (*RawResponse, error) {
	if e.client == nil {
		return nil, ErrMissingAPIKey
	}

	var config *genai.GenerateContentConfig
	if spec.UseTools {
		config = &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}
	}

	timeout := e.config.timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Debug("sending request",
		zap.String("model", e.config.Model),
		zap.Bool("use_tools", spec.UseTools),
		zap.Int("prompt_len", len(spec.Text)))

	resp, err := e.client.Models.GenerateContent(ctx, e.config.Model, genai.Text(spec.Text), config)
	if err != nil {
		return nil, classifyGeminiError(ctx, timeout, err)
	}
	return fromGeminiResponse(resp), nil
}

func classifyGeminiError(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{After: timeout, Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &BackendError{
			StatusCode: apiErr.Code,
			Payload:    APIError{Code: apiErr.Code, Message: apiErr.Message, Status: apiErr.Status},
		}
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &MalformedResponseError{Reason: "undecodable response envelope", Err: err}
	}
	return &NetworkError{Err: err}
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *RawResponse {
	raw := &RawResponse{}
	if resp == nil {
		return raw
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		raw.PromptFeedback = &PromptFeedback{BlockReason: string(resp.PromptFeedback.BlockReason)}
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		cand := Candidate{FinishReason: string(c.FinishReason)}
		if c.Content != nil {
			content := &Content{Role: c.Content.Role}
			for _, p := range c.Content.Parts {
				if p == nil || p.Thought {
					continue
				}
				content.Parts = append(content.Parts, Part{Text: p.Text})
			}
			cand.Content = content
		}
		raw.Candidates = append(raw.Candidates, cand)
	}
	return raw
}
