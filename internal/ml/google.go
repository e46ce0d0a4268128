package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const DefaultVertexModel = "gemini-1.5-flash"

// VertexConfig holds configuration for the Vertex AI backend
type VertexConfig struct {
	BaseConfig
	ProjectID       string `json:"project_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	Model           string `json:"model"`
	TimeoutSeconds  int    `json:"timeout_seconds"`
}

// Load loads the Vertex configuration
func (c *VertexConfig) Load(logger *zap.Logger) error {
	if err := c.LoadConfig(c.ConfigPath, "vertex", c, logger); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	c.ProjectID = envOr(c.ProjectID, "GOOGLE_PROJECT_ID")
	c.Location = envOr(c.Location, "GOOGLE_LOCATION")
	c.CredentialsFile = envOr(c.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	if c.Model == "" {
		c.Model = DefaultVertexModel
	}
	return nil
}

func (c VertexConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// generator is the slice of *genai.GenerativeModel the executor uses.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// VertexExecutor implements Executor on Google's Vertex AI SDK. This SDK
// version exposes no search tool, so grounded requests are refused with a
// BackendError and the caller's degraded retry takes over.
type VertexExecutor struct {
	config VertexConfig
	client *genai.Client
	model  generator
	logger *zap.Logger
}

// NewVertexExecutor creates the SDK client for the configured project.
func NewVertexExecutor(ctx context.Context, config VertexConfig, logger *zap.Logger) (*VertexExecutor, error) {
	if config.ProjectID == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []option.ClientOption{}
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, config.ProjectID, config.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	return &VertexExecutor{
		config: config,
		client: client,
		model:  client.GenerativeModel(config.Model),
		logger: logger.Named("vertex"),
	}, nil
}

func (e *VertexExecutor) Name() string { return "vertex" }

// Close releases the SDK client.
func (e *VertexExecutor) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// Execute runs one GenerateContent call and converts the SDK response into
// the RawResponse envelope.
func (e *VertexExecutor) Execute(ctx context.Context, spec PromptSpec) (*RawResponse, error) {
	if spec.UseTools {
		return nil, &BackendError{Payload: APIError{
			Code:    400,
			Status:  "INVALID_ARGUMENT",
			Message: "search grounding is not supported by the vertex backend",
		}}
	}

	timeout := e.config.timeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Debug("sending request", zap.String("model", e.config.Model), zap.Int("prompt_len", len(spec.Text)))
	resp, err := e.model.GenerateContent(ctx, genai.Text(spec.Text))
	if err != nil {
		return nil, classifyVertexError(ctx, timeout, err)
	}
	return fromGenai(resp), nil
}

func classifyVertexError(ctx context.Context, timeout time.Duration, err error) error {
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return &EmptyContentError{Reason: blocked.Error()}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{After: timeout, Err: err}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &NetworkError{Err: err}
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return &TimeoutError{After: timeout, Err: err}
	case codes.Unavailable, codes.Canceled:
		return &NetworkError{Err: err}
	default:
		return &BackendError{Payload: APIError{
			Code:    int(st.Code()),
			Status:  st.Code().String(),
			Message: st.Message(),
		}}
	}
}

func fromGenai(resp *genai.GenerateContentResponse) *RawResponse {
	raw := &RawResponse{}
	if resp == nil {
		return raw
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		raw.PromptFeedback = &PromptFeedback{BlockReason: resp.PromptFeedback.BlockReason.String()}
	}
	for _, c := range resp.Candidates {
		if c == nil {
			continue
		}
		cand := Candidate{FinishReason: c.FinishReason.String()}
		if c.Content != nil {
			content := &Content{Role: c.Content.Role}
			for _, p := range c.Content.Parts {
				if t, ok := p.(genai.Text); ok {
					content.Parts = append(content.Parts, Part{Text: string(t)})
				}
			}
			cand.Content = content
		}
		raw.Candidates = append(raw.Candidates, cand)
	}
	return raw
}
