package ml

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Executor sends one rendered prompt to a generative AI backend.
type Executor interface {
	// Execute performs a single bounded-time call. Implementations never
	// retry; errors belong to the NetworkError/TimeoutError/BackendError
	// family or ErrMissingAPIKey.
	Execute(ctx context.Context, spec PromptSpec) (*RawResponse, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// ExecutorFactory creates an executor for one backend type
type ExecutorFactory interface {
	CreateExecutor(ctx context.Context) (Executor, error)
}

// Options selects and overrides backend settings. Non-zero fields take
// precedence over the backend's own config file and environment.
type Options struct {
	Type           string // "gemini" or "vertex"
	ConfigPath     string
	APIKey         string
	Model          string
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// NewExecutor creates an executor based on the backend type
func NewExecutor(ctx context.Context, opts Options, logger *zap.Logger) (Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var factory ExecutorFactory
	switch opts.Type {
	case "", "gemini":
		config := GeminiConfig{BaseConfig: BaseConfig{ConfigPath: opts.ConfigPath}}
		if err := config.Load(logger); err != nil {
			return nil, fmt.Errorf("failed to load gemini config: %w", err)
		}
		if opts.APIKey != "" {
			config.APIKey = opts.APIKey
		}
		if opts.Model != "" {
			config.Model = opts.Model
		}
		if opts.TimeoutSeconds > 0 {
			config.TimeoutSeconds = opts.TimeoutSeconds
		}
		factory = &geminiFactory{config: config, client: opts.HTTPClient, logger: logger}
	case "vertex":
		config := VertexConfig{BaseConfig: BaseConfig{ConfigPath: opts.ConfigPath}}
		if err := config.Load(logger); err != nil {
			return nil, fmt.Errorf("failed to load vertex config: %w", err)
		}
		if opts.Model != "" {
			config.Model = opts.Model
		}
		if opts.TimeoutSeconds > 0 {
			config.TimeoutSeconds = opts.TimeoutSeconds
		}
		factory = &vertexFactory{config: config, logger: logger}
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", opts.Type)
	}
	return factory.CreateExecutor(ctx)
}

type geminiFactory struct {
	config GeminiConfig
	client *http.Client
	logger *zap.Logger
}

func (f *geminiFactory) CreateExecutor(ctx context.Context) (Executor, error) {
	if f.config.APIKey == "" {
		// calls will fail fast into the fallback path
		f.logger.Warn("GEMINI_API_KEY is not set; AI verdicts are disabled")
	}
	return NewGeminiExecutor(ctx, f.config, f.client, f.logger)
}

type vertexFactory struct {
	config VertexConfig
	logger *zap.Logger
}

func (f *vertexFactory) CreateExecutor(ctx context.Context) (Executor, error) {
	if f.config.ProjectID == "" {
		f.logger.Warn("GOOGLE_PROJECT_ID is not set; AI verdicts are disabled")
		return unconfiguredExecutor{name: "vertex"}, nil
	}
	return NewVertexExecutor(ctx, f.config, f.logger)
}

// unconfiguredExecutor stands in for a backend that has no credential.
type unconfiguredExecutor struct {
	name string
}

func (e unconfiguredExecutor) Execute(context.Context, PromptSpec) (*RawResponse, error) {
	return nil, ErrMissingAPIKey
}

func (e unconfiguredExecutor) Name() string { return e.name }
