package engine

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/franckalain/foodguard/internal/metrics"
	"github.com/franckalain/foodguard/internal/ml"
	"github.com/franckalain/foodguard/internal/models"
)

// Apology is the reply when the AI backend gives no usable answer.
const Apology = "Sorry, I couldn't get an answer at the moment."

// Conversation answers follow-up questions about a verdict.
type Conversation struct {
	executor ml.Executor
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewConversation creates a conversation orchestrator.
func NewConversation(executor ml.Executor, m *metrics.Metrics, logger *zap.Logger) *Conversation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conversation{
		executor: executor,
		metrics:  m,
		logger:   logger.Named("conversation"),
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
}

// Reply makes exactly one request with no tools and no retry. Any failure
// returns Apology.
func (c *Conversation) Reply(ctx context.Context, scan models.Scan, prefs models.PreferenceProfile, history []models.ConversationMessage, question string) string {
	ctx, span := c.tracer.Start(ctx, "Conversation.Reply", trace.WithAttributes(
		attribute.String("product.name", scan.ProductName),
		attribute.Int("history.len", len(history)),
	))
	defer span.End()

	text, err := c.ask(ctx, ml.BuildChatPrompt(scan, prefs.Normalized(), history, question))
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("chat reply failed",
			zap.String("product", scan.ProductName),
			zap.String("outcome", ml.Outcome(err)),
			zap.Error(err))
		c.metrics.RecordChatReply("apology")
		return Apology
	}

	c.metrics.RecordChatReply("answered")
	return text
}

func (c *Conversation) ask(ctx context.Context, spec ml.PromptSpec) (string, error) {
	if c.executor == nil {
		return "", ml.ErrMissingAPIKey
	}
	raw, err := c.executor.Execute(ctx, spec)
	if err != nil {
		return "", err
	}
	return ml.ExtractText(raw)
}

// Turn appends the question and its reply to the session and returns the new
// session. The caller persists it; turns on one session must be serialized.
func (c *Conversation) Turn(ctx context.Context, session models.ConversationSession, scan models.Scan, prefs models.PreferenceProfile, question string) models.ConversationSession {
	question = strings.TrimSpace(question)
	asked := models.ConversationMessage{Text: question, Sender: models.SenderUser, CreatedAt: c.now()}

	answer := c.Reply(ctx, scan, prefs, session.Messages, question)

	return session.Append(asked, models.ConversationMessage{
		Text:      answer,
		Sender:    models.SenderAgent,
		CreatedAt: c.now(),
	})
}
