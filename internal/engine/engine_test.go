package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/franckalain/foodguard/internal/metrics"
	"github.com/franckalain/foodguard/internal/ml"
	"github.com/franckalain/foodguard/internal/models"
)

type result struct {
	resp *ml.RawResponse
	err  error
}

// scriptedExecutor returns its results in order and records every request.
// Once the script is exhausted it keeps returning the last result.
type scriptedExecutor struct {
	mu     sync.Mutex
	script []result
	calls  []ml.PromptSpec
}

func (s *scriptedExecutor) Execute(_ context.Context, spec ml.PromptSpec) (*ml.RawResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spec)
	r := s.script[len(s.script)-1]
	if len(s.calls) <= len(s.script) {
		r = s.script[len(s.calls)-1]
	}
	return r.resp, r.err
}

func (s *scriptedExecutor) Name() string { return "scripted" }

func reply(text string) result {
	return result{resp: &ml.RawResponse{Candidates: []ml.Candidate{{
		Content: &ml.Content{Parts: []ml.Part{{Text: text}}},
	}}}}
}

func failure(err error) result { return result{err: err} }

type countingClassifier struct {
	calls int
	inner ml.LocalClassifier
}

func (c *countingClassifier) Classify(r models.ProductRecord, p models.PreferenceProfile) models.Verdict {
	c.calls++
	return c.inner.Classify(r, p)
}

var (
	testRecord = models.NewProductRecord("Test Product", "Sugar, Water, Artificial Flavor", "", "")
	missing    = models.NewProductRecord("Mystery Bar", "", "", "")
	vegan      = models.PreferenceProfile{Diets: []string{"vegan"}, Allergies: []string{}}
	network    = &ml.NetworkError{Err: assert.AnError}
)

const moderateJSON = `{"status":"MODERATE","reason":"Sugary","details":"High in sugar.","health_score":45,"harmful_ingredients":"Sugar"}`

func newAnalyzer(t *testing.T, exec ml.Executor, fallback Classifier) *Analyzer {
	return NewAnalyzer(exec, fallback, metrics.New(), zaptest.NewLogger(t))
}

func TestAnalyzeDirectSuccess(t *testing.T) {
	exec := &scriptedExecutor{script: []result{reply(moderateJSON)}}
	fallback := &countingClassifier{}

	scan := newAnalyzer(t, exec, fallback).Analyze(context.Background(), testRecord, vegan)

	require.Len(t, exec.calls, 1)
	assert.False(t, exec.calls[0].UseTools)
	assert.Zero(t, fallback.calls)
	assert.Equal(t, string(ml.StrategyDirect), scan.Strategy)
	assert.Equal(t, testRecord.ProductName, scan.ProductName)
	assert.Equal(t, models.Verdict{
		Status:             models.StatusModerate,
		Reason:             "Sugary",
		Details:            "High in sugar.",
		ResolvedIngredient: testRecord.IngredientText,
		HealthScore:        45,
		HarmfulIngredients: "Sugar",
		Source:             models.SourceAIDirect,
	}, scan.Verdict)
}

func TestAnalyzeDirectFailureFallsBackWithoutRetry(t *testing.T) {
	exec := &scriptedExecutor{script: []result{failure(network)}}
	fallback := &countingClassifier{}

	scan := newAnalyzer(t, exec, fallback).Analyze(context.Background(), testRecord, vegan)

	assert.Len(t, exec.calls, 1)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, models.StatusYes, scan.Verdict.Status)
	assert.Equal(t, 90, scan.Verdict.HealthScore)
	assert.Equal(t, models.NoHarmfulIngredients, scan.Verdict.HarmfulIngredients)
	assert.Equal(t, models.SourceFallback, scan.Verdict.Source)
}

func TestAnalyzeDirectMalformedFallsBack(t *testing.T) {
	exec := &scriptedExecutor{script: []result{reply(`{"status":"PERHAPS","health_score":50}`)}}

	scan := newAnalyzer(t, exec, nil).Analyze(context.Background(), testRecord, vegan)

	assert.Len(t, exec.calls, 1)
	assert.Equal(t, models.SourceFallback, scan.Verdict.Source)
}

func TestAnalyzeSearchGroundedRetriesOnceWithoutTools(t *testing.T) {
	tests := []struct {
		name string
		fail result
	}{
		{"backend rejects tools", failure(&ml.BackendError{StatusCode: 400, Payload: ml.APIError{Status: "INVALID_ARGUMENT"}})},
		{"timeout", failure(&ml.TimeoutError{})},
		{"empty content", reply("")},
		{"malformed", reply("no json here")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{script: []result{
				tt.fail,
				reply(`{"status":"NO","reason":"Milk","details":"d","ingredient":"Estimated Ingredients: milk, sugar","health_score":30,"harmful_ingredients":"Milk"}`),
			}}
			fallback := &countingClassifier{}

			scan := newAnalyzer(t, exec, fallback).Analyze(context.Background(), missing, vegan)

			require.Len(t, exec.calls, 2)
			assert.True(t, exec.calls[0].UseTools)
			assert.False(t, exec.calls[1].UseTools)
			assert.Contains(t, exec.calls[1].Text, exec.calls[0].Text)
			assert.Zero(t, fallback.calls)
			assert.Equal(t, models.SourceAIRetry, scan.Verdict.Source)
			assert.Equal(t, "Estimated Ingredients: milk, sugar", scan.Verdict.ResolvedIngredient)
			assert.Equal(t, string(ml.StrategySearchGrounded), scan.Strategy)
		})
	}
}

func TestAnalyzeSearchGroundedTotalFailure(t *testing.T) {
	exec := &scriptedExecutor{script: []result{failure(network), failure(network)}}
	fallback := &countingClassifier{}

	scan := newAnalyzer(t, exec, fallback).Analyze(context.Background(), missing, vegan)

	require.Len(t, exec.calls, 2)
	assert.False(t, exec.calls[1].UseTools)
	assert.Equal(t, 1, fallback.calls)
	assert.Equal(t, models.SourceFallback, scan.Verdict.Source)
	assert.Equal(t, models.IngredientsNotFound, scan.Verdict.ResolvedIngredient)
}

func TestAnalyzeSearchGroundedPrimarySuccess(t *testing.T) {
	exec := &scriptedExecutor{script: []result{reply(`{"status":"YES","health_score":70,"ingredient":"oats"}`)}}

	scan := newAnalyzer(t, exec, nil).Analyze(context.Background(), missing, vegan)

	assert.Len(t, exec.calls, 1)
	assert.Equal(t, models.SourceAIDirect, scan.Verdict.Source)
	assert.Equal(t, "oats", scan.Verdict.ResolvedIngredient)
}

func TestAnalyzeWithoutExecutor(t *testing.T) {
	scan := newAnalyzer(t, nil, nil).Analyze(context.Background(),
		models.NewProductRecord("Latte", "Coffee, Milk", "", ""), vegan)

	assert.Equal(t, models.StatusNo, scan.Verdict.Status)
	assert.Equal(t, 20, scan.Verdict.HealthScore)
	assert.Equal(t, models.SourceFallback, scan.Verdict.Source)
}

func TestAnalyzeMissingKeySearchGrounded(t *testing.T) {
	exec := &scriptedExecutor{script: []result{failure(ml.ErrMissingAPIKey)}}

	scan := newAnalyzer(t, exec, nil).Analyze(context.Background(), missing, vegan)

	assert.Len(t, exec.calls, 2)
	assert.Equal(t, models.SourceFallback, scan.Verdict.Source)
}

func TestAnalyzeNormalizesRecord(t *testing.T) {
	exec := &scriptedExecutor{script: []result{failure(network)}}
	raw := models.ProductRecord{ProductName: "Blank", IngredientText: "  "}

	scan := newAnalyzer(t, exec, nil).Analyze(context.Background(), raw, models.PreferenceProfile{})

	assert.True(t, scan.MissingIngredients)
	assert.Equal(t, models.IngredientsNotFound, scan.IngredientText)
	assert.Equal(t, string(ml.StrategySearchGrounded), scan.Strategy)
}

func sugarScan() models.Scan {
	return models.Scan{
		ProductRecord: models.NewProductRecord("Choco Spread", "Sugar, Palm Oil, Hazelnuts", "", ""),
		Verdict: models.Verdict{
			Status:             models.StatusNo,
			Reason:             "Too much sugar",
			ResolvedIngredient: "Sugar, Palm Oil, Hazelnuts",
			HealthScore:        15,
			HarmfulIngredients: "Sugar, Palm Oil",
			Source:             models.SourceAIDirect,
		},
	}
}

func TestReplyBuildsGroundedPrompt(t *testing.T) {
	exec := &scriptedExecutor{script: []result{reply("Because of Sugar and Palm Oil.")}}
	conv := NewConversation(exec, metrics.New(), zaptest.NewLogger(t))

	got := conv.Reply(context.Background(), sugarScan(), vegan, nil, "why?")

	assert.Equal(t, "Because of Sugar and Palm Oil.", got)
	require.Len(t, exec.calls, 1)
	prompt := exec.calls[0]
	assert.False(t, prompt.UseTools)
	assert.Contains(t, prompt.Text, "Sugar")
	assert.Contains(t, prompt.Text, "Palm Oil")
	assert.Contains(t, prompt.Text, "why?")
}

func TestReplyFailuresReturnApology(t *testing.T) {
	tests := []struct {
		name string
		res  result
	}{
		{"network", failure(network)},
		{"timeout", failure(&ml.TimeoutError{})},
		{"backend", failure(&ml.BackendError{StatusCode: 500})},
		{"empty", result{resp: &ml.RawResponse{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{script: []result{tt.res}}
			conv := NewConversation(exec, nil, zaptest.NewLogger(t))

			assert.Equal(t, Apology, conv.Reply(context.Background(), sugarScan(), vegan, nil, "why?"))
			assert.Len(t, exec.calls, 1)
		})
	}
}

func TestReplyWithoutExecutor(t *testing.T) {
	conv := NewConversation(nil, nil, nil)
	assert.Equal(t, Apology, conv.Reply(context.Background(), sugarScan(), vegan, nil, "why?"))
}

func TestTurnAppendsBothMessages(t *testing.T) {
	exec := &scriptedExecutor{script: []result{reply("First answer."), reply("Second answer.")}}
	conv := NewConversation(exec, nil, zaptest.NewLogger(t))
	session := models.ConversationSession{ScanID: "scan-1"}

	session = conv.Turn(context.Background(), session, sugarScan(), vegan, "  why? ")
	session = conv.Turn(context.Background(), session, sugarScan(), vegan, "what about palm oil?")

	require.Len(t, session.Messages, 4)
	assert.Equal(t, "scan-1", session.ScanID)
	assert.Equal(t, models.SenderUser, session.Messages[0].Sender)
	assert.Equal(t, "why?", session.Messages[0].Text)
	assert.Equal(t, models.SenderAgent, session.Messages[1].Sender)
	assert.Equal(t, "First answer.", session.Messages[1].Text)
	assert.Equal(t, "Second answer.", session.Messages[3].Text)

	// the second prompt carries the first exchange as history
	require.Len(t, exec.calls, 2)
	assert.Contains(t, exec.calls[1].Text, "User: why?")
	assert.Contains(t, exec.calls[1].Text, "Assistant: First answer.")
}

func TestTurnOnFailureStoresApology(t *testing.T) {
	exec := &scriptedExecutor{script: []result{failure(network)}}
	conv := NewConversation(exec, nil, zaptest.NewLogger(t))

	session := conv.Turn(context.Background(), models.ConversationSession{ScanID: "s"}, sugarScan(), vegan, "why?")

	require.Len(t, session.Messages, 2)
	assert.Equal(t, Apology, session.Messages[1].Text)
}
