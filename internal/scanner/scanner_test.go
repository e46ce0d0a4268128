package scanner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/franckalain/foodguard/internal/database"
	"github.com/franckalain/foodguard/internal/engine"
	"github.com/franckalain/foodguard/internal/lookup"
	"github.com/franckalain/foodguard/internal/ml"
	"github.com/franckalain/foodguard/internal/models"
)

type fakeLookup map[string]models.ProductRecord

func (f fakeLookup) Lookup(_ context.Context, barcode string) (models.ProductRecord, error) {
	r, ok := f[barcode]
	if !ok {
		return models.ProductRecord{}, lookup.ErrProductNotFound
	}
	r.Barcode = barcode
	return r, nil
}

// echoExecutor answers verdict prompts with a fixed verdict and chat
// prompts with a fixed sentence.
type echoExecutor struct {
	verdict string
	chat    string
	prompts []string
}

func (e *echoExecutor) Execute(_ context.Context, spec ml.PromptSpec) (*ml.RawResponse, error) {
	e.prompts = append(e.prompts, spec.Text)
	text := e.chat
	if e.verdict != "" && len(e.prompts) == 1 {
		text = e.verdict
	}
	return &ml.RawResponse{Candidates: []ml.Candidate{{Content: &ml.Content{Parts: []ml.Part{{Text: text}}}}}}, nil
}

func (e *echoExecutor) Name() string { return "echo" }

func newService(t *testing.T, exec ml.Executor) (*Service, *database.SQLiteDB) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	products := fakeLookup{
		"3017620422003": models.NewProductRecord("Choco Spread", "Sugar, Palm Oil, Hazelnuts, Skimmed Milk", "", ""),
		"0000000000017": models.NewProductRecord("Mystery Bar", "", "", ""),
	}
	svc := New(products,
		engine.NewAnalyzer(exec, nil, nil, logger),
		engine.NewConversation(exec, nil, logger),
		db, logger)
	return svc, db
}

func TestScanStoresVerdictAndEmptySession(t *testing.T) {
	exec := &echoExecutor{verdict: `{"status":"NO","reason":"Sugar","details":"d","health_score":10,"harmful_ingredients":"Sugar, Palm Oil"}`}
	svc, db := newService(t, exec)
	ctx := context.Background()

	scan, err := svc.Scan(ctx, "3017620422003")
	require.NoError(t, err)
	assert.NotEmpty(t, scan.ID)
	assert.Equal(t, "3017620422003", scan.Barcode)
	assert.Equal(t, models.SourceAIDirect, scan.Verdict.Source)

	stored, err := db.GetScan(ctx, scan.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sugar, Palm Oil", stored.Verdict.HarmfulIngredients)

	session, err := svc.Session(ctx, scan.ID)
	require.NoError(t, err)
	assert.Empty(t, session.Messages)
}

func TestScanUsesStoredPreferences(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.UpdatePreferences(ctx, models.PreferenceProfile{Diets: []string{"Vegan"}})
	require.NoError(t, err)

	scan, err := svc.Scan(ctx, "3017620422003")
	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, scan.Verdict.Source)
	assert.Equal(t, models.StatusNo, scan.Verdict.Status)
}

func TestScanUnknownBarcode(t *testing.T) {
	svc, _ := newService(t, nil)
	_, err := svc.Scan(context.Background(), "4006381333931")
	assert.ErrorIs(t, err, lookup.ErrProductNotFound)
}

func TestAnalyzeRecord(t *testing.T) {
	svc, _ := newService(t, nil)

	scan, err := svc.Analyze(context.Background(), models.ProductRecord{ProductName: "Homemade Soup", IngredientText: ""})
	require.NoError(t, err)
	assert.True(t, scan.MissingIngredients)
	assert.Equal(t, string(ml.StrategySearchGrounded), scan.Strategy)

	_, err = svc.Analyze(context.Background(), models.ProductRecord{})
	assert.ErrorIs(t, err, ErrEmptyProduct)
}

func TestAskPersistsSession(t *testing.T) {
	exec := &echoExecutor{
		verdict: `{"status":"NO","reason":"Sugar","details":"d","health_score":10,"harmful_ingredients":"Sugar, Palm Oil"}`,
		chat:    "Mostly because of sugar.",
	}
	svc, _ := newService(t, exec)
	ctx := context.Background()

	scan, err := svc.Scan(ctx, "3017620422003")
	require.NoError(t, err)

	session, err := svc.Ask(ctx, scan.ID, "why?")
	require.NoError(t, err)
	require.Len(t, session.Messages, 2)
	assert.Equal(t, "Mostly because of sugar.", session.Messages[1].Text)
	assert.Contains(t, exec.prompts[1], "Sugar, Palm Oil")
	assert.Contains(t, exec.prompts[1], "why?")

	_, err = svc.Ask(ctx, scan.ID, "anything else?")
	require.NoError(t, err)

	stored, err := svc.Session(ctx, scan.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Messages, 4)
}

func TestAskErrors(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	_, err := svc.Ask(ctx, "whatever", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = svc.Ask(ctx, "missing", "why?")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestAskWithoutBackendStoresApology(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	scan, err := svc.Scan(ctx, "0000000000017")
	require.NoError(t, err)

	session, err := svc.Ask(ctx, scan.ID, "why?")
	require.NoError(t, err)
	assert.Equal(t, engine.Apology, session.Messages[1].Text)
}

func TestHistoryAndDelete(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	a, err := svc.Scan(ctx, "3017620422003")
	require.NoError(t, err)
	_, err = svc.Scan(ctx, "0000000000017")
	require.NoError(t, err)

	history, err := svc.History(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	n, err := svc.DeleteHistory(ctx, []string{a.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = svc.Get(ctx, a.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
