package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/franckalain/foodguard/internal/models"
)

func TestSelectStrategy(t *testing.T) {
	missing := models.NewProductRecord("Mystery Bar", "", "", "")
	known := models.NewProductRecord("Crackers", "Wheat flour, salt", "", "")

	assert.Equal(t, StrategySearchGrounded, SelectStrategy(missing))
	assert.Equal(t, StrategyDirect, SelectStrategy(known))
}

func TestBuildPromptDirect(t *testing.T) {
	record := models.NewProductRecord("Test Product", "Sugar, Water, Artificial Flavor", "", "")
	prefs := models.PreferenceProfile{Diets: []string{"vegan", "keto"}}

	p := BuildPrompt(StrategyDirect, record, prefs)

	assert.False(t, p.UseTools)
	assert.Contains(t, p.Text, "Product: Test Product")
	assert.Contains(t, p.Text, "Ingredients: Sugar, Water, Artificial Flavor")
	assert.Contains(t, p.Text, "Diets: vegan, keto")
	assert.Contains(t, p.Text, "Allergies: None")
	assert.Contains(t, p.Text, "single JSON object and nothing else")
	for _, field := range []string{`"status"`, `"reason"`, `"details"`, `"health_score"`, `"harmful_ingredients"`} {
		assert.Contains(t, p.Text, field)
	}
	assert.NotContains(t, p.Text, `"ingredient"`)
}

func TestBuildPromptSearchGrounded(t *testing.T) {
	record := models.NewProductRecord("Mystery Bar", "", "", "")
	prefs := models.PreferenceProfile{Allergies: []string{"peanuts"}}

	p := BuildPrompt(StrategySearchGrounded, record, prefs)

	assert.True(t, p.UseTools)
	assert.Contains(t, p.Text, `"Mystery Bar"`)
	assert.Contains(t, p.Text, "Estimated Ingredients")
	assert.Contains(t, p.Text, `"ingredient"`)
	assert.Contains(t, p.Text, "Diets: None")
	assert.Contains(t, p.Text, "Allergies: peanuts")
	assert.NotContains(t, p.Text, models.IngredientsNotFound)
}

func TestBuildPromptDeterministic(t *testing.T) {
	record := models.NewProductRecord("Granola", "Oats, honey", "", "")
	prefs := models.PreferenceProfile{Diets: []string{"vegan"}, Allergies: []string{"nuts"}}

	for _, s := range []Strategy{StrategyDirect, StrategySearchGrounded} {
		assert.Equal(t, BuildPrompt(s, record, prefs), BuildPrompt(s, record, prefs))
	}
}

func TestPromptDegraded(t *testing.T) {
	record := models.NewProductRecord("Mystery Bar", "", "", "")
	p := BuildPrompt(StrategySearchGrounded, record, models.PreferenceProfile{})

	d := p.Degraded()

	assert.False(t, d.UseTools)
	assert.True(t, len(d.Text) > len(p.Text))
	assert.Contains(t, d.Text, p.Text)
	assert.Contains(t, d.Text, "internal knowledge")
}

func TestRenderTags(t *testing.T) {
	assert.Equal(t, "None", RenderTags(nil))
	assert.Equal(t, "None", RenderTags([]string{" ", ""}))
	assert.Equal(t, "vegan, gluten-free", RenderTags([]string{"vegan", " gluten-free "}))
}

func TestBuildChatPrompt(t *testing.T) {
	scan := models.Scan{
		ProductRecord: models.NewProductRecord("Choco Spread", "Sugar, Palm Oil, Hazelnuts", "", ""),
		Verdict: models.Verdict{
			Status:             models.StatusNo,
			Reason:             "High sugar",
			ResolvedIngredient: "Sugar, Palm Oil, Hazelnuts",
			HarmfulIngredients: "Sugar, Palm Oil",
		},
	}
	history := []models.ConversationMessage{
		{Text: "is it vegan?", Sender: models.SenderUser},
		{Text: "It appears so.", Sender: models.SenderAgent},
	}

	p := BuildChatPrompt(scan, models.PreferenceProfile{Diets: []string{"vegan"}}, history, "why?")

	assert.False(t, p.UseTools)
	assert.Contains(t, p.Text, "Sugar")
	assert.Contains(t, p.Text, "Palm Oil")
	assert.Contains(t, p.Text, "why?")
	assert.Contains(t, p.Text, "Verdict: NO")
	assert.Contains(t, p.Text, "User: is it vegan?")
	assert.Contains(t, p.Text, "Assistant: It appears so.")
	assert.Contains(t, p.Text, "- Diets: vegan")
	assert.Contains(t, p.Text, "plain text")
}

func TestBuildChatPromptEmptyHistory(t *testing.T) {
	p := BuildChatPrompt(models.Scan{}, models.PreferenceProfile{}, nil, "is this healthy?")

	assert.Contains(t, p.Text, "(none)")
	assert.Contains(t, p.Text, `- Name: "Unknown"`)
	assert.Contains(t, p.Text, "Harmful Ingredients Found: None")
}
