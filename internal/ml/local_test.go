package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/franckalain/foodguard/internal/models"
)

func TestLocalClassifier(t *testing.T) {
	vegan := models.PreferenceProfile{Diets: []string{"vegan"}}
	tests := []struct {
		name        string
		ingredients string
		prefs       models.PreferenceProfile
		wantStatus  models.Status
		wantScore   int
	}{
		{"vegan with milk", "Sugar, skimmed MILK powder", vegan, models.StatusNo, 20},
		{"vegan with egg", "Flour, eggs", vegan, models.StatusNo, 20},
		{"vegan with honey", "Oats, Honey", vegan, models.StatusNo, 20},
		{"vegan clean", "Sugar, Water, Artificial Flavor", vegan, models.StatusYes, 90},
		{"no diets with milk", "Whole milk", models.PreferenceProfile{}, models.StatusYes, 90},
		{"allergy ignored", "Peanuts", models.PreferenceProfile{Allergies: []string{"peanuts"}}, models.StatusYes, 90},
		{"other diet ignored", "Pork", models.PreferenceProfile{Diets: []string{"halal"}}, models.StatusYes, 90},
	}

	c := NewLocalClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := models.NewProductRecord("P", tt.ingredients, "", "")
			v := c.Classify(record, tt.prefs)

			assert.Equal(t, tt.wantStatus, v.Status)
			assert.Equal(t, tt.wantScore, v.HealthScore)
			assert.Equal(t, models.SourceFallback, v.Source)
			assert.Equal(t, record.IngredientText, v.ResolvedIngredient)
			assert.True(t, v.Consistent())
			if tt.wantStatus == models.StatusYes {
				assert.Equal(t, models.NoHarmfulIngredients, v.HarmfulIngredients)
			} else {
				assert.Equal(t, "Contains animal products", v.HarmfulIngredients)
			}
		})
	}
}

func TestLocalClassifierMissingIngredients(t *testing.T) {
	record := models.NewProductRecord("Mystery Bar", "", "", "")
	v := NewLocalClassifier().Classify(record, models.PreferenceProfile{Diets: []string{"vegan"}})

	assert.Equal(t, models.StatusYes, v.Status)
	assert.Equal(t, models.IngredientsNotFound, v.ResolvedIngredient)
}
