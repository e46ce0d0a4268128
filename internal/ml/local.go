package ml

import (
	"strings"

	"github.com/franckalain/foodguard/internal/models"
)

const (
	localReasonSafe   = "Safe to consume based on your profile."
	localReasonAnimal = "Contains animal products (milk/egg/honey)."
	localHarmful      = "Contains animal products"
	localDetails      = "This verdict comes from offline rules because the AI service was unavailable. Allergies were not evaluated."
)

// animalKeywords are matched as substrings of the lower-cased ingredient text.
var animalKeywords = []string{"milk", "egg", "honey"}

// LocalClassifier is the rule-based verdict used when the AI path fails.
// It only knows the vegan diet; allergies and other diets are ignored.
type LocalClassifier struct{}

// NewLocalClassifier creates a new local classifier
func NewLocalClassifier() *LocalClassifier {
	return &LocalClassifier{}
}

// Classify always returns a verdict.
func (LocalClassifier) Classify(record models.ProductRecord, prefs models.PreferenceProfile) models.Verdict {
	text := strings.ToLower(record.IngredientText)

	v := models.Verdict{
		Status:             models.StatusYes,
		Reason:             localReasonSafe,
		Details:            localDetails,
		ResolvedIngredient: record.IngredientText,
		HealthScore:        90,
		HarmfulIngredients: models.NoHarmfulIngredients,
		Source:             models.SourceFallback,
	}

	if prefs.HasDiet("vegan") && containsAny(text, animalKeywords) {
		v.Status = models.StatusNo
		v.Reason = localReasonAnimal
		v.HealthScore = 20
		v.HarmfulIngredients = localHarmful
	}
	return v
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
