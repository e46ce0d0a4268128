package models

import (
	"strings"
	"time"
)

// IngredientsNotFound is stored in place of the ingredient list when the
// product database has none for a barcode.
const IngredientsNotFound = "Ingredients not found"

// ProductRecord represents a product resolved from a barcode lookup
type ProductRecord struct {
	ID                 string    `json:"id"`
	Barcode            string    `json:"barcode,omitempty"`
	ProductName        string    `json:"product_name"`
	IngredientText     string    `json:"ingredient_text"`
	MissingIngredients bool      `json:"missing_ingredients"`
	ImageURI           string    `json:"image_uri"`
	NutritionImageURI  string    `json:"nutrition_image_uri"`
	CreatedAt          time.Time `json:"created_at"`
}

// NewProductRecord builds a record, substituting the sentinel for blank
// ingredient text.
func NewProductRecord(name, ingredients, imageURI, nutritionImageURI string) ProductRecord {
	r := ProductRecord{
		ProductName:       strings.TrimSpace(name),
		IngredientText:    ingredients,
		ImageURI:          imageURI,
		NutritionImageURI: nutritionImageURI,
	}
	return r.Normalized()
}

// Normalized returns a copy with the ingredient sentinel applied and
// MissingIngredients derived from it.
func (r ProductRecord) Normalized() ProductRecord {
	if strings.TrimSpace(r.IngredientText) == "" {
		r.IngredientText = IngredientsNotFound
	}
	r.MissingIngredients = r.IngredientText == IngredientsNotFound
	return r
}

// PreferenceProfile holds the diet and allergy tags a user selected.
// Tags are free-form identifiers such as "vegan" or "peanuts".
type PreferenceProfile struct {
	Diets     []string `json:"diets"`
	Allergies []string `json:"allergies"`
}

// Normalized lower-cases and trims tags and drops duplicates, keeping the
// order in which tags first appear.
func (p PreferenceProfile) Normalized() PreferenceProfile {
	return PreferenceProfile{
		Diets:     normalizeTags(p.Diets),
		Allergies: normalizeTags(p.Allergies),
	}
}

// HasDiet reports whether the profile contains the given diet tag.
func (p PreferenceProfile) HasDiet(tag string) bool {
	tag = strings.ToLower(strings.TrimSpace(tag))
	for _, d := range p.Diets {
		if strings.ToLower(strings.TrimSpace(d)) == tag {
			return true
		}
	}
	return false
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
