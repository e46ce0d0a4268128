package models

import "strings"

// Status is the safety judgement for a product.
type Status string

const (
	StatusYes      Status = "YES"
	StatusNo       Status = "NO"
	StatusModerate Status = "MODERATE"
)

// ParseStatus accepts a status regardless of case or surrounding space.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusYes, StatusNo, StatusModerate:
		return st, true
	default:
		return "", false
	}
}

// Source records which path produced a verdict.
type Source string

const (
	// SourceAIDirect is a verdict from the first AI attempt.
	SourceAIDirect Source = "AI_DIRECT"
	// SourceAIRetry is a verdict from the tool-less retry of a search-grounded request.
	SourceAIRetry Source = "AI_RETRY"
	// SourceFallback is a verdict from the offline rule classifier.
	SourceFallback Source = "FALLBACK"
)

// NoHarmfulIngredients is the literal used when nothing harmful was found.
const NoHarmfulIngredients = "None"

// Verdict is the structured safety judgement for a product and profile.
type Verdict struct {
	Status             Status `json:"status" validate:"oneof=YES NO MODERATE"`
	Reason             string `json:"reason"`
	Details            string `json:"details"`
	ResolvedIngredient string `json:"resolved_ingredient"`
	HealthScore        int    `json:"health_score" validate:"min=0,max=100"`   // 0 (unhealthy) to 100 (very healthy)
	HarmfulIngredients string `json:"harmful_ingredients" validate:"required"` // comma-joined or "None"
	Source             Source `json:"source"`
}

// Consistent reports whether a NO verdict names at least one harmful
// ingredient. Violations are a quality signal, not an error.
func (v Verdict) Consistent() bool {
	if v.Status != StatusNo {
		return true
	}
	h := strings.TrimSpace(v.HarmfulIngredients)
	return h != "" && !strings.EqualFold(h, NoHarmfulIngredients)
}

// Scan is a product record with its verdict attached.
type Scan struct {
	ProductRecord
	Verdict  Verdict `json:"verdict"`
	Strategy string  `json:"strategy"`
}
