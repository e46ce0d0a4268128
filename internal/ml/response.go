package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/franckalain/foodguard/internal/models"
)

var validate = validator.New()

// RawResponse is the generateContent envelope every backend converts its
// SDK response into. Only the candidates/content/parts/text chain is used.
type RawResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
}

// Candidate is one generated answer.
type Candidate struct {
	Content      *Content `json:"content,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
}

// Content is an ordered list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Part is a single piece of content. Only text parts are used.
type Part struct {
	Text string `json:"text,omitempty"`
}

// PromptFeedback explains why a prompt produced no candidates.
type PromptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

// ExtractText returns the concatenated text of the first candidate.
func ExtractText(raw *RawResponse) (string, error) {
	if raw == nil {
		return "", &EmptyContentError{Reason: "no response"}
	}
	if len(raw.Candidates) == 0 {
		reason := "no candidates"
		if raw.PromptFeedback != nil && raw.PromptFeedback.BlockReason != "" {
			reason += ", prompt blocked: " + raw.PromptFeedback.BlockReason
		}
		return "", &EmptyContentError{Reason: reason}
	}

	c := raw.Candidates[0]
	if c.Content == nil || len(c.Content.Parts) == 0 {
		reason := "candidate has no content"
		if c.FinishReason != "" {
			reason += ", finish reason " + c.FinishReason
		}
		return "", &EmptyContentError{Reason: reason}
	}

	var b strings.Builder
	for _, p := range c.Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", &EmptyContentError{Reason: "candidate text is blank"}
	}
	return text, nil
}

// verdictPayload is the JSON object the prompt contract asks for.
type verdictPayload struct {
	Status             string          `json:"status"`
	Reason             flexString      `json:"reason"`
	Details            flexString      `json:"details"`
	Ingredient         flexString      `json:"ingredient"`
	HealthScore        json.RawMessage `json:"health_score"`
	HarmfulIngredients flexString      `json:"harmful_ingredients"`
}

// ParseVerdict extracts and validates a verdict from a raw response.
// Out-of-range health scores are clamped into [0,100].
func ParseVerdict(raw *RawResponse, record models.ProductRecord) (models.Verdict, error) {
	text, err := ExtractText(raw)
	if err != nil {
		return models.Verdict{}, err
	}

	var payload verdictPayload
	dec := json.NewDecoder(strings.NewReader(extractJSONObject(text)))
	if err := dec.Decode(&payload); err != nil {
		return models.Verdict{}, &MalformedResponseError{Reason: "response is not a JSON object", Err: err}
	}

	status, ok := models.ParseStatus(payload.Status)
	if !ok {
		return models.Verdict{}, &MalformedResponseError{Reason: fmt.Sprintf("invalid status %q", payload.Status)}
	}

	score, err := parseHealthScore(payload.HealthScore)
	if err != nil {
		return models.Verdict{}, &MalformedResponseError{Reason: "invalid health_score", Err: err}
	}

	harmful := strings.TrimSpace(string(payload.HarmfulIngredients))
	if harmful == "" {
		harmful = models.NoHarmfulIngredients
	}

	resolved := record.IngredientText
	if record.MissingIngredients {
		if found := strings.TrimSpace(string(payload.Ingredient)); found != "" {
			resolved = found
		}
	}

	v := models.Verdict{
		Status:             status,
		Reason:             strings.TrimSpace(string(payload.Reason)),
		Details:            strings.TrimSpace(string(payload.Details)),
		ResolvedIngredient: resolved,
		HealthScore:        score,
		HarmfulIngredients: harmful,
	}
	if err := validate.Struct(v); err != nil {
		return models.Verdict{}, &MalformedResponseError{Reason: "verdict failed validation", Err: err}
	}
	return v, nil
}

// extractJSONObject strips markdown code fences and any prose around the
// outermost JSON object.
func extractJSONObject(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if nl := strings.IndexByte(text, '\n'); nl != -1 {
			// drop a language tag such as "json"
			if !strings.Contains(text[:nl], "{") {
				text = text[nl+1:]
			}
		}
		text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
	}
	if strings.HasPrefix(text, "{") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return text
	}
	return text[start : end+1]
}

func parseHealthScore(raw json.RawMessage) (int, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("health_score is missing")
	}

	var num json.Number
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		num = json.Number(strings.TrimSpace(s))
	} else if err := json.Unmarshal(raw, &num); err != nil {
		return 0, fmt.Errorf("health_score %s is not a number", raw)
	}

	f, err := num.Float64()
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("health_score %q is not a number", string(num))
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("health_score %v is not an integer", f)
	}
	return clampScore(f), nil
}

func clampScore(f float64) int {
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	default:
		return int(f)
	}
}

// flexString accepts either a JSON string or an array of strings, which
// models sometimes emit for list-like fields. Arrays are comma-joined.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []string
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*s = flexString(strings.Join(items, ", "))
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = flexString(str)
	return nil
}
