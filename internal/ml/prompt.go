package ml

import (
	"fmt"
	"strings"

	"github.com/franckalain/foodguard/internal/models"
)

// PromptSpec is a rendered request for the AI backend.
type PromptSpec struct {
	Text string
	// UseTools asks the backend to ground the answer with web search.
	UseTools bool
}

const internalKnowledgeNote = "\n\n(Search is unavailable. Estimate the ingredients from your internal knowledge of this product.)"

// Degraded returns the retry variant of a search-grounded prompt: tools off
// and an explicit instruction to rely on internal knowledge.
func (p PromptSpec) Degraded() PromptSpec {
	return PromptSpec{Text: p.Text + internalKnowledgeNote, UseTools: false}
}

// BuildPrompt renders the verdict prompt for a strategy. It is pure and
// deterministic.
func BuildPrompt(strategy Strategy, record models.ProductRecord, prefs models.PreferenceProfile) PromptSpec {
	var b strings.Builder

	switch strategy {
	case StrategySearchGrounded:
		b.WriteString("You are a smart nutritionist assistant.\n")
		fmt.Fprintf(&b, "The user scanned a product: \"%s\".\n", record.ProductName)
		b.WriteString("The barcode database did not have its ingredient list.\n\n")
		fmt.Fprintf(&b, "Search the web for the official ingredient list of \"%s\" and analyze it against the user's preferences.\n", record.ProductName)
		b.WriteString("If you cannot find the exact ingredients online:\n")
		b.WriteString("1. Estimate the likely ingredients from your knowledge of this product.\n")
		b.WriteString("2. Clearly label them as \"Estimated Ingredients\".\n\n")
	default:
		b.WriteString("You are a strict nutritionist.\n\n")
		fmt.Fprintf(&b, "Product: %s\n", record.ProductName)
		fmt.Fprintf(&b, "Ingredients: %s\n\n", record.IngredientText)
		b.WriteString("Judge whether this product is safe for the user given the diets and allergies below.\n\n")
	}

	writePreferences(&b, prefs, "")
	b.WriteString("\n")
	writeOutputContract(&b, strategy == StrategySearchGrounded)

	return PromptSpec{
		Text:     b.String(),
		UseTools: strategy == StrategySearchGrounded,
	}
}

func writePreferences(b *strings.Builder, prefs models.PreferenceProfile, bullet string) {
	b.WriteString("User Preferences:\n")
	fmt.Fprintf(b, "%sDiets: %s\n", bullet, RenderTags(prefs.Diets))
	fmt.Fprintf(b, "%sAllergies: %s\n", bullet, RenderTags(prefs.Allergies))
}

// The parser depends on this contract: one JSON object, no surrounding prose.
func writeOutputContract(b *strings.Builder, withIngredient bool) {
	b.WriteString("Reply with a single JSON object and nothing else, using exactly these fields:\n")
	b.WriteString("{\n")
	b.WriteString("  \"status\": \"YES | NO | MODERATE\",\n")
	b.WriteString("  \"reason\": \"Short reason\",\n")
	b.WriteString("  \"details\": \"Longer explanation\",\n")
	if withIngredient {
		b.WriteString("  \"ingredient\": \"The found or estimated ingredient list\",\n")
	}
	b.WriteString("  \"health_score\": an integer from 0 to 100 (100 = very healthy, 0 = unhealthy),\n")
	b.WriteString("  \"harmful_ingredients\": \"A short comma-separated list of ONLY the harmful or unhealthy ingredients (e.g. 'Sugar, Palm Oil, Red 40'), or 'None'\"\n")
	b.WriteString("}\n")
}

// RenderTags joins tags with ", " or returns "None" for an empty set.
func RenderTags(tags []string) string {
	clean := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			clean = append(clean, t)
		}
	}
	if len(clean) == 0 {
		return "None"
	}
	return strings.Join(clean, ", ")
}

// BuildChatPrompt renders a follow-up question about a verdict together with
// the prior transcript. Replies are plain text.
func BuildChatPrompt(scan models.Scan, prefs models.PreferenceProfile, history []models.ConversationMessage, question string) PromptSpec {
	var b strings.Builder

	b.WriteString("You are a smart nutritionist assistant.\n")
	b.WriteString("The user is asking about a food product they just scanned.\n\n")

	b.WriteString("Product Context:\n")
	fmt.Fprintf(&b, "- Name: \"%s\"\n", orUnknown(scan.ProductName))
	fmt.Fprintf(&b, "- Ingredients: \"%s\"\n", orUnknown(scan.Verdict.ResolvedIngredient))
	fmt.Fprintf(&b, "- Verdict: %s\n", scan.Verdict.Status)
	fmt.Fprintf(&b, "- Harmful Ingredients Found: %s\n", orNone(scan.Verdict.HarmfulIngredients))
	fmt.Fprintf(&b, "- Reason for Verdict: %s\n\n", scan.Verdict.Reason)

	writePreferences(&b, prefs, "- ")

	b.WriteString("\nConversation History:\n")
	if len(history) == 0 {
		b.WriteString("(none)\n")
	}
	for _, m := range history {
		label := "User"
		if m.Sender == models.SenderAgent {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, strings.TrimSpace(m.Text))
	}

	fmt.Fprintf(&b, "\nCurrent User Question:\n\"%s\"\n\n", question)

	b.WriteString("Instructions:\n")
	b.WriteString("1. Answer the question directly and concisely.\n")
	b.WriteString("2. If the user asks why, explain the verdict from the harmful ingredients found.\n")
	b.WriteString("3. Do not list every ingredient unless asked; focus on the ones that drove the verdict.\n")
	b.WriteString("4. Keep it brief and friendly.\n\n")
	b.WriteString("Reply with plain text only, no JSON.\n")

	return PromptSpec{Text: b.String()}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Unknown"
	}
	return s
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return models.NoHarmfulIngredients
	}
	return s
}
