package ml

import "github.com/franckalain/foodguard/internal/models"

// Strategy is the prompt and tool configuration used to analyze a product.
type Strategy string

const (
	// StrategyDirect judges the ingredient list supplied by the lookup.
	StrategyDirect Strategy = "DIRECT"
	// StrategySearchGrounded asks the model to find the ingredient list itself.
	StrategySearchGrounded Strategy = "SEARCH_GROUNDED"
)

// SelectStrategy picks search grounding only when the record has no
// ingredient list.
func SelectStrategy(record models.ProductRecord) Strategy {
	if record.MissingIngredients {
		return StrategySearchGrounded
	}
	return StrategyDirect
}
