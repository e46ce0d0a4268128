// Package lookup resolves barcodes to product records using Open Food Facts.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/franckalain/foodguard/internal/models"
)

const (
	DefaultBaseURL   = "https://world.openfoodfacts.org"
	DefaultUserAgent = "FoodGuard/1.0 (+https://github.com/franckalain/foodguard)"
	UnknownProduct   = "Unknown Product"
	// StockImageURI is shown when the product has no photo.
	StockImageURI = "https://images.unsplash.com/photo-1542838132-92c53300491e?auto=format&fit=crop&w=800&q=80"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrInvalidBarcode  = errors.New("barcode must be 8 to 14 digits")
)

var barcodePattern = regexp.MustCompile(`^[0-9]{8,14}$`)

// Client looks products up by barcode.
type Client interface {
	Lookup(ctx context.Context, barcode string) (models.ProductRecord, error)
}

// OpenFoodFacts is a Client for the Open Food Facts v0 product API.
type OpenFoodFacts struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenFoodFacts creates a client. Empty baseURL uses DefaultBaseURL.
func NewOpenFoodFacts(baseURL string, timeout time.Duration, logger *zap.Logger) *OpenFoodFacts {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenFoodFacts{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("openfoodfacts"),
	}
}

type productResponse struct {
	Status  int     `json:"status"`
	Product product `json:"product"`
}

type product struct {
	ProductName            string       `json:"product_name"`
	IngredientsTextEN      string       `json:"ingredients_text_en"`
	IngredientsText        string       `json:"ingredients_text"`
	Ingredients            []ingredient `json:"ingredients"`
	ImageURL               string       `json:"image_url"`
	ImageFrontURL          string       `json:"image_front_url"`
	ImageNutritionURL      string       `json:"image_nutrition_url"`
	ImageNutritionSmallURL string       `json:"image_nutrition_small_url"`
}

type ingredient struct {
	Text string `json:"text"`
}

// Lookup fetches a product. Absent ingredient text becomes the
// models.IngredientsNotFound sentinel.
func (c *OpenFoodFacts) Lookup(ctx context.Context, barcode string) (models.ProductRecord, error) {
	barcode = strings.TrimSpace(barcode)
	if !barcodePattern.MatchString(barcode) {
		return models.ProductRecord{}, ErrInvalidBarcode
	}

	url := fmt.Sprintf("%s/api/v0/product/%s.json", c.baseURL, barcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.ProductRecord{}, fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("looking up product", zap.String("barcode", barcode))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.ProductRecord{}, fmt.Errorf("lookup %s: %w", barcode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ProductRecord{}, ErrProductNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.ProductRecord{}, fmt.Errorf("lookup %s: unexpected status %d: %s", barcode, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var data productResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return models.ProductRecord{}, fmt.Errorf("decode product %s: %w", barcode, err)
	}
	if data.Status != 1 {
		return models.ProductRecord{}, ErrProductNotFound
	}

	record := toRecord(data.Product)
	record.Barcode = barcode
	c.logger.Info("product resolved",
		zap.String("barcode", barcode),
		zap.String("product", record.ProductName),
		zap.Bool("missing_ingredients", record.MissingIngredients))
	return record, nil
}

func toRecord(p product) models.ProductRecord {
	ingredients := firstNonEmpty(p.IngredientsTextEN, p.IngredientsText)
	if ingredients == "" && len(p.Ingredients) > 0 {
		parts := make([]string, 0, len(p.Ingredients))
		for _, i := range p.Ingredients {
			if t := strings.TrimSpace(i.Text); t != "" {
				parts = append(parts, t)
			}
		}
		ingredients = strings.Join(parts, ", ")
	}

	image := firstNonEmpty(p.ImageURL, p.ImageFrontURL, StockImageURI)
	nutrition := firstNonEmpty(p.ImageNutritionURL, p.ImageNutritionSmallURL, image)
	name := firstNonEmpty(p.ProductName, UnknownProduct)

	return models.NewProductRecord(name, ingredients, image, nutrition)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
