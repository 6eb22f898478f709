// Package cost estimates USD spend for backend calls, for trace attribution.
package cost

// ModelRate holds per-model token pricing (USD per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps backend model IDs to pricing.
type Rates struct {
	Backend map[string]ModelRate `yaml:"backend" mapstructure:"backend"`
}

// Calculator computes estimated costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Backend computes the cost of a completion call. Unknown models cost 0.
func (c *Calculator) Backend(model string, inputTokens, outputTokens int) float64 {
	rate, ok := c.rates.Backend[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
}

// EstimateTokens approximates token count from character count (~4 chars per
// token). Used when the backend response carries no usage block.
func EstimateTokens(chars int) int {
	if chars <= 0 {
		return 0
	}
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

// DefaultRates returns the default pricing table for the supported models.
func DefaultRates() Rates {
	return Rates{
		Backend: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
			"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
		},
	}
}
