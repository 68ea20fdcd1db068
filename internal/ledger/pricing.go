package ledger

import (
	"strings"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
)

const pricingAsOf = "2026-08"

// PricingAsOf indicates the effective date of the estimation table.
func PricingAsOf() string {
	return pricingAsOf
}

type modelPrice struct {
	Pattern          string
	InputUSDPerMTok  float64
	OutputUSDPerMTok float64
}

// Small-model rates only. Local providers are free; the table exists so cloud
// delegation shows up in the usage summary with a dollar figure attached.
// Estimates for budgeting, not billing reconciliation.
var providerPrices = map[string][]modelPrice{
	"groq": {
		{Pattern: "llama-3.1-8b*", InputUSDPerMTok: 0.05, OutputUSDPerMTok: 0.08},
		{Pattern: "llama-3.3-70b*", InputUSDPerMTok: 0.59, OutputUSDPerMTok: 0.79},
	},
	"gemini": {
		{Pattern: "gemini-2.0-flash*", InputUSDPerMTok: 0.10, OutputUSDPerMTok: 0.40},
		{Pattern: "gemini-2.5-flash*", InputUSDPerMTok: 0.15, OutputUSDPerMTok: 0.60},
	},
	"anthropic": {
		{Pattern: "claude-haiku*", InputUSDPerMTok: 0.25, OutputUSDPerMTok: 1.25},
		{Pattern: "claude-sonnet*", InputUSDPerMTok: 3.00, OutputUSDPerMTok: 15.00},
	},
	"ondevice": {{Pattern: "*", InputUSDPerMTok: 0, OutputUSDPerMTok: 0}},
	"mlx":      {{Pattern: "*", InputUSDPerMTok: 0, OutputUSDPerMTok: 0}},
	"ollama":   {{Pattern: "*", InputUSDPerMTok: 0, OutputUSDPerMTok: 0}},
	"lmstudio": {{Pattern: "*", InputUSDPerMTok: 0, OutputUSDPerMTok: 0}},
}

// EstimateUSD returns an estimated cost for the given provider/model and
// token counts. ok is false when the model is not in the table.
func EstimateUSD(provider, model string, inputTokens, outputTokens int64) (float64, bool) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	model = strings.ToLower(strings.TrimSpace(model))
	if provider == "" {
		return 0, false
	}

	prices, ok := providerPrices[provider]
	if !ok {
		return 0, false
	}

	for _, p := range prices {
		if wildcard.Match(strings.ToLower(p.Pattern), model) {
			usd := (float64(inputTokens)/1_000_000.0)*p.InputUSDPerMTok +
				(float64(outputTokens)/1_000_000.0)*p.OutputUSDPerMTok
			return usd, true
		}
	}
	return 0, false
}
