package llm

import "strings"

// pricing is USD per million tokens.
type pricing struct {
	input, output float64
}

// priceTable is keyed by model family prefix so dated snapshots and
// OpenRouter's vendor-prefixed names resolve to the same entry. Longer
// prefixes must come first.
var priceTable = []struct {
	prefix string
	price  pricing
}{
	{"claude-opus-4", pricing{15.00, 75.00}},
	{"claude-sonnet-4", pricing{3.00, 15.00}},
	{"claude-haiku-4", pricing{0.80, 4.00}},
	{"gpt-4.1-mini", pricing{0.40, 1.60}},
	{"gpt-4.1", pricing{2.00, 8.00}},
	{"gpt-4o-mini", pricing{0.15, 0.60}},
	{"gpt-4o", pricing{2.50, 10.00}},
}

// EstimateCost returns the approximate USD cost of a call, or 0 when the
// model is unknown or local.
func EstimateCost(model string, inputTokens, outputTokens int) float64 {
	if i := strings.LastIndexByte(model, '/'); i >= 0 {
		model = model[i+1:]
	}
	for _, row := range priceTable {
		if strings.HasPrefix(model, row.prefix) {
			return float64(inputTokens)/1e6*row.price.input + float64(outputTokens)/1e6*row.price.output
		}
	}
	return 0
}
