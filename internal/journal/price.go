package journal

// Price is the USD cost per one million tokens.
type Price struct {
	Input  float64
	Output float64
}

// Prices maps model names to token prices. Models missing here get no cost
// estimate.
var Prices = map[string]Price{
	"gpt-4.1-mini": {Input: 0.3, Output: 0.6},
}

// EstimateCost returns the USD cost of a call, rounded to six decimals.
func EstimateCost(model string, inputTokens, outputTokens int) (float64, bool) {
	p, ok := Prices[model]
	if !ok {
		return 0, false
	}
	cost := float64(inputTokens)/1e6*p.Input + float64(outputTokens)/1e6*p.Output
	return round(cost, 6), true
}
