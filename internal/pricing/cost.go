package pricing

import "fmt"

// ModelRate 模型费率，单位：美元/百万token
type ModelRate struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// 固定费率表。费率会随供应商调价变化，成本只按需计算、不落库。
var modelRates = map[string]ModelRate{
	"mistral-small-latest":  {InputPerMTok: 0.1, OutputPerMTok: 0.3},
	"mistral-medium-latest": {InputPerMTok: 0.4, OutputPerMTok: 2.0},
	"mistral-large-latest":  {InputPerMTok: 2.0, OutputPerMTok: 6.0},
	"open-mistral-7b":       {InputPerMTok: 0.25, OutputPerMTok: 0.25},
	"gpt-4o-mini":           {InputPerMTok: 0.15, OutputPerMTok: 0.6},
}

// EstimateCost 按费率表估算一次调用的美元成本。
// 模型不在费率表中时返回 (0, false)。
func EstimateCost(model string, promptTokens, completionTokens int) (float64, bool) {
	rate, ok := modelRates[model]
	if !ok {
		return 0, false
	}
	inputCost := float64(promptTokens) / 1_000_000 * rate.InputPerMTok
	outputCost := float64(completionTokens) / 1_000_000 * rate.OutputPerMTok
	return inputCost + outputCost, true
}

// FormatCost 格式化成本用于展示
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.6f", cost)
}
