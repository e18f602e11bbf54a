package llm

import (
	"log/slog"
	"strings"
	"sync"
)

// modelRate is USD per million tokens.
type modelRate struct {
	inputPerM  float64
	outputPerM float64
}

// Rates by model prefix; longest matching prefix wins.
var modelRates = map[string]modelRate{
	"claude-opus-4":     {inputPerM: 15.00, outputPerM: 75.00},
	"claude-sonnet-4":   {inputPerM: 3.00, outputPerM: 15.00},
	"claude-haiku-4":    {inputPerM: 1.00, outputPerM: 5.00},
	"claude-3-5-haiku":  {inputPerM: 0.80, outputPerM: 4.00},
	"gpt-4o-mini":       {inputPerM: 0.15, outputPerM: 0.60},
	"gpt-4o":            {inputPerM: 2.50, outputPerM: 10.00},
	"gpt-4.1-mini":      {inputPerM: 0.40, outputPerM: 1.60},
	"gpt-4.1":           {inputPerM: 2.00, outputPerM: 8.00},
	"o3-mini":           {inputPerM: 1.10, outputPerM: 4.40},
	"text-embedding-3":  {inputPerM: 0.02, outputPerM: 0},
}

// Conservative mid-range fallback for unknown models.
var fallbackRate = modelRate{inputPerM: 3.00, outputPerM: 15.00}

var unknownModelWarned sync.Map // model → struct{}

// EstimateCostUSD estimates the USD cost of one call. The estimate is
// linear in each token count and monotone non-decreasing in both.
func EstimateCostUSD(model string, inputTokens, outputTokens int) float64 {
	rate, ok := rateFor(model)
	if !ok {
		if _, warned := unknownModelWarned.LoadOrStore(model, struct{}{}); !warned {
			slog.Warn("llm.unknown_model_rate", "model", model)
		}
		rate = fallbackRate
	}
	return float64(inputTokens)/1e6*rate.inputPerM + float64(outputTokens)/1e6*rate.outputPerM
}

func rateFor(model string) (modelRate, bool) {
	best := ""
	for prefix := range modelRates {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return modelRate{}, false
	}
	return modelRates[best], true
}
