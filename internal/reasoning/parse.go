package reasoning

import (
	"encoding/json"
	"strings"

	"github.com/n3-n2-n1/kalmann/internal/domain"
)

// rawEntryVerdict mirrors the JSON schema requested from the model. All
// fields are optional; validation coerces missing or out-of-range values to
// conservative defaults.
type rawEntryVerdict struct {
	Decision          string  `json:"decision"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
	SuggestedLeverage float64 `json:"suggested_leverage"`
	RiskLevel         string  `json:"risk_level"`
	MarketSentiment   string  `json:"market_sentiment"`
}

type rawPositionVerdict struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	RiskLevel  string  `json:"risk_level"`
}

// ParseEntryVerdict extracts and validates an entry verdict from free-form
// model output. Model text is untrusted input: anything that does not parse
// cleanly degrades to the fallback scanner, and anything out of range is
// clipped or replaced with a conservative default.
func ParseEntryVerdict(text string) domain.EntryVerdict {
	block := extractJSON(text)
	if block == "" {
		return fallbackEntryVerdict(text)
	}

	var raw rawEntryVerdict
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return fallbackEntryVerdict(text)
	}

	v := domain.EntryVerdict{
		Decision:          domain.DecisionHold,
		Confidence:        clip01(raw.Confidence, 0.5),
		Reasoning:         strings.TrimSpace(raw.Reasoning),
		SuggestedLeverage: clipLeverage(int(raw.SuggestedLeverage)),
		RiskLevel:         parseRiskLevel(raw.RiskLevel),
		MarketSentiment:   parseTrend(raw.MarketSentiment),
	}

	switch strings.ToUpper(strings.TrimSpace(raw.Decision)) {
	case "BUY":
		v.Decision = domain.DecisionBuy
	case "SELL":
		v.Decision = domain.DecisionSell
	case "HOLD":
		v.Decision = domain.DecisionHold
	default:
		// Unknown decision: stay flat and mark low conviction.
		v.Decision = domain.DecisionHold
		v.Confidence = 0.1
	}

	return v
}

// ParsePositionVerdict extracts and validates a position verdict. Any parse
// or validation failure yields HOLD.
func ParsePositionVerdict(text string) domain.PositionVerdict {
	hold := domain.PositionVerdict{
		Action:     domain.ActionHold,
		Confidence: 0.1,
		RiskLevel:  domain.RiskMedium,
	}

	block := extractJSON(text)
	if block == "" {
		return hold
	}

	var raw rawPositionVerdict
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return hold
	}

	v := domain.PositionVerdict{
		Action:     domain.ActionHold,
		Confidence: clip01(raw.Confidence, 0.5),
		Reasoning:  strings.TrimSpace(raw.Reasoning),
		RiskLevel:  parseRiskLevel(raw.RiskLevel),
	}

	switch strings.ToUpper(strings.TrimSpace(raw.Action)) {
	case "CLOSE_25":
		v.Action = domain.ActionClose25
	case "CLOSE_50":
		v.Action = domain.ActionClose50
	case "CLOSE_100":
		v.Action = domain.ActionClose100
	case "HOLD":
		v.Action = domain.ActionHold
	default:
		return hold
	}

	return v
}

// extractJSON returns the first balanced {…} block in text, or "" when none
// exists. Braces inside JSON strings are skipped.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// fallbackEntryVerdict scans raw text for a directional keyword when JSON
// extraction failed, and emits a low-confidence verdict.
func fallbackEntryVerdict(text string) domain.EntryVerdict {
	v := domain.EntryVerdict{
		Decision:          domain.DecisionHold,
		Confidence:        0.1,
		Reasoning:         "fallback parse: no JSON block found",
		SuggestedLeverage: 5,
		RiskLevel:         domain.RiskMedium,
		MarketSentiment:   domain.TrendNeutral,
	}

	upper := strings.ToUpper(text)
	buyIdx := strings.Index(upper, "BUY")
	sellIdx := strings.Index(upper, "SELL")
	switch {
	case buyIdx >= 0 && (sellIdx < 0 || buyIdx < sellIdx):
		v.Decision = domain.DecisionBuy
		v.Confidence = 0.3
	case sellIdx >= 0:
		v.Decision = domain.DecisionSell
		v.Confidence = 0.3
	}
	return v
}

// clip01 clamps v into [0,1]; a zero value becomes def so that a model which
// omits confidence does not read as absolute certainty of nothing.
func clip01(v, def float64) float64 {
	if v == 0 {
		return def
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// clipLeverage clamps suggested leverage into [1,50], defaulting to 5.
func clipLeverage(lev int) int {
	if lev == 0 {
		return 5
	}
	if lev < 1 {
		return 1
	}
	if lev > 50 {
		return 50
	}
	return lev
}

func parseRiskLevel(s string) domain.RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return domain.RiskLow
	case "high":
		return domain.RiskHigh
	default:
		return domain.RiskMedium
	}
}

func parseTrend(s string) domain.Trend {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bullish":
		return domain.TrendBullish
	case "bearish":
		return domain.TrendBearish
	default:
		return domain.TrendNeutral
	}
}
