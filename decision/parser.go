package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parser turns an arbitrary model response into a validated Decision. It
// never returns an error: any ambiguity degrades to a hold with the reason
// recorded in the decision's parse status.
//
// Two dialects are supported. The canonical one is a JSON object (possibly
// wrapped in a fenced code block) with THINKING / ACTION / ACTION_DETAILS.
// The free-text dialect is a compatibility shim for older prompt shapes:
// action inferred from vocabulary tokens, parameters from key=value pairs.
type Parser struct {
	buyTokens           []string
	sellTokens          []string
	confidenceThreshold float64
	maxThinkingLen      int
}

// NewParser creates a parser. Token vocabularies are matched
// case-insensitively as substrings; empty slices fall back to the defaults
// ("buy"/"long" and "sell"/"short").
func NewParser(buyTokens, sellTokens []string, confidenceThreshold float64) *Parser {
	if len(buyTokens) == 0 {
		buyTokens = []string{"buy", "long"}
	}
	if len(sellTokens) == 0 {
		sellTokens = []string{"sell", "short"}
	}
	lower := func(tokens []string) []string {
		out := make([]string, len(tokens))
		for i, t := range tokens {
			out[i] = strings.ToLower(t)
		}
		return out
	}
	return &Parser{
		buyTokens:           lower(buyTokens),
		sellTokens:          lower(sellTokens),
		confidenceThreshold: confidenceThreshold,
		maxThinkingLen:      2000,
	}
}

// structuredResponse is the canonical model output shape.
type structuredResponse struct {
	Thinking string `json:"THINKING"`
	Action   string `json:"ACTION"`
	Details  struct {
		Size     *float64 `json:"size"`
		Leverage *int     `json:"leverage"`
		TIF      string   `json:"tif"`
	} `json:"ACTION_DETAILS"`
}

// Parse converts a raw model response into a Decision. Dialect selection is
// a cheap content probe: if the fence-stripped response starts with an
// object, it is treated as structured; otherwise the free-text fallback
// runs.
func (p *Parser) Parse(raw string) Decision {
	text := strings.TrimSpace(raw)
	if text == "" {
		d := Hold(ParseMalformed, "empty model response")
		d.RawResponse = raw
		return d
	}

	stripped := stripFences(text)
	var decision Decision
	if strings.HasPrefix(stripped, "{") {
		decision = p.parseStructured(stripped)
	} else {
		decision = p.parseFreeText(text)
	}
	decision.RawResponse = raw
	return decision
}

func (p *Parser) parseStructured(text string) Decision {
	var resp structuredResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		// Malformed JSON yields the all-default object rather than failing
		// the cycle.
		return Hold(ParseMalformed, fmt.Sprintf("malformed JSON response: %v", err))
	}

	action := canonicalAction(resp.Action)
	decision := Decision{
		Action:   action,
		Thinking: p.capThinking(resp.Thinking),
		TIF:      canonicalTIF(resp.Details.TIF),
		Status:   ParseStructured,
	}

	if action == ActionHold {
		// HOLD never executes, whatever ACTION_DETAILS claims.
		decision.Confidence = 0
		decision.Execute = false
		return decision
	}

	// The structured dialect does not model confidence; a non-hold action
	// is taken at full confidence and the gate reduces to size/leverage
	// resolvability.
	decision.Confidence = 1.0
	decision.Size = positiveFloat(resp.Details.Size)
	decision.Leverage = positiveInt(resp.Details.Leverage)
	p.applyGate(&decision)
	return decision
}

func (p *Parser) parseFreeText(text string) Decision {
	action := p.inferAction(text)
	decision := Decision{
		Action: action,
		Status: ParseFreeText,
	}
	decision.Confidence = extractConfidence(text, action)

	if action == ActionHold {
		decision.Execute = false
		return decision
	}

	if size, ok := extractSize(text); ok && size > 0 {
		decision.Size = &size
	}
	if leverage, ok := extractLeverage(text); ok && leverage > 0 {
		decision.Leverage = &leverage
	}
	decision.TIF = canonicalTIF(extractTIF(text))
	p.applyGate(&decision)
	return decision
}

// applyGate enforces the execute precondition: a buy/sell with missing
// size or leverage is downgraded to hold, observably.
func (p *Parser) applyGate(d *Decision) {
	if d.Action == ActionHold {
		d.Execute = false
		return
	}
	if d.Size == nil || d.Leverage == nil {
		note := fmt.Sprintf("%s decision missing size or leverage, downgraded to hold", d.Action)
		d.Action = ActionHold
		d.Size = nil
		d.Leverage = nil
		d.Execute = false
		d.Status = ParseDowngraded
		d.StatusNote = note
		return
	}
	d.Execute = d.Confidence >= p.confidenceThreshold
}

// inferAction scans the response lines in reverse for vocabulary tokens;
// the model's final word wins. No recognized token means hold.
func (p *Parser) inferAction(text string) string {
	lines := strings.Split(strings.ToLower(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		for _, token := range p.buyTokens {
			if strings.Contains(line, token) {
				return ActionBuy
			}
		}
		for _, token := range p.sellTokens {
			if strings.Contains(line, token) {
				return ActionSell
			}
		}
	}
	return ActionHold
}

func (p *Parser) capThinking(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > p.maxThinkingLen {
		return s[:p.maxThinkingLen] + "..."
	}
	return s
}

// canonicalAction maps model vocabulary many-to-one onto the canonical
// actions; anything unrecognized is hold.
func canonicalAction(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return ActionBuy
	case "sell", "short":
		return ActionSell
	default:
		return ActionHold
	}
}

// canonicalTIF normalizes time-in-force codes to the single-capitalized
// form the exchange layer expects ("ioc" -> "Ioc").
func canonicalTIF(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	return strings.ToUpper(raw[:1]) + strings.ToLower(raw[1:])
}

var (
	confidenceRe = regexp.MustCompile(`confidence\s*=\s*(0?\.\d+|1(?:\.0+)?|0|1)`)
	percentRe    = regexp.MustCompile(`(\d{1,3})%`)
	sizeRe       = regexp.MustCompile(`size\s*=\s*([0-9]*\.?[0-9]+)`)
	leverageRe   = regexp.MustCompile(`leverage\s*=\s*([0-9]+)`)
	tifRe        = regexp.MustCompile(`(?i)tif\s*=\s*([A-Za-z]+)`)
)

// extractConfidence reads "confidence=0.8" or a bare "80%", clamped to
// [0, 1]. Without either, a non-hold action counts as full confidence.
func extractConfidence(text, action string) float64 {
	if m := confidenceRe.FindStringSubmatch(strings.ToLower(text)); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp01(v)
		}
	}
	if m := percentRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return clamp01(v / 100)
		}
	}
	if action != ActionHold {
		return 1.0
	}
	return 0
}

func extractSize(text string) (float64, bool) {
	if m := sizeRe.FindStringSubmatch(strings.ToLower(text)); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func extractLeverage(text string) (int, bool) {
	if m := leverageRe.FindStringSubmatch(strings.ToLower(text)); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return v, true
		}
	}
	return 0, false
}

func extractTIF(text string) string {
	if m := tifRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func positiveFloat(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

func positiveInt(v *int) *int {
	if v == nil || *v <= 0 {
		return nil
	}
	return v
}

// stripFences unwraps a fenced code block (``` or ```json) so the content
// probe sees the object inside.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// Drop a language tag on the opening fence.
	if idx := strings.Index(trimmed, "\n"); idx != -1 {
		firstLine := strings.TrimSpace(trimmed[:idx])
		if firstLine != "" && !strings.ContainsAny(firstLine, "{}") {
			trimmed = trimmed[idx+1:]
		}
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
