package decision

import (
	"fmt"
	"strings"

	"github.com/auxiliary-ai/Walter/exchange"
	"github.com/auxiliary-ai/Walter/market"
)

// PromptBuilder composes the model instruction from the current snapshots
// and a bounded window of past episodes.
//
// The output-format exemplar at the end of the prompt and the parser's
// structured dialect are a compatibility contract: change one, change both.
type PromptBuilder struct {
	windowSize int
}

// NewPromptBuilder creates a builder with the given memory window size.
func NewPromptBuilder(windowSize int) *PromptBuilder {
	if windowSize <= 0 {
		windowSize = 5
	}
	return &PromptBuilder{windowSize: windowSize}
}

// WindowSize returns the configured history bound.
func (b *PromptBuilder) WindowSize() int {
	return b.windowSize
}

// System returns the fixed task framing.
func (b *PromptBuilder) System() string {
	var sb strings.Builder
	sb.WriteString("You are a trading assistant for a single perpetual futures instrument.\n")
	sb.WriteString("Each cycle you receive the current market snapshot, the current account state, ")
	sb.WriteString("and a short history of your recent decisions.\n")
	sb.WriteString("Decide one of BUY, SELL or HOLD.\n\n")
	sb.WriteString("Respond with exactly one JSON object:\n")
	sb.WriteString("- THINKING: short free-text rationale\n")
	sb.WriteString("- ACTION: \"BUY\", \"SELL\" or \"HOLD\"\n")
	sb.WriteString("- ACTION_DETAILS: object with size (contracts, number), leverage (integer) and tif (time-in-force code)\n")
	sb.WriteString("For HOLD, ACTION_DETAILS may be empty. For BUY and SELL, size and leverage are required.\n")
	return sb.String()
}

// Build renders the user prompt. history must be chronological ascending
// (oldest first); entries beyond the window bound are dropped from the
// front so the newest N survive. newsDigest is optional pre-aggregated
// narrative context and is included verbatim when present.
func (b *PromptBuilder) Build(history []MemoryEntry, mkt *market.Snapshot, acct *exchange.AccountSnapshot, newsDigest string) string {
	if len(history) > b.windowSize {
		history = history[len(history)-b.windowSize:]
	}

	var sb strings.Builder

	if len(history) > 0 {
		sb.WriteString("History of recent decisions (oldest first, newest last):\n")
		for i, entry := range history {
			fmt.Fprintf(&sb, "[%d] Market: %s | Account: %s\n", i+1, entry.Market.Summary(), entry.Account.Summary())
			if thinking := strings.TrimSpace(entry.Decision.Thinking); thinking != "" {
				fmt.Fprintf(&sb, "    Rationale: %s\n", thinking)
			}
			fmt.Fprintf(&sb, "    -> Decision: %s%s\n", entry.Decision.Action, describeDetails(entry.Decision))
		}
		sb.WriteString("\n")
	}

	if newsDigest != "" {
		sb.WriteString("Recent market narratives:\n")
		sb.WriteString(newsDigest)
		sb.WriteString("\n\n")
	}

	fmt.Fprintf(&sb, "Current Market Snapshot: %s\n", mkt.Summary())
	fmt.Fprintf(&sb, "Current Account State: %s\n\n", acct.Summary())

	sb.WriteString("Answer with exactly one JSON object in this format:\n")
	sb.WriteString(`{"THINKING": "one or two sentences", "ACTION": "BUY", "ACTION_DETAILS": {"size": 0.5, "leverage": 2, "tif": "Ioc"}}`)
	sb.WriteString("\n")
	return sb.String()
}

func describeDetails(d Decision) string {
	if d.Action == ActionHold {
		return ""
	}
	var parts []string
	if d.Size != nil {
		parts = append(parts, fmt.Sprintf("size=%g", *d.Size))
	}
	if d.Leverage != nil {
		parts = append(parts, fmt.Sprintf("leverage=%d", *d.Leverage))
	}
	if d.TIF != "" {
		parts = append(parts, "tif="+d.TIF)
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
