package decision

import (
	"context"
	"fmt"
	"log"

	"github.com/auxiliary-ai/Walter/exchange"
	"github.com/auxiliary-ai/Walter/market"
)

// Transport is the external model call: one blocking request carrying the
// prompt, one response carrying raw text. No streaming.
type Transport interface {
	CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// History is the persistence collaborator's windowed read. Entries come
// back chronological ascending, at most limit of them.
type History interface {
	Window(ctx context.Context, limit int) ([]MemoryEntry, error)
}

// Engine orchestrates one decision: memory window -> prompt -> model call
// -> parse -> execute gate. Transport failures propagate to the caller's
// retry shell; everything downstream of a successful call degrades to a
// safe hold instead of erroring.
type Engine struct {
	parser    *Parser
	prompts   *PromptBuilder
	transport Transport
	history   History
}

// NewEngine wires the decision pipeline.
func NewEngine(parser *Parser, prompts *PromptBuilder, transport Transport, history History) *Engine {
	return &Engine{
		parser:    parser,
		prompts:   prompts,
		transport: transport,
		history:   history,
	}
}

// Decide produces the cycle's Decision along with the prompt that was sent
// (persisted for audit). The returned error is non-nil only for transport
// failures.
func (e *Engine) Decide(ctx context.Context, mkt *market.Snapshot, acct *exchange.AccountSnapshot, newsDigest string) (Decision, string, error) {
	var window []MemoryEntry
	if e.history != nil {
		entries, err := e.history.Window(ctx, e.prompts.WindowSize())
		if err != nil {
			// History is context, not a precondition; decide without it.
			log.Printf("⚠️  Failed to load decision history: %v — continuing with empty window", err)
		} else {
			window = entries
		}
	}

	userPrompt := e.prompts.Build(window, mkt, acct, newsDigest)

	response, err := e.transport.CallWithMessages(ctx, e.prompts.System(), userPrompt)
	if err != nil {
		return Decision{}, userPrompt, fmt.Errorf("model transport: %w", err)
	}

	decision := e.parser.Parse(response)

	// Defensive gate: never trust an upstream execute=true. A buy/sell
	// without resolvable size and leverage is downgraded to hold, and the
	// downgrade is observable.
	if decision.Execute && (decision.Size == nil || decision.Leverage == nil) {
		note := fmt.Sprintf("%s decision missing size or leverage, downgraded to hold", decision.Action)
		raw := decision.RawResponse
		decision = Hold(ParseDowngraded, note)
		decision.RawResponse = raw
	}

	if decision.Status == ParseDowngraded {
		log.Printf("⚠️  Decision downgraded: %s", decision.StatusNote)
	}

	return decision, userPrompt, nil
}
