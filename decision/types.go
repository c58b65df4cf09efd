package decision

import (
	"time"

	"github.com/auxiliary-ai/Walter/exchange"
	"github.com/auxiliary-ai/Walter/market"
)

// Canonical actions. The parser maps every model vocabulary onto these.
const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// ParseStatus tells a genuinely decided hold apart from a degraded one.
type ParseStatus string

const (
	ParseStructured ParseStatus = "structured" // JSON dialect parsed cleanly
	ParseFreeText   ParseStatus = "free_text"  // legacy dialect fallback
	ParseMalformed  ParseStatus = "malformed"  // unparseable, degraded to hold
	ParseDowngraded ParseStatus = "downgraded" // buy/sell missing size or leverage
)

// Decision is the validated, safe-to-execute output of the parser.
//
// Invariant: Execute is true only when Action is buy or sell AND Size and
// Leverage are both resolvable AND confidence clears the threshold. The
// engine re-checks this before routing to the executor.
type Decision struct {
	Action     string   `json:"action"`
	Thinking   string   `json:"thinking,omitempty"`
	Size       *float64 `json:"size,omitempty"`     // contracts; required for buy/sell
	Leverage   *int     `json:"leverage,omitempty"` // required for buy/sell
	TIF        string   `json:"tif,omitempty"`      // canonical single-capitalized code
	Confidence float64  `json:"confidence"`
	Execute    bool     `json:"execute"`

	Status      ParseStatus `json:"parse_status"`
	StatusNote  string      `json:"parse_note,omitempty"` // why the parser degraded, if it did
	RawResponse string      `json:"-"`
}

// Hold builds the safe default decision the parser degrades to.
func Hold(status ParseStatus, note string) Decision {
	return Decision{
		Action:     ActionHold,
		Confidence: 0,
		Execute:    false,
		Status:     status,
		StatusNote: note,
	}
}

// MemoryEntry is one historical cycle as seen by the prompt builder.
// Snapshot references may be nil (a hold that saved nothing); the prompt
// renders those as "not available" to keep the window's chronology intact.
type MemoryEntry struct {
	Market    *market.Snapshot
	Account   *exchange.AccountSnapshot
	Decision  Decision
	CreatedAt time.Time
}
