package decision

import (
	"strings"
	"testing"
)

func newTestParser() *Parser {
	return NewParser(nil, nil, 0.55)
}

func TestParseStructuredBuy(t *testing.T) {
	raw := `{"THINKING": "Funding is negative and EMA10 crossed above EMA20.", "ACTION": "BUY", "ACTION_DETAILS": {"size": 0.5, "leverage": 2, "tif": "Ioc"}}`
	d := newTestParser().Parse(raw)

	if d.Action != ActionBuy {
		t.Fatalf("action: got %q, want buy", d.Action)
	}
	if d.Status != ParseStructured {
		t.Fatalf("status: got %q, want structured", d.Status)
	}
	if d.Size == nil || *d.Size != 0.5 {
		t.Fatalf("size: got %v, want 0.5", d.Size)
	}
	if d.Leverage == nil || *d.Leverage != 2 {
		t.Fatalf("leverage: got %v, want 2", d.Leverage)
	}
	if d.TIF != "Ioc" {
		t.Fatalf("tif: got %q, want Ioc", d.TIF)
	}
	if d.Confidence != 1.0 {
		t.Fatalf("confidence: got %v, want 1.0", d.Confidence)
	}
	if !d.Execute {
		t.Fatal("expected execute=true")
	}
	if !strings.Contains(d.Thinking, "Funding is negative") {
		t.Fatalf("thinking not preserved: %q", d.Thinking)
	}
}

func TestParseStructuredFenced(t *testing.T) {
	raw := "```json\n{\"THINKING\": \"ok\", \"ACTION\": \"SELL\", \"ACTION_DETAILS\": {\"size\": 1.0, \"leverage\": 3, \"tif\": \"Gtc\"}}\n```"
	d := newTestParser().Parse(raw)

	if d.Action != ActionSell || !d.Execute {
		t.Fatalf("got action=%q execute=%v, want executable sell", d.Action, d.Execute)
	}
	if d.TIF != "Gtc" {
		t.Fatalf("tif: got %q, want Gtc", d.TIF)
	}
}

func TestParseStructuredHoldIgnoresDetails(t *testing.T) {
	raw := `{"THINKING": "wait", "ACTION": "HOLD", "ACTION_DETAILS": {"size": 2.0, "leverage": 5}}`
	d := newTestParser().Parse(raw)

	if d.Action != ActionHold {
		t.Fatalf("action: got %q, want hold", d.Action)
	}
	if d.Execute {
		t.Fatal("hold must never execute")
	}
	if d.Confidence != 0 {
		t.Fatalf("hold confidence: got %v, want 0", d.Confidence)
	}
}

func TestParseStructuredAliases(t *testing.T) {
	long := newTestParser().Parse(`{"ACTION": "LONG", "ACTION_DETAILS": {"size": 1, "leverage": 2}}`)
	if long.Action != ActionBuy {
		t.Fatalf("LONG: got %q, want buy", long.Action)
	}
	short := newTestParser().Parse(`{"ACTION": "short", "ACTION_DETAILS": {"size": 1, "leverage": 2}}`)
	if short.Action != ActionSell {
		t.Fatalf("short: got %q, want sell", short.Action)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	d := newTestParser().Parse(`{ACTION: BUY`)

	if d.Action != ActionHold || d.Execute {
		t.Fatalf("got action=%q execute=%v, want non-executing hold", d.Action, d.Execute)
	}
	if d.Status != ParseMalformed {
		t.Fatalf("status: got %q, want malformed", d.Status)
	}
	if d.RawResponse != `{ACTION: BUY` {
		t.Fatalf("raw response not preserved: %q", d.RawResponse)
	}
}

func TestParseEmptyResponse(t *testing.T) {
	d := newTestParser().Parse("   ")
	if d.Action != ActionHold || d.Status != ParseMalformed {
		t.Fatalf("got action=%q status=%q, want malformed hold", d.Action, d.Status)
	}
}

func TestParseStructuredMissingSizeDowngrades(t *testing.T) {
	d := newTestParser().Parse(`{"THINKING": "go", "ACTION": "BUY", "ACTION_DETAILS": {"leverage": 2}}`)

	if d.Action != ActionHold || d.Execute {
		t.Fatalf("got action=%q execute=%v, want non-executing hold", d.Action, d.Execute)
	}
	if d.Status != ParseDowngraded {
		t.Fatalf("status: got %q, want downgraded", d.Status)
	}
	if d.StatusNote == "" {
		t.Fatal("downgrade must record a reason")
	}
}

func TestParseStructuredNonPositiveDetailsDowngrade(t *testing.T) {
	d := newTestParser().Parse(`{"ACTION": "SELL", "ACTION_DETAILS": {"size": -1, "leverage": 0}}`)
	if d.Action != ActionHold || d.Status != ParseDowngraded {
		t.Fatalf("got action=%q status=%q, want downgraded hold", d.Action, d.Status)
	}
}

func TestParseFreeTextSell(t *testing.T) {
	raw := "I think we should SELL here. confidence=0.9, size=1.0, leverage=1, tif=gtc"
	d := newTestParser().Parse(raw)

	if d.Action != ActionSell {
		t.Fatalf("action: got %q, want sell", d.Action)
	}
	if d.Status != ParseFreeText {
		t.Fatalf("status: got %q, want free_text", d.Status)
	}
	if d.Confidence != 0.9 {
		t.Fatalf("confidence: got %v, want 0.9", d.Confidence)
	}
	if d.Size == nil || *d.Size != 1.0 {
		t.Fatalf("size: got %v, want 1.0", d.Size)
	}
	if d.Leverage == nil || *d.Leverage != 1 {
		t.Fatalf("leverage: got %v, want 1", d.Leverage)
	}
	if d.TIF != "Gtc" {
		t.Fatalf("tif: got %q, want Gtc", d.TIF)
	}
	if !d.Execute {
		t.Fatal("expected execute=true at 0.9 confidence")
	}
}

func TestParseFreeTextLastLineWins(t *testing.T) {
	raw := "At first I wanted to buy.\nBut momentum faded, so sell. size=0.2 leverage=2"
	d := newTestParser().Parse(raw)
	if d.Action != ActionSell {
		t.Fatalf("action: got %q, want sell from the final line", d.Action)
	}
}

func TestParseFreeTextPercentConfidence(t *testing.T) {
	raw := "I'm 80% sure. buy size=0.3 leverage=2"
	d := newTestParser().Parse(raw)
	if d.Action != ActionBuy {
		t.Fatalf("action: got %q, want buy", d.Action)
	}
	if d.Confidence != 0.8 {
		t.Fatalf("confidence: got %v, want 0.8", d.Confidence)
	}
}

func TestParseFreeTextBelowThresholdDoesNotExecute(t *testing.T) {
	raw := "buy size=0.3 leverage=2 confidence=0.4"
	d := newTestParser().Parse(raw)
	if d.Action != ActionBuy {
		t.Fatalf("action: got %q, want buy", d.Action)
	}
	if d.Execute {
		t.Fatal("confidence 0.4 must not clear a 0.55 threshold")
	}
}

func TestParseFreeTextNoTokensHolds(t *testing.T) {
	d := newTestParser().Parse("The market looks indecisive, staying flat for now.")
	if d.Action != ActionHold || d.Execute {
		t.Fatalf("got action=%q execute=%v, want non-executing hold", d.Action, d.Execute)
	}
	if d.Status != ParseFreeText {
		t.Fatalf("status: got %q, want free_text", d.Status)
	}
}

func TestParseFreeTextMissingParamsDowngrades(t *testing.T) {
	d := newTestParser().Parse("Let's go long here, momentum is strong.")
	if d.Action != ActionHold || d.Status != ParseDowngraded {
		t.Fatalf("got action=%q status=%q, want downgraded hold", d.Action, d.Status)
	}
}

func TestParseCustomTokens(t *testing.T) {
	p := NewParser([]string{"accumulate"}, []string{"distribute"}, 0.5)
	d := p.Parse("Time to accumulate. size=1 leverage=2")
	if d.Action != ActionBuy {
		t.Fatalf("action: got %q, want buy via custom token", d.Action)
	}
}

func TestCanonicalTIF(t *testing.T) {
	tests := map[string]string{
		"ioc": "Ioc",
		"GTC": "Gtc",
		"Alo": "Alo",
		"":    "",
	}
	for in, want := range tests {
		if got := canonicalTIF(in); got != want {
			t.Fatalf("canonicalTIF(%q) = %q, want %q", in, got, want)
		}
	}
}
