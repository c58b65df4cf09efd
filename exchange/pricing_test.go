package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSnapToTickAligned(t *testing.T) {
	// An already aligned price comes back unchanged under every bias.
	for _, bias := range []Bias{BiasUp, BiasDown, BiasNearest} {
		got, err := SnapToTick(d("1146.00"), d("0.01"), bias)
		if err != nil {
			t.Fatalf("bias %s: unexpected error: %v", bias, err)
		}
		if !got.Equal(d("1146.00")) {
			t.Fatalf("bias %s: got %s, want 1146.00", bias, got)
		}
	}
}

func TestSnapToTickBias(t *testing.T) {
	tests := []struct {
		name  string
		price string
		tick  string
		bias  Bias
		want  string
	}{
		{"down", "1146.003", "0.01", BiasDown, "1146.00"},
		{"up", "1146.003", "0.01", BiasUp, "1146.01"},
		{"nearest below midpoint", "1146.003", "0.01", BiasNearest, "1146.00"},
		{"nearest above midpoint", "1146.007", "0.01", BiasNearest, "1146.01"},
		{"nearest tie goes up", "1146.005", "0.01", BiasNearest, "1146.01"},
		{"coarse tick", "2301.7", "0.5", BiasDown, "2301.5"},
		{"sub-cent tick", "0.123456", "0.0001", BiasUp, "0.1235"},
	}
	for _, tt := range tests {
		got, err := SnapToTick(d(tt.price), d(tt.tick), tt.bias)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.name, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Fatalf("%s: SnapToTick(%s, %s, %s) = %s, want %s",
				tt.name, tt.price, tt.tick, tt.bias, got, tt.want)
		}
	}
}

func TestSnapToTickResultOnGrid(t *testing.T) {
	got, err := SnapToTick(d("1146.0037"), d("0.01"), BiasNearest)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Mod(d("0.01")).IsZero() {
		t.Fatalf("snapped price %s is not on the 0.01 grid", got)
	}
}

func TestSnapToTickIdempotent(t *testing.T) {
	once, err := SnapToTick(d("1146.003"), d("0.01"), BiasUp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := SnapToTick(once, d("0.01"), BiasUp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !once.Equal(twice) {
		t.Fatalf("snapping twice moved the price: %s -> %s", once, twice)
	}
}

func TestSnapToTickInvalidTick(t *testing.T) {
	if _, err := SnapToTick(d("100"), decimal.Zero, BiasNearest); err == nil {
		t.Fatal("expected error for zero tick")
	}
	if _, err := SnapToTick(d("100"), d("-0.01"), BiasNearest); err == nil {
		t.Fatal("expected error for negative tick")
	}
}

func TestOffsetPrice(t *testing.T) {
	buy := OffsetPrice(d("100"), 0.02, true)
	if !buy.Equal(d("102")) {
		t.Fatalf("buy offset: got %s, want 102", buy)
	}
	sell := OffsetPrice(d("100"), 0.02, false)
	if !sell.Equal(d("98")) {
		t.Fatalf("sell offset: got %s, want 98", sell)
	}
	flat := OffsetPrice(d("100"), 0, true)
	if !flat.Equal(d("100")) {
		t.Fatalf("zero offset: got %s, want 100", flat)
	}
}

func TestTickFromPriceDecimals(t *testing.T) {
	if got := TickFromPriceDecimals(2); !got.Equal(d("0.01")) {
		t.Fatalf("2 decimals: got %s, want 0.01", got)
	}
	if got := TickFromPriceDecimals(0); !got.Equal(d("1")) {
		t.Fatalf("0 decimals: got %s, want 1", got)
	}
}
