package x402

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name    string
		price   Price
		want    string
		wantErr bool
	}{
		{name: "dollar string", price: "$0.001", want: "0.001"},
		{name: "plain string", price: "1.50", want: "1.50"},
		{name: "integer string", price: "5", want: "5"},
		{name: "float", price: 0.25, want: "0.25"},
		{name: "int", price: 10, want: "10"},
		{name: "int64", price: int64(42), want: "42"},
		{name: "whitespace trimmed", price: "  $1.00  ", want: "1.00"},
		{name: "negative rejected", price: "-1.00", wantErr: true},
		{name: "garbage rejected", price: "abc", wantErr: true},
		{name: "double decimal rejected", price: "1.2.3", wantErr: true},
		{name: "unsupported type", price: []string{"x"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMoney(tt.price)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestScaleDecimal(t *testing.T) {
	tests := []struct {
		decimal  string
		decimals int
		want     string
	}{
		{"0.001", 6, "1000"},
		{"1", 6, "1000000"},
		{"1.5", 6, "1500000"},
		{"0", 6, "0"},
		{"0.000", 6, "0"},
		{"0.0000001", 6, "0"}, // truncated below smallest unit
		{"123.456789", 6, "123456789"},
		{"123.4567891", 6, "123456789"}, // excess fraction truncated
		{"10", 0, "10"},
		{"0.1", 2, "10"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.decimal, tt.decimals), func(t *testing.T) {
			if got := ScaleDecimal(tt.decimal, tt.decimals); got != tt.want {
				t.Errorf("ScaleDecimal(%q, %d) = %q, want %q", tt.decimal, tt.decimals, got, tt.want)
			}
		})
	}
}

func TestResolvePriceAssetAmountPassthrough(t *testing.T) {
	in := AssetAmount{
		Asset:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount: "12345",
		Extra:  map[string]interface{}{"name": "USDC"},
	}

	got, err := ResolvePrice(in, "eip155:84532", nil, func(string, Network) (AssetAmount, error) {
		t.Fatal("default conversion must not run for AssetAmount prices")
		return AssetAmount{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Asset != in.Asset || got.Amount != in.Amount {
		t.Errorf("got %+v, want %+v", got, in)
	}
}

func TestResolvePriceAssetAmountRequiresAsset(t *testing.T) {
	_, err := ResolvePrice(AssetAmount{Amount: "100"}, "eip155:84532", nil, nil)
	if err == nil {
		t.Fatal("expected error for AssetAmount without asset")
	}
	var pe *PaymentError
	if !errors.As(err, &pe) || pe.Code != ErrCodeInvalidMoneyFormat {
		t.Errorf("expected %s error, got %v", ErrCodeInvalidMoneyFormat, err)
	}
}

func TestResolvePriceParserChain(t *testing.T) {
	var secondCalled bool

	first := func(amount float64, network Network) (*AssetAmount, error) {
		return &AssetAmount{Asset: "first", Amount: "1"}, nil
	}
	second := func(amount float64, network Network) (*AssetAmount, error) {
		secondCalled = true
		return &AssetAmount{Asset: "second", Amount: "2"}, nil
	}

	got, err := ResolvePrice("$0.001", "eip155:84532", []MoneyParser{first, second},
		func(string, Network) (AssetAmount, error) {
			t.Fatal("default conversion must not run when a parser resolves")
			return AssetAmount{}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Asset != "first" {
		t.Errorf("expected first parser to win, got asset %q", got.Asset)
	}
	if secondCalled {
		t.Error("second parser ran after first parser resolved")
	}
}

func TestResolvePriceParserDeclines(t *testing.T) {
	decline := func(amount float64, network Network) (*AssetAmount, error) {
		return nil, nil
	}

	got, err := ResolvePrice("$0.001", "eip155:84532", []MoneyParser{decline},
		func(decimal string, network Network) (AssetAmount, error) {
			return AssetAmount{Asset: "default", Amount: ScaleDecimal(decimal, 6)}, nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Asset != "default" || got.Amount != "1000" {
		t.Errorf("got %+v, want default/1000", got)
	}
}

func TestResolvePriceParserError(t *testing.T) {
	boom := func(amount float64, network Network) (*AssetAmount, error) {
		return nil, fmt.Errorf("parser exploded")
	}

	_, err := ResolvePrice("$0.001", "eip155:84532", []MoneyParser{boom}, nil)
	if err == nil {
		t.Fatal("expected parser error to propagate")
	}
}
