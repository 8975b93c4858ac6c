package money

import "testing"

func TestSymbol(t *testing.T) {
	tests := []struct {
		name    string
		network string
		asset   string
		want    string
	}{
		{"base usdc", "base", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USDC"},
		{"sepolia usdc", "base-sepolia", "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USDC"},
		{"solana usdc", "solana", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "USDC"},
		{"solana mint is case sensitive", "solana", "epjfwdd5aufqssqem2qn1xzybapc8g4wegGkZwyTDt1v", ""},
		{"unknown network", "polygon", "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", ""},
		{"unknown asset", "base", "0x0000000000000000000000000000000000000000", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Symbol(tt.network, tt.asset); got != tt.want {
				t.Errorf("Symbol(%q, %q) = %q, want %q", tt.network, tt.asset, got, tt.want)
			}
		})
	}
}

func TestIsStablecoin(t *testing.T) {
	if !IsStablecoin("base", "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913") {
		t.Error("base USDC should be recognized")
	}
	if IsStablecoin("base", "0xdeadbeef") {
		t.Error("unknown asset should not be recognized")
	}
}
