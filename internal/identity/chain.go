package identity

import (
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

// Chain is the blockchain family inferred from a wallet address shape.
type Chain string

const (
	ChainEVM     Chain = "evm"
	ChainSolana  Chain = "solana"
	ChainNEAR    Chain = "near"
	ChainUnknown Chain = ""
)

// DetectChain classifies a wallet address by shape. 0x-prefixed 42-char
// strings are EVM, 44-char base58 strings are Solana, and .near names
// or bare 64-hex strings are NEAR implicit accounts.
func DetectChain(address string) Chain {
	switch {
	case strings.HasPrefix(address, "0x") && len(address) == 42:
		if common.IsHexAddress(address) {
			return ChainEVM
		}
		return ChainUnknown
	case len(address) == 44 && !strings.HasPrefix(address, "0x"):
		if _, err := solana.PublicKeyFromBase58(address); err == nil {
			return ChainSolana
		}
		return ChainUnknown
	case strings.HasSuffix(address, ".near"):
		return ChainNEAR
	case len(address) == 64 && isHex(address):
		return ChainNEAR
	default:
		return ChainUnknown
	}
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
