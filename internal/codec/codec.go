// Package codec converts between human-readable addresses and token ids and
// the fixed-width binary forms used for storage and comparison.
package codec

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenIDWidth is the storage width of a token id in bytes (uint256).
const TokenIDWidth = 32

// ParseAddress parses a 0x-prefixed hex address and normalizes it to its
// 20-byte form. It rejects strings that are not exactly 20 bytes of hex.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("codec: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// AddressBytes returns the fixed 20-byte representation of addr.
func AddressBytes(addr common.Address) [20]byte {
	return addr
}

// AddressFromBytes reconstructs an address from its 20-byte form.
func AddressFromBytes(b [20]byte) common.Address {
	return common.Address(b)
}

// TokenIDBytes encodes a decimal token id string as a 32-byte big-endian
// value. Token ids are uint256 on chain; anything wider is rejected.
func TokenIDBytes(tokenID string) ([TokenIDWidth]byte, error) {
	var out [TokenIDWidth]byte
	n, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || n.Sign() < 0 {
		return out, fmt.Errorf("codec: invalid token id %q", tokenID)
	}
	b := n.Bytes()
	if len(b) > TokenIDWidth {
		return out, fmt.Errorf("codec: token id %q exceeds 32 bytes", tokenID)
	}
	copy(out[TokenIDWidth-len(b):], b)
	return out, nil
}

// TokenIDFromBytes decodes a 32-byte token id back to its decimal string.
func TokenIDFromBytes(b [TokenIDWidth]byte) string {
	return new(big.Int).SetBytes(b[:]).String()
}

// TokenIDBig parses a decimal token id into a big.Int.
func TokenIDBig(tokenID string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(tokenID, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("codec: invalid token id %q", tokenID)
	}
	return n, nil
}

// NFTID is the composite identifier used by the listing feed:
// "<chain>/<contract>/<tokenId>".
type NFTID struct {
	Chain    string
	Contract common.Address
	TokenID  string
}

// ParseNFTID splits and validates a composite NFT identifier.
func ParseNFTID(s string) (NFTID, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" {
		return NFTID{}, fmt.Errorf("codec: malformed nft id %q", s)
	}
	contract, err := ParseAddress(parts[1])
	if err != nil {
		return NFTID{}, fmt.Errorf("codec: nft id %q: %w", s, err)
	}
	if _, err := TokenIDBig(parts[2]); err != nil {
		return NFTID{}, fmt.Errorf("codec: nft id %q: %w", s, err)
	}
	return NFTID{Chain: parts[0], Contract: contract, TokenID: parts[2]}, nil
}

// String formats the identifier back to its composite wire form.
func (id NFTID) String() string {
	return id.Chain + "/" + strings.ToLower(id.Contract.Hex()) + "/" + id.TokenID
}
