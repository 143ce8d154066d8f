package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Topic hashes of the transfer events that count as fill evidence.
var (
	transferTopic       = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	transferSingleTopic = crypto.Keccak256Hash([]byte("TransferSingle(address,address,address,uint256,uint256)"))
)

// CountFills scans a receipt's logs for token transfers of the given contract
// into recipient and returns how many of the listed token ids were filled.
// ERC-721 Transfer carries the token id as the third indexed topic; ERC-1155
// TransferSingle carries id and amount in the data payload.
func CountFills(rcpt *types.Receipt, contract, recipient common.Address, tokenIDs []string) int64 {
	if rcpt == nil || len(rcpt.Logs) == 0 {
		return 0
	}

	wanted := make(map[string]bool, len(tokenIDs))
	for _, id := range tokenIDs {
		wanted[id] = true
	}

	var fills int64
	for _, lg := range rcpt.Logs {
		if lg.Address != contract || len(lg.Topics) == 0 {
			continue
		}

		switch lg.Topics[0] {
		case transferTopic:
			// ERC-721: Transfer(from indexed, to indexed, tokenId indexed).
			// The ERC-20 Transfer shares the signature but only has two
			// indexed topics, which the length check excludes.
			if len(lg.Topics) != 4 {
				continue
			}
			to := common.BytesToAddress(lg.Topics[2].Bytes())
			if to != recipient {
				continue
			}
			tokenID := new(big.Int).SetBytes(lg.Topics[3].Bytes()).String()
			if wanted[tokenID] {
				fills++
			}

		case transferSingleTopic:
			if len(lg.Topics) != 4 || len(lg.Data) < 64 {
				continue
			}
			to := common.BytesToAddress(lg.Topics[3].Bytes())
			if to != recipient {
				continue
			}
			tokenID := new(big.Int).SetBytes(lg.Data[:32]).String()
			amount := new(big.Int).SetBytes(lg.Data[32:64])
			if wanted[tokenID] && amount.IsInt64() {
				fills += amount.Int64()
			}
		}
	}
	return fills
}
