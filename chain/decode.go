package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aa-bundler/bundler/txtypes"
)

// Event selectors for the two entry-point log kinds the chain tracker cares
// about: UserOperationEvent(bytes32,address,address,uint256,bool,uint256,uint256)
// and Deposited(address,uint256).
var (
	userOperationEventTopic = common.HexToHash("0x49628fd1471006c1482da88028e9ce4dbb080b815c9b0344d39e5a8e6ec1419f")
	depositedEventTopic     = common.HexToHash("0x2da466a7b24304f47e87fa2e1e5a81b9831ce54fec19055ce277ca2f39ba42c4")
)

func topicAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes())
}

// decodeBlockLogs splits a hash-scoped log query result into the mined ops
// and deposits it carries. An event whose topic count doesn't match the
// expected shape is skipped rather than treated as fatal — a malformed log
// from a misconfigured entry point address shouldn't abort the whole
// window update.
func decodeBlockLogs(logs []types.Log) ([]txtypes.MinedOp, []txtypes.DepositInfo) {
	var ops []txtypes.MinedOp
	var deposits []txtypes.DepositInfo

	for _, l := range logs {
		if len(l.Topics) == 0 {
			continue
		}
		switch l.Topics[0] {
		case userOperationEventTopic:
			if len(l.Topics) < 4 || len(l.Data) < 32 {
				continue
			}
			ops = append(ops, txtypes.MinedOp{
				Hash:          l.Topics[1],
				EntryPoint:    l.Address,
				Sender:        topicAddress(l.Topics[2]),
				Nonce:         new(big.Int).SetBytes(l.Data[0:32]),
				ActualGasCost: decodeActualGasCost(l.Data),
				Paymaster:     nonZeroPaymaster(topicAddress(l.Topics[3])),
			})
		case depositedEventTopic:
			if len(l.Topics) < 2 || len(l.Data) < 32 {
				continue
			}
			deposits = append(deposits, txtypes.DepositInfo{
				Account:      topicAddress(l.Topics[1]),
				EntryPoint:   l.Address,
				TotalDeposit: new(big.Int).SetBytes(l.Data[0:32]),
			})
		}
	}
	return ops, deposits
}

// decodeActualGasCost reads the actualGasCost word: nonce(32) | success(32) |
// actualGasCost(32) | actualGasUsed(32).
func decodeActualGasCost(data []byte) *big.Int {
	if len(data) < 96 {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(data[64:96])
}

func nonZeroPaymaster(addr common.Address) *common.Address {
	if addr == (common.Address{}) {
		return nil
	}
	return &addr
}
