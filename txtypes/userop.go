// Package txtypes holds the data model shared by the chain tracker, the
// bundle proposer and the transaction tracker: user operations, their
// on-chain projections, gas fees and the entities (factory/paymaster/
// aggregator) that can be ejected from the mempool.
package txtypes

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserOperation is the abstract ERC-4337 input unit. Identity is
// (Sender, Nonce); Hash is a separate content-addressed identifier
// derived from the operation and the entry point it targets.
type UserOperation struct {
	Hash   common.Hash
	Sender common.Address
	Nonce  *big.Int

	InitCode         []byte
	CallData         []byte
	PaymasterAndData []byte
	Signature        []byte

	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// Id returns the operation's (sender, nonce) identity.
type Id struct {
	Sender common.Address
	Nonce  *big.Int
}

func (op *UserOperation) Id() Id {
	return Id{Sender: op.Sender, Nonce: op.Nonce}
}

// addressPrefixLen is the length, in bytes, of the leading entity address
// packed into init_code / paymaster_and_data.
const addressPrefixLen = 20

// FactoryAddress returns the factory entity named by the leading 20 bytes
// of InitCode, or the zero address and false if none is present.
func (op *UserOperation) FactoryAddress() (common.Address, bool) {
	return leadingAddress(op.InitCode)
}

// PaymasterAddress returns the paymaster entity named by the leading 20
// bytes of PaymasterAndData, or the zero address and false if none is
// present.
func (op *UserOperation) PaymasterAddress() (common.Address, bool) {
	return leadingAddress(op.PaymasterAndData)
}

func leadingAddress(data []byte) (common.Address, bool) {
	if len(data) < addressPrefixLen {
		return common.Address{}, false
	}
	return common.BytesToAddress(data[:addressPrefixLen]), true
}

// MaxGasCost is the maximum amount of wei this operation could cost,
// ceiling-bounded by MaxFeePerGas across all three gas components. This is
// the figure debited from a paymaster's running deposit balance during
// bundle assembly.
func (op *UserOperation) MaxGasCost() *big.Int {
	gas := new(big.Int).Add(op.PreVerificationGas, op.VerificationGasLimit)
	gas.Add(gas, op.CallGasLimit)
	return gas.Mul(gas, op.MaxFeePerGas)
}

// MinedOp is the event projection of a UserOperation recovered from a
// UserOperationEvent log.
type MinedOp struct {
	Hash          common.Hash
	EntryPoint    common.Address
	Sender        common.Address
	Nonce         *big.Int
	ActualGasCost *big.Int
	Paymaster     *common.Address
}

func (m MinedOp) Id() Id {
	return Id{Sender: m.Sender, Nonce: m.Nonce}
}

// DepositInfo is captured from Deposited events for a single block.
type DepositInfo struct {
	Account      common.Address
	EntryPoint   common.Address
	TotalDeposit *big.Int
}

// EntityKind names the role an address plays in a UserOperation.
type EntityKind int

const (
	EntityAccount EntityKind = iota
	EntityFactory
	EntityPaymaster
	EntityAggregator
)

func (k EntityKind) String() string {
	switch k {
	case EntityAccount:
		return "account"
	case EntityFactory:
		return "factory"
	case EntityPaymaster:
		return "paymaster"
	case EntityAggregator:
		return "aggregator"
	default:
		return "unknown"
	}
}

// Entity identifies one of the auxiliary participants in a bundle that can
// be rejected wholesale (along with every op that references it).
type Entity struct {
	Kind    EntityKind
	Address common.Address
}
