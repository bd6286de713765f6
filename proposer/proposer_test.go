package proposer

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-bundler/bundler/chainapi"
	"github.com/aa-bundler/bundler/mempool"
	"github.com/aa-bundler/bundler/txtypes"
)

type stubPool struct {
	ops []txtypes.UserOperation
}

func (p *stubPool) GetCandidates(context.Context, int) ([]txtypes.UserOperation, error) { return p.ops, nil }
func (p *stubPool) RemoveOps(context.Context, []common.Hash) error                      { return nil }
func (p *stubPool) RejectEntity(context.Context, txtypes.Entity, mempool.RejectedEntityReason) error {
	return nil
}
func (p *stubPool) RejectOp(context.Context, common.Hash, mempool.RejectedEntityReason) error {
	return nil
}

type stubProvider struct{}

func (stubProvider) GetBlock(context.Context, common.Hash) (*chainapi.BlockRef, error) { return nil, nil }
func (stubProvider) GetLogs(context.Context, chainapi.LogFilter) ([]types.Log, error)  { return nil, nil }
func (stubProvider) GetTransactionCount(context.Context, common.Address) (uint64, error) {
	return 0, nil
}
func (stubProvider) GetBlockNumber(context.Context) (uint64, error) { return 0, nil }
func (stubProvider) GetMaxPriorityFeePerGas(context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (stubProvider) GetLatestBlockHash(context.Context) (common.Hash, error) {
	return common.HexToHash("0x01"), nil
}
func (stubProvider) AggregateSignatures(context.Context, common.Address, []chainapi.UserOpForAggregation) ([]byte, error) {
	return []byte("agg-sig"), nil
}

type stubEntryPoint struct {
	outcomes []chainapi.HandleOpsOutcome
	calls    int
}

func (e *stubEntryPoint) Address() common.Address { return common.Address{} }
func (e *stubEntryPoint) EstimateHandleOpsGas(context.Context, []chainapi.AggregatorGroupCall, common.Address) (chainapi.HandleOpsOutcome, error) {
	o := e.outcomes[e.calls]
	e.calls++
	return o, nil
}
func (e *stubEntryPoint) GetDeposit(context.Context, common.Address, common.Hash) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}
func (e *stubEntryPoint) SimulateHandleOp(context.Context, txtypes.UserOperation, common.Address, []byte, common.Hash, *big.Int, map[common.Address]any) (chainapi.ExecutionResult, error) {
	return chainapi.ExecutionResult{}, nil
}

type stubSimulator struct{}

func (stubSimulator) SimulateValidation(_ context.Context, _ txtypes.UserOperation, _ common.Hash, _ *common.Hash) (chainapi.SimulationSuccess, *chainapi.SimulationError) {
	return chainapi.SimulationSuccess{
		ValidTimeRange:    chainapi.TimeRange{},
		AccessedAddresses: map[common.Address]struct{}{},
	}, nil
}

func makeOp(sender common.Address, factory common.Address) txtypes.UserOperation {
	var initCode []byte
	if factory != (common.Address{}) {
		initCode = append(factory.Bytes(), 0x01)
	}
	return txtypes.UserOperation{
		Hash:                 common.BytesToHash(sender.Bytes()),
		Sender:               sender,
		Nonce:                big.NewInt(0),
		InitCode:             initCode,
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(2000),
		MaxPriorityFeePerGas: big.NewInt(2000),
	}
}

func TestProposer_RejectsFactoryOnAA13(t *testing.T) {
	factory := common.HexToAddress("0xfacfacfacfacfacfacfacfacfacfacfacfacfac")
	op := makeOp(common.HexToAddress("0x01"), factory)

	entryPoint := &stubEntryPoint{outcomes: []chainapi.HandleOpsOutcome{
		{Kind: chainapi.HandleOpsFailedOp, FailedOpIndex: 0, FailedOpReason: "AA13 initCode failed or OOG"},
		{Kind: chainapi.HandleOpsSuccess, Gas: big.NewInt(500000)},
	}}

	p := New(&stubPool{ops: []txtypes.UserOperation{op}}, stubProvider{}, entryPoint, stubSimulator{}, Settings{
		MaxBundleSize:            10,
		UseDynamicMaxPriorityFee: false,
	})

	bundle, err := p.MakeBundle(context.Background())
	require.NoError(t, err)

	assert.True(t, bundle.Empty())
	require.Len(t, bundle.RejectedEntities, 1)
	assert.Equal(t, txtypes.EntityFactory, bundle.RejectedEntities[0].Entity.Kind)
	assert.Equal(t, factory, bundle.RejectedEntities[0].Entity.Address)
}

func TestProposer_SucceedsOnFirstTry(t *testing.T) {
	op := makeOp(common.HexToAddress("0x02"), common.Address{})
	entryPoint := &stubEntryPoint{outcomes: []chainapi.HandleOpsOutcome{
		{Kind: chainapi.HandleOpsSuccess, Gas: big.NewInt(300000)},
	}}

	p := New(&stubPool{ops: []txtypes.UserOperation{op}}, stubProvider{}, entryPoint, stubSimulator{}, Settings{
		MaxBundleSize:            10,
		UseDynamicMaxPriorityFee: false,
	})

	bundle, err := p.MakeBundle(context.Background())
	require.NoError(t, err)
	assert.False(t, bundle.Empty())
	require.Len(t, bundle.OpsPerAggregator, 1)
	assert.Len(t, bundle.OpsPerAggregator[0].Ops, 1)
	assert.Empty(t, bundle.RejectedOps)
	assert.Empty(t, bundle.RejectedEntities)
}
