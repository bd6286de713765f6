package chain

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aa-bundler/bundler/chainapi"
	"github.com/aa-bundler/bundler/txtypes"
)

// mockBlock is one entry in a mock chain, keyed by hash with logs attached.
type mockBlock struct {
	number     uint64
	hash       common.Hash
	parentHash common.Hash
	opHashes   []common.Hash
	deposits   []common.Address
}

type mockProvider struct {
	byHash map[common.Hash]mockBlock
}

func newMockProvider() *mockProvider {
	return &mockProvider{byHash: make(map[common.Hash]mockBlock)}
}

func (p *mockProvider) setChain(blocks []mockBlock) {
	p.byHash = make(map[common.Hash]mockBlock, len(blocks))
	for _, b := range blocks {
		p.byHash[b.hash] = b
	}
}

func (p *mockProvider) GetBlock(_ context.Context, hash common.Hash) (*chainapi.BlockRef, error) {
	b, ok := p.byHash[hash]
	if !ok {
		return nil, assertErr("block not found")
	}
	return &chainapi.BlockRef{Number: b.number, Hash: b.hash, ParentHash: b.parentHash, Timestamp: b.number}, nil
}

func (p *mockProvider) GetLogs(_ context.Context, filter chainapi.LogFilter) ([]types.Log, error) {
	b, ok := p.byHash[filter.BlockHash]
	if !ok {
		return nil, assertErr("block not found")
	}
	var logs []types.Log
	for _, h := range b.opHashes {
		logs = append(logs, types.Log{
			Address: common.Address{},
			Topics:  []common.Hash{userOperationEventTopic, h, common.BytesToHash(common.Address{1}.Bytes()), common.Hash{}},
			Data:    make([]byte, 128),
		})
	}
	for _, addr := range b.deposits {
		logs = append(logs, types.Log{
			Topics: []common.Hash{depositedEventTopic, common.BytesToHash(addr.Bytes())},
			Data:   make([]byte, 32),
		})
	}
	return logs, nil
}

func (p *mockProvider) GetTransactionCount(context.Context, common.Address) (uint64, error) { return 0, nil }
func (p *mockProvider) GetBlockNumber(context.Context) (uint64, error)                      { return 0, nil }
func (p *mockProvider) GetMaxPriorityFeePerGas(context.Context) (*big.Int, error)           { return big.NewInt(0), nil }
func (p *mockProvider) GetLatestBlockHash(context.Context) (common.Hash, error)             { return common.Hash{}, nil }
func (p *mockProvider) AggregateSignatures(context.Context, common.Address, []chainapi.UserOpForAggregation) ([]byte, error) {
	return nil, nil
}

type assertErrT string

func (e assertErrT) Error() string { return string(e) }
func assertErr(s string) error     { return assertErrT(s) }

func h(n uint64) common.Hash { return common.BigToHash(big.NewInt(int64(n))) }
func opHash(n uint64) common.Hash { return common.BigToHash(big.NewInt(10_000 + int64(n))) }

func TestTracker_InitialLoad(t *testing.T) {
	p := newMockProvider()
	p.setChain([]mockBlock{
		{number: 0, hash: h(0), parentHash: common.Hash{}, opHashes: []common.Hash{opHash(101), opHash(102)}},
		{number: 1, hash: h(1), parentHash: h(0), opHashes: []common.Hash{opHash(103)}},
		{number: 2, hash: h(2), parentHash: h(1)},
		{number: 3, hash: h(3), parentHash: h(2), opHashes: []common.Hash{opHash(104), opHash(105)}},
	})

	tr, err := New(p, Settings{HistorySize: 3, PollInterval: time.Second})
	require.NoError(t, err)

	update, err := tr.SyncToBlock(context.Background(), h(3))
	require.NoError(t, err)

	assert.EqualValues(t, 3, update.LatestNumber)
	assert.EqualValues(t, 1, update.EarliestRememberedNumber)
	assert.EqualValues(t, 0, update.ReorgDepth)
	assert.False(t, update.ReorgLargerThanHistory)
	assert.Len(t, update.MinedOps, 3)
	assert.Empty(t, update.UnminedOps)
}

func TestTracker_ForwardReorg(t *testing.T) {
	p := newMockProvider()
	p.setChain([]mockBlock{
		{number: 0, hash: h(0), opHashes: []common.Hash{opHash(100)}},
		{number: 1, hash: h(1), parentHash: h(0), opHashes: []common.Hash{opHash(101)}},
		{number: 2, hash: h(2), parentHash: h(1), opHashes: []common.Hash{opHash(102)}, deposits: []common.Address{{0xaa}}},
	})
	tr, err := New(p, Settings{HistorySize: 3, PollInterval: time.Second})
	require.NoError(t, err)
	_, err = tr.SyncToBlock(context.Background(), h(2))
	require.NoError(t, err)

	p.setChain([]mockBlock{
		{number: 0, hash: h(0), opHashes: []common.Hash{opHash(100)}},
		{number: 1, hash: h(1), parentHash: h(0), opHashes: []common.Hash{opHash(101)}},
		{number: 2, hash: h(12), parentHash: h(1), opHashes: []common.Hash{opHash(112)}},
		{number: 3, hash: h(13), parentHash: h(12), opHashes: []common.Hash{opHash(113)}},
		{number: 4, hash: h(14), parentHash: h(13), opHashes: []common.Hash{opHash(114)}},
	})

	update, err := tr.SyncToBlock(context.Background(), h(14))
	require.NoError(t, err)

	assert.EqualValues(t, 1, update.ReorgDepth)
	assert.EqualValues(t, 4, update.LatestNumber)
	assert.EqualValues(t, 2, update.EarliestRememberedNumber)
	assert.Len(t, update.MinedOps, 3)
	assert.Len(t, update.UnminedOps, 1)
	assert.False(t, update.ReorgLargerThanHistory)
}

func TestTracker_ReorgLargerThanHistory(t *testing.T) {
	p := newMockProvider()
	p.setChain([]mockBlock{
		{number: 0, hash: h(0), opHashes: []common.Hash{opHash(100)}},
		{number: 1, hash: h(1), parentHash: h(0), opHashes: []common.Hash{opHash(101)}},
		{number: 2, hash: h(2), parentHash: h(1), opHashes: []common.Hash{opHash(102)}},
		{number: 3, hash: h(3), parentHash: h(2), opHashes: []common.Hash{opHash(103)}},
	})
	tr, err := New(p, Settings{HistorySize: 3, PollInterval: time.Second})
	require.NoError(t, err)
	_, err = tr.SyncToBlock(context.Background(), h(3))
	require.NoError(t, err)

	p.setChain([]mockBlock{
		{number: 0, hash: h(0), opHashes: []common.Hash{opHash(100)}},
		{number: 1, hash: h(11), parentHash: h(0), opHashes: []common.Hash{opHash(111)}},
		{number: 2, hash: h(12), parentHash: h(11), opHashes: []common.Hash{opHash(112)}},
		{number: 3, hash: h(13), parentHash: h(12), opHashes: []common.Hash{opHash(113)}},
	})

	update, err := tr.SyncToBlock(context.Background(), h(13))
	require.NoError(t, err)

	assert.EqualValues(t, 3, update.ReorgDepth)
	assert.True(t, update.ReorgLargerThanHistory)
	assert.Len(t, update.MinedOps, 3)
	assert.Len(t, update.UnminedOps, 3)
}

func TestTracker_SameHeadIsIdempotent(t *testing.T) {
	p := newMockProvider()
	p.setChain([]mockBlock{
		{number: 0, hash: h(0)},
		{number: 1, hash: h(1), parentHash: h(0), opHashes: []common.Hash{opHash(101)}},
	})
	tr, err := New(p, Settings{HistorySize: 3, PollInterval: time.Second})
	require.NoError(t, err)
	_, err = tr.SyncToBlock(context.Background(), h(1))
	require.NoError(t, err)

	update, err := tr.SyncToBlock(context.Background(), h(1))
	require.NoError(t, err)
	assert.EqualValues(t, 0, update.ReorgDepth)
	assert.Empty(t, update.MinedOps)
	assert.Empty(t, update.UnminedOps)
}

func TestTracker_RejectsHistorySizeZero(t *testing.T) {
	_, err := New(newMockProvider(), Settings{HistorySize: 0})
	require.Error(t, err)
}

func TestUpdate_Deduped(t *testing.T) {
	op := txtypes.MinedOp{Hash: opHash(1)}
	u := Update{
		MinedOps:   []txtypes.MinedOp{op},
		UnminedOps: []txtypes.MinedOp{op},
	}
	deduped := u.Deduped()
	assert.Empty(t, deduped.MinedOps)
	assert.Empty(t, deduped.UnminedOps)
}
