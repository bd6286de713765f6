package txtracker

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
)

type stubProvider struct {
	nonce       uint64
	blockNumber uint64
}

func (p *stubProvider) GetBlock(context.Context, common.Hash) (*chainapi.BlockRef, error) { return nil, nil }
func (p *stubProvider) GetLogs(context.Context, chainapi.LogFilter) ([]types.Log, error)  { return nil, nil }
func (p *stubProvider) GetTransactionCount(context.Context, common.Address) (uint64, error) {
	return p.nonce, nil
}
func (p *stubProvider) GetBlockNumber(context.Context) (uint64, error) { return p.blockNumber, nil }
func (p *stubProvider) GetMaxPriorityFeePerGas(context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (p *stubProvider) GetLatestBlockHash(context.Context) (common.Hash, error) {
	return common.Hash{}, nil
}
func (p *stubProvider) AggregateSignatures(context.Context, common.Address, []chainapi.UserOpForAggregation) ([]byte, error) {
	return nil, nil
}

type stubSender struct {
	addr     common.Address
	sentHash common.Hash
	status   chainapi.TxStatusResult
}

func (s *stubSender) Address() common.Address { return s.addr }
func (s *stubSender) SendTransaction(context.Context, *types.Transaction, chainapi.ExpectedStorage) (chainapi.SentTx, error) {
	return chainapi.SentTx{Nonce: 0, TxHash: s.sentHash}, nil
}
func (s *stubSender) GetTransactionStatus(context.Context, common.Hash) (chainapi.TxStatusResult, error) {
	return s.status, nil
}
func (s *stubSender) WaitUntilMined(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, nil
}

func makeTx(nonce uint64, tip, feeCap int64) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		Nonce:     nonce,
		GasTipCap: big.NewInt(tip),
		GasFeeCap: big.NewInt(feeCap),
		Gas:       21000,
		To:        &common.Address{},
		Value:     big.NewInt(0),
	})
}

func TestTracker_MinesOnFirstAttempt(t *testing.T) {
	sentHash := common.HexToHash("0xaa")
	provider := &stubProvider{nonce: 5, blockNumber: 100}
	sender := &stubSender{
		addr:     common.HexToAddress("0x01"),
		sentHash: sentHash,
		status:   chainapi.TxStatusResult{Status: chainapi.TxMined, BlockNumber: 101},
	}

	tr, err := New(context.Background(), provider, sender, Settings{
		PollInterval:                  time.Millisecond,
		MaxBlocksToWaitForMine:        2,
		ReplacementFeePercentIncrease: 10,
	})
	require.NoError(t, err)

	nonce, fees, err := tr.GetNonceAndRequiredFees()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), nonce)
	assert.Nil(t, fees)

	provider.nonce = 6 // external nonce advances once the sent tx mines
	update, err := tr.SendTransactionAndWait(context.Background(), makeTx(5, 10, 20), nil)
	require.NoError(t, err)

	assert.Equal(t, Mined, update.Kind)
	assert.Equal(t, sentHash, update.TxHash)
	assert.Equal(t, uint64(101), update.BlockNumber)
	assert.Equal(t, uint64(0), update.AttemptNumber)

	postNonce, postFees, err := tr.GetNonceAndRequiredFees()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), postNonce)
	assert.Nil(t, postFees)
}

func TestTracker_RejectsWrongNonce(t *testing.T) {
	provider := &stubProvider{nonce: 5, blockNumber: 100}
	sender := &stubSender{addr: common.HexToAddress("0x01")}

	tr, err := New(context.Background(), provider, sender, DefaultSettings)
	require.NoError(t, err)

	_, err = tr.SendTransactionAndWait(context.Background(), makeTx(9, 10, 20), nil)
	assert.ErrorIs(t, err, ErrInvalidSubmission)
}

func TestTracker_BusyWhileInFlight(t *testing.T) {
	provider := &stubProvider{nonce: 5, blockNumber: 100}
	sender := &stubSender{addr: common.HexToAddress("0x01")}
	tr, err := New(context.Background(), provider, sender, DefaultSettings)
	require.NoError(t, err)

	tr.mu.Lock()
	defer tr.mu.Unlock()

	_, _, err = tr.GetNonceAndRequiredFees()
	assert.ErrorIs(t, err, ErrBusyTracker)
}

func TestTracker_StillPendingAfterWait(t *testing.T) {
	provider := &stubProvider{nonce: 5, blockNumber: 100}
	sender := &stubSender{
		addr:     common.HexToAddress("0x01"),
		sentHash: common.HexToHash("0xbb"),
		status:   chainapi.TxStatusResult{Status: chainapi.TxPending},
	}

	tr, err := New(context.Background(), provider, sender, Settings{
		PollInterval:           time.Millisecond,
		MaxBlocksToWaitForMine: 1,
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(5 * time.Millisecond)
		provider.blockNumber = 102
	}()

	update, err := tr.SendTransactionAndWait(context.Background(), makeTx(5, 0, 0), nil)
	require.NoError(t, err)
	assert.Equal(t, StillPendingAfterWait, update.Kind)
}
