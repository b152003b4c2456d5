package ledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	callReturn []byte
	callErr    error
	callCalls  int

	estimateGas   uint64
	estimateErr   error
	estimateCalls int

	gasPrice *big.Int
	nonce    uint64

	receipt      *types.Receipt
	receiptErr   error
	receiptCalls int
}

func (b *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.callCalls++
	if b.callErr != nil {
		return nil, b.callErr
	}
	return b.callReturn, nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.estimateCalls++
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return b.estimateGas, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if b.gasPrice == nil {
		return big.NewInt(1000000000), nil
	}
	return b.gasPrice, nil
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error) {
	b.receiptCalls++
	if b.receiptErr != nil {
		return nil, b.receiptErr
	}
	if b.receipt == nil {
		return nil, ethereum.NotFound
	}
	return b.receipt, nil
}

type fakeSigner struct {
	from        ethcommon.Address
	signErr     error
	signedNonce uint64
	signedGas   uint64
	signCalls   int
}

func (s *fakeSigner) From() ethcommon.Address {
	return s.from
}

func (s *fakeSigner) SignAndSend(ctx context.Context, tx *types.Transaction) (ethcommon.Hash, error) {
	s.signCalls++
	if s.signErr != nil {
		return ethcommon.Hash{}, s.signErr
	}
	s.signedNonce = tx.Nonce()
	s.signedGas = tx.Gas()
	return tx.Hash(), nil
}

type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string  { return e.msg }
func (e *codedError) ErrorCode() int { return e.code }

var contractAddress = ethcommon.HexToAddress("0x000000000000000000000000000000000000c0de")

func newTestClient(backend *fakeBackend, signer *fakeSigner) *Client {
	return Bind(contractAddress, MustStakingABI(), backend, signer)
}

func TestUnboundMethodFailsLocally(t *testing.T) {
	backend := &fakeBackend{}
	client := newTestClient(backend, &fakeSigner{})

	assert.True(t, client.Supports(MethodChallenges))
	assert.False(t, client.Supports("mintBadge"))

	_, err := client.Call(context.Background(), "mintBadge", big.NewInt(1))
	require.Error(t, err)
	assert.Equal(t, ErrorKindMethodUnavailable, Kind(err))
	assert.Zero(t, backend.callCalls, "missing methods must not reach the network")

	_, err = client.EstimateGas(context.Background(), "mintBadge", nil, big.NewInt(1))
	require.Error(t, err)
	assert.Equal(t, ErrorKindMethodUnavailable, Kind(err))
	assert.Zero(t, backend.estimateCalls)
}

func TestCallUnpacksReturnValues(t *testing.T) {
	// challengeCounter returns a single uint256
	counter := ethcommon.LeftPadBytes(big.NewInt(42).Bytes(), 32)
	backend := &fakeBackend{callReturn: counter}
	client := newTestClient(backend, &fakeSigner{})

	values, err := client.Call(context.Background(), MethodChallengeCounter)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, big.NewInt(42), values[0])
}

func TestCallEmptyReturnDataMalformed(t *testing.T) {
	backend := &fakeBackend{callReturn: []byte{}}
	client := newTestClient(backend, &fakeSigner{})

	_, err := client.Call(context.Background(), MethodChallengeCounter)
	require.Error(t, err)
	assert.Equal(t, ErrorKindMalformedResponse, Kind(err))
}

func TestCallTruncatedReturnDataMalformed(t *testing.T) {
	backend := &fakeBackend{callReturn: []byte{0x01, 0x02}}
	client := newTestClient(backend, &fakeSigner{})

	_, err := client.Call(context.Background(), MethodChallengeCounter)
	require.Error(t, err)
	assert.Equal(t, ErrorKindMalformedResponse, Kind(err))
}

func TestEstimateGasAppliesSafetyMargin(t *testing.T) {
	backend := &fakeBackend{estimateGas: 100000}
	client := newTestClient(backend, &fakeSigner{})

	gas, err := client.EstimateGas(context.Background(), MethodDeposit, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(130000), gas)
}

func TestEstimateGasClassifiesRevert(t *testing.T) {
	backend := &fakeBackend{estimateErr: &codedError{code: 3, msg: "execution reverted: already joined"}}
	client := newTestClient(backend, &fakeSigner{})

	_, err := client.EstimateGas(context.Background(), MethodJoinChallenge, big.NewInt(1), big.NewInt(7))
	require.Error(t, err)
	assert.Equal(t, ErrorKindEstimationFailed, Kind(err))
}

func TestEstimateGasClassifiesRateLimit(t *testing.T) {
	backend := &fakeBackend{estimateErr: &codedError{code: 429, msg: "too many requests"}}
	client := newTestClient(backend, &fakeSigner{})

	_, err := client.EstimateGas(context.Background(), MethodDeposit, big.NewInt(1))
	require.Error(t, err)
	assert.Equal(t, ErrorKindRateLimited, Kind(err))
	assert.True(t, IsTransient(Kind(err)))
}

func TestEstimateGasClassifiesInsufficientFunds(t *testing.T) {
	backend := &fakeBackend{estimateErr: core.ErrInsufficientFunds}
	client := newTestClient(backend, &fakeSigner{})

	_, err := client.EstimateGas(context.Background(), MethodDeposit, big.NewInt(1))
	require.Error(t, err)
	assert.Equal(t, ErrorKindInsufficientFunds, Kind(err))
}

func TestSendBuildsAndSignsTransaction(t *testing.T) {
	backend := &fakeBackend{nonce: 9}
	signer := &fakeSigner{from: ethcommon.HexToAddress("0x00000000000000000000000000000000000000aa")}
	client := newTestClient(backend, signer)

	hash, err := client.Send(context.Background(), MethodDeposit, big.NewInt(100), 130000)
	require.NoError(t, err)
	assert.NotEqual(t, ethcommon.Hash{}, hash)
	assert.Equal(t, 1, signer.signCalls)
	assert.Equal(t, uint64(9), signer.signedNonce)
	assert.Equal(t, uint64(130000), signer.signedGas)
}

func TestSendSignerRejectionPassesThrough(t *testing.T) {
	signer := &fakeSigner{signErr: Errorf(ErrorKindUserRejected, "user denied transaction signature")}
	client := newTestClient(&fakeBackend{}, signer)

	_, err := client.Send(context.Background(), MethodDeposit, big.NewInt(100), 130000)
	require.Error(t, err)
	assert.Equal(t, ErrorKindUserRejected, Kind(err))
}

func TestAwaitReceiptTimesOut(t *testing.T) {
	backend := &fakeBackend{}
	client := newTestClient(backend, &fakeSigner{})
	client.receiptPollInterval = time.Millisecond
	client.receiptTimeout = time.Millisecond * 20

	_, err := client.AwaitReceipt(context.Background(), ethcommon.HexToHash("0x01"))
	require.Error(t, err)
	assert.Equal(t, ErrorKindTimeout, Kind(err))
	assert.Greater(t, backend.receiptCalls, 1, "a confirmation wait polls repeatedly before giving up")
}

func TestAwaitReceiptReturnsMinedReceipt(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	client := newTestClient(&fakeBackend{receipt: receipt}, &fakeSigner{})

	mined, err := client.AwaitReceipt(context.Background(), ethcommon.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, receipt, mined)
}

func TestKindDefaultsToInternal(t *testing.T) {
	assert.Equal(t, ErrorKindInternal, Kind(assert.AnError))
	assert.Equal(t, ErrorKindTimeout, Kind(Errorf(ErrorKindTimeout, "slow")))
}
