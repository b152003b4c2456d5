package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sakhi11/codestake/common"
)

const gasSafetyMarginPercent = 30

const defaultReceiptPollInterval = time.Second * 2
const defaultReceiptTimeout = time.Minute * 3

// Backend is the read/submit surface of a ledger node; satisfied by *ethclient.Client
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account ethcommon.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*types.Receipt, error)
}

// Signer owns the caller identity and transaction signing; satisfied by the wallet session
type Signer interface {
	From() ethcommon.Address
	SignAndSend(ctx context.Context, tx *types.Transaction) (ethcommon.Hash, error)
}

// Client is a typed facade over the staking contract. The ABI is parsed once at bind time and
// acts as the capability descriptor: calls against methods absent from it fail locally with a
// method_unavailable kind and never touch the network.
type Client struct {
	address ethcommon.Address
	abi     abi.ABI
	backend Backend
	signer  Signer

	receiptPollInterval time.Duration
	receiptTimeout      time.Duration
}

// Bind parses the contract ABI and binds the client to the deployed contract address
func Bind(address ethcommon.Address, parsedABI abi.ABI, backend Backend, signer Signer) *Client {
	return &Client{
		address:             address,
		abi:                 parsedABI,
		backend:             backend,
		signer:              signer,
		receiptPollInterval: defaultReceiptPollInterval,
		receiptTimeout:      defaultReceiptTimeout,
	}
}

// Supports returns true if the bound contract exposes the given method
func (c *Client) Supports(method string) bool {
	_, ok := c.abi.Methods[method]
	return ok
}

func (c *Client) method(name string) (*abi.Method, *Error) {
	m, ok := c.abi.Methods[name]
	if !ok {
		return nil, Errorf(ErrorKindMethodUnavailable, "method %s not present on bound contract %s", name, c.address.Hex())
	}
	return &m, nil
}

// Call executes a read-only contract method and returns the unpacked return values
func (c *Client) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	m, merr := c.method(method)
	if merr != nil {
		return nil, merr
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, Errorf(ErrorKindInternal, "failed to pack %s call; %s", method, err.Error())
	}

	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, classify(err, ErrorKindInternal, method)
	}

	if len(raw) == 0 && len(m.Outputs) > 0 {
		return nil, Errorf(ErrorKindMalformedResponse, "empty return data for %s; expected %d output(s)", method, len(m.Outputs))
	}

	values, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, Errorf(ErrorKindMalformedResponse, "failed to unpack %s return data; %s", method, err.Error())
	}

	return values, nil
}

// EstimateGas dry-runs a state-changing method and returns the gas limit inflated by a fixed
// safety margin, absorbing minor state drift between estimation and submission
func (c *Client) EstimateGas(ctx context.Context, method string, value *big.Int, args ...interface{}) (uint64, error) {
	if _, merr := c.method(method); merr != nil {
		return 0, merr
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return 0, Errorf(ErrorKindInternal, "failed to pack %s call; %s", method, err.Error())
	}

	from := c.signer.From()
	gas, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &c.address,
		Value: common.BigIntOrZero(value),
		Data:  data,
	})
	if err != nil {
		return 0, classify(err, ErrorKindEstimationFailed, method)
	}

	return gas + gas*gasSafetyMarginPercent/100, nil
}

// Send signs and submits a state-changing transaction; fire-and-forget, callers await the
// receipt separately
func (c *Client) Send(ctx context.Context, method string, value *big.Int, gasLimit uint64, args ...interface{}) (ethcommon.Hash, error) {
	if _, merr := c.method(method); merr != nil {
		return ethcommon.Hash{}, merr
	}

	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return ethcommon.Hash{}, Errorf(ErrorKindInternal, "failed to pack %s call; %s", method, err.Error())
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.signer.From())
	if err != nil {
		return ethcommon.Hash{}, classify(err, ErrorKindInternal, method)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return ethcommon.Hash{}, classify(err, ErrorKindInternal, method)
	}

	tx := types.NewTransaction(nonce, c.address, common.BigIntOrZero(value), gasLimit, gasPrice, data)

	hash, err := c.signer.SignAndSend(ctx, tx)
	if err != nil {
		return ethcommon.Hash{}, classify(err, ErrorKindInternal, method)
	}

	common.Log.Debugf("submitted %s transaction: %s", method, hash.Hex())
	return hash, nil
}

// AwaitReceipt polls until the given transaction is mined or the wait times out. A timeout is
// an ambiguous outcome, not a failure; the transaction may still land and callers must
// re-query authoritative state rather than assume non-occurrence.
func (c *Client) AwaitReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			// transport hiccups while polling are not terminal; the deadline is
			common.Log.Tracef("receipt poll for %s failed; %s", hash.Hex(), err.Error())
		}

		select {
		case <-ctx.Done():
			return nil, Errorf(ErrorKindTimeout, "no confirmation for transaction %s within %s", hash.Hex(), c.receiptTimeout)
		case <-ticker.C:
		}
	}
}

// classify maps a raw backend error onto the closed kind taxonomy. Classification keys off
// typed rpc error codes and context sentinels, never message text.
func classify(err error, defaultKind, method string) *Error {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Errorf(ErrorKindTimeout, "%s did not complete; %s", method, err.Error())
	}

	if errors.Is(err, core.ErrInsufficientFunds) {
		return Errorf(ErrorKindInsufficientFunds, "%s requires more than the available balance; %s", method, err.Error())
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case 429, -32005:
			return Errorf(ErrorKindRateLimited, "%s was rate limited; %s", method, err.Error())
		case 3, -32000:
			return Errorf(defaultKind, "%s reverted in dry-run; %s", method, err.Error())
		}
	}

	return Errorf(defaultKind, "%s failed; %s", method, err.Error())
}
