package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sakhi11/codestake/ledger"
	"github.com/sakhi11/codestake/network"
)

// RPCBackend is the slice of a ledger node the keyed bridge needs; satisfied by
// *ethclient.Client
type RPCBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account ethcommon.Address, blockNumber *big.Int) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// KeyedBridge is a headless wallet bridge backed by a local private key, for server-side
// deployments without an interactive wallet. It signs without prompting and cannot switch
// networks: it is pinned to whatever chain its RPC endpoint serves.
type KeyedBridge struct {
	key     *ecdsa.PrivateKey
	address ethcommon.Address
	backend RPCBackend
	events  chan Event
}

// NewKeyedBridge derives the bridge identity from the given hex-encoded private key
func NewKeyedBridge(hexKey string, backend RPCBackend) (*KeyedBridge, error) {
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse wallet private key; %s", err.Error())
	}

	return &KeyedBridge{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
		events:  make(chan Event),
	}, nil
}

func (b *KeyedBridge) ChainID(ctx context.Context) (*big.Int, error) {
	return b.backend.ChainID(ctx)
}

// SwitchChain always fails: a keyed bridge follows its RPC endpoint
func (b *KeyedBridge) SwitchChain(ctx context.Context, chainID *big.Int) error {
	active, err := b.backend.ChainID(ctx)
	if err == nil && active.Cmp(chainID) == 0 {
		return nil
	}
	return ledger.Errorf(ledger.ErrorKindNetworkMismatch, "keyed wallet is pinned to its RPC endpoint and cannot switch to chain %s", chainID)
}

func (b *KeyedBridge) AddChain(ctx context.Context, descriptor *network.Descriptor) error {
	return ledger.Errorf(ledger.ErrorKindNetworkMismatch, "keyed wallet cannot add network %s", descriptor.Name)
}

func (b *KeyedBridge) RequestAccounts(ctx context.Context) ([]ethcommon.Address, error) {
	return []ethcommon.Address{b.address}, nil
}

func (b *KeyedBridge) Balance(ctx context.Context, account ethcommon.Address) (*big.Int, error) {
	return b.backend.BalanceAt(ctx, account, nil)
}

func (b *KeyedBridge) SignAndSend(ctx context.Context, tx *types.Transaction) (ethcommon.Hash, error) {
	chainID, err := b.backend.ChainID(ctx)
	if err != nil {
		return ethcommon.Hash{}, err
	}

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), b.key)
	if err != nil {
		return ethcommon.Hash{}, fmt.Errorf("failed to sign transaction; %s", err.Error())
	}

	if err = b.backend.SendTransaction(ctx, signed); err != nil {
		return ethcommon.Hash{}, err
	}

	return signed.Hash(), nil
}

// Events never fires for a keyed bridge; accounts and chain are fixed for its lifetime
func (b *KeyedBridge) Events() <-chan Event {
	return b.events
}
