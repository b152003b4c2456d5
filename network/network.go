package network

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/ledger"
)

// ErrChainUnknown is surfaced by wallet bridges when a switch request names a chain the wallet
// has no descriptor for (EIP-3326 error code 4902); the guard reacts by adding the chain first
var ErrChainUnknown = errors.New("chain not known to wallet")

const defaultSettleDelay = time.Second

// Descriptor fully describes the required network so it can be added to a wallet on demand
type Descriptor struct {
	ChainID          *big.Int `json:"chain_id"`
	Name             string   `json:"name"`
	CurrencySymbol   string   `json:"currency_symbol"`
	CurrencyDecimals int      `json:"currency_decimals"`
	RPCURLs          []string `json:"rpc_urls"`
	ExplorerURL      *string  `json:"explorer_url,omitempty"`
}

// RequiredDescriptor builds the required-network descriptor from the environment
func RequiredDescriptor() *Descriptor {
	return &Descriptor{
		ChainID:          common.RequireChainID(),
		Name:             common.NetworkName(),
		CurrencySymbol:   common.NativeCurrencySymbol(),
		CurrencyDecimals: common.NativeCurrencyDecimals(),
		RPCURLs:          []string{common.RequireRPCURL()},
		ExplorerURL:      common.ExplorerURL(),
	}
}

// ChainSwitcher is the slice of the wallet bridge the guard drives
type ChainSwitcher interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, descriptor *Descriptor) error
}

// Guard gates ledger writes on the wallet being connected to the required network
type Guard struct {
	bridge      ChainSwitcher
	required    *Descriptor
	settleDelay time.Duration
}

// NewGuard returns a guard bound to the given wallet bridge and required network
func NewGuard(bridge ChainSwitcher, required *Descriptor) *Guard {
	return &Guard{
		bridge:      bridge,
		required:    required,
		settleDelay: defaultSettleDelay,
	}
}

// CurrentNetwork reads the wallet's active chain id
func (g *Guard) CurrentNetwork(ctx context.Context) (*big.Int, error) {
	return g.bridge.ChainID(ctx)
}

// EnsureNetwork verifies the wallet is on the required network, driving a switch request (and
// an add-network request when the wallet does not know the chain) as needed. When the active
// network already matches it returns immediately without issuing any wallet prompt.
func (g *Guard) EnsureNetwork(ctx context.Context) error {
	active, err := g.bridge.ChainID(ctx)
	if err != nil {
		return ledger.Errorf(ledger.ErrorKindNetworkMismatch, "failed to read active network; %s", err.Error())
	}

	if active.Cmp(g.required.ChainID) == 0 {
		return nil
	}

	common.Log.Debugf("active network %s differs from required %s (%s); requesting switch", active, g.required.ChainID, g.required.Name)

	err = g.bridge.SwitchChain(ctx, g.required.ChainID)
	if errors.Is(err, ErrChainUnknown) {
		if err = g.bridge.AddChain(ctx, g.required); err != nil {
			return passthrough(err, "failed to add network %s to wallet", g.required.Name)
		}
		err = g.bridge.SwitchChain(ctx, g.required.ChainID)
	}
	if err != nil {
		return passthrough(err, "failed to switch wallet to network %s", g.required.Name)
	}

	// wallets report switch acceptance before the provider has settled on the new chain
	select {
	case <-ctx.Done():
		return ledger.Errorf(ledger.ErrorKindTimeout, "network switch confirmation abandoned; %s", ctx.Err().Error())
	case <-time.After(g.settleDelay):
	}

	active, err = g.bridge.ChainID(ctx)
	if err != nil || active.Cmp(g.required.ChainID) != 0 {
		return ledger.Errorf(ledger.ErrorKindNetworkMismatch, "network mismatch persists after switch to %s", g.required.Name)
	}

	return nil
}

func passthrough(err error, format string, args ...interface{}) error {
	var lerr *ledger.Error
	if errors.As(err, &lerr) {
		return lerr
	}
	return ledger.Errorf(ledger.ErrorKindNetworkMismatch, "%s; %s", fmt.Sprintf(format, args...), err.Error())
}
