package wallet

import (
	"context"
	"math/big"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	uuid "github.com/kthomas/go.uuid"
	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/ledger"
	"github.com/sakhi11/codestake/network"
)

// Wallet event kinds observed asynchronously from the bridge
const EventAccountsChanged = "accounts_changed"
const EventChainChanged = "chain_changed"

// Event is an asynchronous notification emitted by the wallet provider
type Event struct {
	Kind     string              `json:"kind"`
	Accounts []ethcommon.Address `json:"accounts,omitempty"`
	ChainID  *big.Int            `json:"chain_id,omitempty"`
}

// Bridge is the external wallet provider boundary. Implementations surface user rejection as a
// ledger.Error with the user_rejected kind and unknown-chain switch failures as
// network.ErrChainUnknown; the session never inspects message text.
type Bridge interface {
	network.ChainSwitcher

	RequestAccounts(ctx context.Context) ([]ethcommon.Address, error)
	Balance(ctx context.Context, account ethcommon.Address) (*big.Int, error)
	SignAndSend(ctx context.Context, tx *types.Transaction) (ethcommon.Hash, error)
	Events() <-chan Event
}

// Identity is a connected wallet account
type Identity struct {
	SessionID uuid.UUID         `json:"session_id"`
	Address   ethcommon.Address `json:"address"`
}

// Session owns the connected account identity and its lifecycle. It is an explicit object
// injected into the ledger client and pipeline; nothing reads wallet state ambiently.
type Session struct {
	bridge Bridge

	mutex    sync.RWMutex
	identity *Identity
	balance  *big.Int

	identityObservers []func(*Identity)
}

// NewSession wraps the given wallet bridge in a connectable session
func NewSession(bridge Bridge) *Session {
	return &Session{
		bridge: bridge,
	}
}

// Connect resolves the wallet account, prompting the user if the wallet requires it; this is
// the only session operation permitted to prompt
func (s *Session) Connect(ctx context.Context) (*Identity, error) {
	accounts, err := s.bridge.RequestAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ledger.Errorf(ledger.ErrorKindUserRejected, "wallet connected without exposing any account")
	}

	sessionID, _ := uuid.NewV4()
	identity := &Identity{
		SessionID: sessionID,
		Address:   accounts[0],
	}

	balance, err := s.bridge.Balance(ctx, identity.Address)
	if err != nil {
		common.Log.Warningf("failed to refresh balance for %s; %s", identity.Address.Hex(), err.Error())
		balance = nil
	}

	s.mutex.Lock()
	s.identity = identity
	s.balance = balance
	observers := append([]func(*Identity){}, s.identityObservers...)
	s.mutex.Unlock()

	for _, observer := range observers {
		observer(identity)
	}

	common.Log.Debugf("wallet session %s connected: %s", identity.SessionID, identity.Address.Hex())
	return identity, nil
}

// Disconnect tears down the session; derived per-identity views are invalidated via observers
func (s *Session) Disconnect() {
	s.mutex.Lock()
	identity := s.identity
	s.identity = nil
	s.balance = nil
	observers := append([]func(*Identity){}, s.identityObservers...)
	s.mutex.Unlock()

	if identity != nil {
		common.Log.Debugf("wallet session %s disconnected", identity.SessionID)
	}

	for _, observer := range observers {
		observer(nil)
	}
}

// CurrentIdentity returns the connected identity, if any, without prompting
func (s *Session) CurrentIdentity() *Identity {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.identity
}

// Balance returns the connected account balance, refreshing it from the bridge
func (s *Session) Balance(ctx context.Context) (*big.Int, error) {
	identity := s.CurrentIdentity()
	if identity == nil {
		return nil, ledger.Errorf(ledger.ErrorKindUserRejected, "no connected wallet session")
	}

	balance, err := s.bridge.Balance(ctx, identity.Address)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	s.balance = balance
	s.mutex.Unlock()

	return balance, nil
}

// OnIdentityChange registers an observer invoked with the new identity on connect and account
// change, and with nil on disconnect
func (s *Session) OnIdentityChange(observer func(*Identity)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.identityObservers = append(s.identityObservers, observer)
}

// From implements ledger.Signer for the connected account
func (s *Session) From() ethcommon.Address {
	identity := s.CurrentIdentity()
	if identity == nil {
		return ethcommon.Address{}
	}
	return identity.Address
}

// SignAndSend implements ledger.Signer, delegating signing to the wallet bridge
func (s *Session) SignAndSend(ctx context.Context, tx *types.Transaction) (ethcommon.Hash, error) {
	if s.CurrentIdentity() == nil {
		return ethcommon.Hash{}, ledger.Errorf(ledger.ErrorKindUserRejected, "no connected wallet session")
	}
	return s.bridge.SignAndSend(ctx, tx)
}

// Watch consumes asynchronous wallet events until the given context is canceled. An account
// change re-runs the connect success path; an empty accounts event is a disconnect.
func (s *Session) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.bridge.Events():
			if !ok {
				return
			}
			s.handleEvent(ctx, event)
		}
	}
}

func (s *Session) handleEvent(ctx context.Context, event Event) {
	switch event.Kind {
	case EventAccountsChanged:
		if len(event.Accounts) == 0 {
			s.Disconnect()
			return
		}

		current := s.CurrentIdentity()
		if current != nil && current.Address == event.Accounts[0] {
			return
		}

		if _, err := s.Connect(ctx); err != nil {
			common.Log.Warningf("failed to re-establish wallet session after account change; %s", err.Error())
		}
	case EventChainChanged:
		common.Log.Debugf("wallet reported network change: %s", event.ChainID)
	default:
		common.Log.Warningf("ignored wallet event of unknown kind: %s", event.Kind)
	}
}
