package pipeline

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	natsutil "github.com/kthomas/go-natsutil"
	uuid "github.com/kthomas/go.uuid"
	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/ledger"
)

// Pipeline stages, each terminal on failure
const StageNetworkCheck = "network_check"
const StagePreValidate = "prevalidate"
const StageEstimate = "estimate"
const StageSubmit = "submit"
const StageConfirm = "confirm"

// Lifecycle event subjects, shared with the reconciliation consumer
const NatsTxConfirmedSubject = "codestake.tx.confirmed"
const NatsTxFailedSubject = "codestake.tx.failed"

// transient failures in the pre-submission stages are retried at most once
const maxTransientRetries = 1

const defaultEstimateTimeout = time.Second * 30
const defaultSignatureTimeout = time.Minute * 2

// Invocation is a transient record of one state-changing ledger operation; it is destroyed on
// terminal success or failure
type Invocation struct {
	ID     uuid.UUID     `json:"id"`
	Method string        `json:"method"`
	Args   []interface{} `json:"-"`
	Value  *big.Int      `json:"value,omitempty"`

	// PreValidate runs caller-supplied argument checks; it must be purely local
	PreValidate func() error `json:"-"`

	// Apply commits the resulting state delta to the challenge store; it runs atomically with
	// receipt acceptance and only after confirmation. It receives the pipeline's detached
	// context so a caller cancellation after submission cannot lose confirmed state.
	Apply func(ctx context.Context, receipt *types.Receipt) error `json:"-"`

	// Metadata is carried verbatim on published lifecycle events
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Stage   string `json:"stage"`
	Attempt int    `json:"attempt"`
}

// NewInvocation initializes a pipeline invocation for the given method
func NewInvocation(method string, value *big.Int, args ...interface{}) *Invocation {
	id, _ := uuid.NewV4()
	return &Invocation{
		ID:     id,
		Method: method,
		Args:   args,
		Value:  value,
	}
}

// Outcome is the structured terminal result of a pipeline invocation
type Outcome struct {
	InvocationID uuid.UUID       `json:"invocation_id"`
	Method       string          `json:"method"`
	Stage        string          `json:"stage"`
	Kind         string          `json:"kind,omitempty"`
	Message      string          `json:"message,omitempty"`
	TxHash       *ethcommon.Hash `json:"tx_hash,omitempty"`
	Receipt      *types.Receipt  `json:"-"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Success is true when the invocation confirmed and its delta was applied
func (o *Outcome) Success() bool {
	return o.Kind == ""
}

// Ledger is the slice of the ledger client the pipeline drives
type Ledger interface {
	Supports(method string) bool
	EstimateGas(ctx context.Context, method string, value *big.Int, args ...interface{}) (uint64, error)
	Send(ctx context.Context, method string, value *big.Int, gasLimit uint64, args ...interface{}) (ethcommon.Hash, error)
	AwaitReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error)
}

// NetworkGuard gates pipeline entry on the required network
type NetworkGuard interface {
	EnsureNetwork(ctx context.Context) error
}

// Pipeline wraps a single ledger write in the network check, prevalidation, gas estimation,
// submission and confirmation stages with consistent failure classification per stage
type Pipeline struct {
	guard  NetworkGuard
	client Ledger

	estimateTimeout  time.Duration
	signatureTimeout time.Duration

	publish func(subject string, payload []byte) error
}

// New returns a pipeline bound to the given network guard and ledger client
func New(guard NetworkGuard, client Ledger) *Pipeline {
	return &Pipeline{
		guard:            guard,
		client:           client,
		estimateTimeout:  defaultEstimateTimeout,
		signatureTimeout: defaultSignatureTimeout,
		publish: func(subject string, payload []byte) error {
			_, err := natsutil.NatsJetstreamPublish(subject, payload)
			return err
		},
	}
}

// SetPublisher overrides the lifecycle event publisher; nil disables publication
func (p *Pipeline) SetPublisher(publish func(subject string, payload []byte) error) {
	p.publish = publish
}

// Execute runs the invocation through all five stages. The caller may abandon the invocation
// via ctx before submission with no side effect; once the submit stage has been entered the
// operation runs to confirmation or timeout, since a signed transaction cannot be recalled.
// Invocations for the same challenge id are not queued here; the store re-validates invariants
// when the delta is applied, so concurrent same-id writers must serialize themselves.
func (p *Pipeline) Execute(ctx context.Context, inv *Invocation) *Outcome {
	if outcome := p.networkCheck(ctx, inv); outcome != nil {
		return p.terminal(outcome)
	}

	if outcome := p.prevalidate(inv); outcome != nil {
		return p.terminal(outcome)
	}

	gasLimit, outcome := p.estimate(ctx, inv)
	if outcome != nil {
		return p.terminal(outcome)
	}

	// past this point the invocation is no longer cancelable
	detached := context.WithoutCancel(ctx)

	hash, outcome := p.submit(detached, inv, gasLimit)
	if outcome != nil {
		return p.terminal(outcome)
	}

	return p.terminal(p.confirm(detached, inv, hash))
}

func (p *Pipeline) networkCheck(ctx context.Context, inv *Invocation) *Outcome {
	inv.Stage = StageNetworkCheck
	err := p.retried(ctx, inv, func() error {
		return p.guard.EnsureNetwork(ctx)
	})
	if err != nil {
		return p.failure(inv, err)
	}
	return nil
}

func (p *Pipeline) prevalidate(inv *Invocation) *Outcome {
	inv.Stage = StagePreValidate

	if !p.client.Supports(inv.Method) {
		return p.failure(inv, ledger.Errorf(ledger.ErrorKindMethodUnavailable, "method %s not present on bound contract", inv.Method))
	}

	if inv.PreValidate != nil {
		if err := inv.PreValidate(); err != nil {
			return p.failure(inv, err)
		}
	}

	return nil
}

func (p *Pipeline) estimate(ctx context.Context, inv *Invocation) (uint64, *Outcome) {
	inv.Stage = StageEstimate

	var gasLimit uint64
	err := p.retried(ctx, inv, func() error {
		estimateCtx, cancel := context.WithTimeout(ctx, p.estimateTimeout)
		defer cancel()

		var err error
		gasLimit, err = p.client.EstimateGas(estimateCtx, inv.Method, inv.Value, inv.Args...)
		return err
	})
	if err != nil {
		return 0, p.failure(inv, err)
	}

	return gasLimit, nil
}

// submit is never auto-retried; a retry here risks double submission
func (p *Pipeline) submit(ctx context.Context, inv *Invocation, gasLimit uint64) (ethcommon.Hash, *Outcome) {
	inv.Stage = StageSubmit
	inv.Attempt++

	// bounded wait since wallets may hang awaiting user action
	submitCtx, cancel := context.WithTimeout(ctx, p.signatureTimeout)
	defer cancel()

	hash, err := p.client.Send(submitCtx, inv.Method, inv.Value, gasLimit, inv.Args...)
	if err != nil {
		return ethcommon.Hash{}, p.failure(inv, err)
	}

	return hash, nil
}

func (p *Pipeline) confirm(ctx context.Context, inv *Invocation, hash ethcommon.Hash) *Outcome {
	inv.Stage = StageConfirm

	receipt, err := p.client.AwaitReceipt(ctx, hash)
	if err != nil {
		outcome := p.failure(inv, err)
		outcome.TxHash = &hash
		return outcome
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		outcome := p.failure(inv, ledger.Errorf(ledger.ErrorKindInternal, "transaction %s reverted on-chain", hash.Hex()))
		outcome.TxHash = &hash
		return outcome
	}

	if inv.Apply != nil {
		if err := inv.Apply(ctx, receipt); err != nil {
			common.Log.Warningf("confirmed %s transaction %s but failed to apply state delta; %s", inv.Method, hash.Hex(), err.Error())
			outcome := p.failure(inv, err)
			outcome.TxHash = &hash
			outcome.Receipt = receipt
			return outcome
		}
	}

	common.Log.Debugf("confirmed %s transaction: %s", inv.Method, hash.Hex())
	return &Outcome{
		InvocationID: inv.ID,
		Method:       inv.Method,
		Stage:        StageConfirm,
		TxHash:       &hash,
		Receipt:      receipt,
		Metadata:     inv.Metadata,
	}
}

// retried reruns fn for transient classifications only, up to the fixed bound
func (p *Pipeline) retried(ctx context.Context, inv *Invocation, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		inv.Attempt++
		err = fn()
		if err == nil {
			return nil
		}
		if !ledger.IsTransient(ledger.Kind(err)) || ctx.Err() != nil {
			return err
		}
		common.Log.Debugf("retrying %s stage for %s after transient failure; %s", inv.Stage, inv.Method, err.Error())
	}
	return err
}

func (p *Pipeline) failure(inv *Invocation, err error) *Outcome {
	var message string
	if err != nil {
		message = err.Error()
	}
	return &Outcome{
		InvocationID: inv.ID,
		Method:       inv.Method,
		Stage:        inv.Stage,
		Kind:         ledger.Kind(err),
		Message:      message,
		Metadata:     inv.Metadata,
	}
}

// terminal publishes the lifecycle event for the outcome and returns it
func (p *Pipeline) terminal(outcome *Outcome) *Outcome {
	if p.publish == nil {
		return outcome
	}

	subject := NatsTxConfirmedSubject
	if !outcome.Success() {
		subject = NatsTxFailedSubject
	}

	payload, _ := json.Marshal(outcome)
	if err := p.publish(subject, payload); err != nil {
		common.Log.Warningf("failed to publish %s lifecycle event; %s", subject, err.Error())
	}

	return outcome
}
