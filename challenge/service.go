package challenge

import (
	"context"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/ledger"
	"github.com/sakhi11/codestake/pipeline"
	"github.com/sakhi11/codestake/quiz"
	"github.com/sakhi11/codestake/wallet"
)

// Service drives the staking and milestone lifecycle: it assembles pipeline invocations for
// each state-changing ledger operation and applies the resulting deltas to the store on
// confirmation. UI-facing consumers read only from the store and the quiz evaluator.
type Service struct {
	store    *Store
	pipeline *pipeline.Pipeline
	reader   Reader
	session  *wallet.Session
}

// NewService wires the lifecycle service
func NewService(store *Store, pipe *pipeline.Pipeline, reader Reader, session *wallet.Session) *Service {
	return &Service{
		store:    store,
		pipeline: pipe,
		reader:   reader,
		session:  session,
	}
}

// CreateChallenge stakes a new challenge with the given participants and milestone unlock
// schedule; rewards are split evenly across milestones
func (s *Service) CreateChallenge(ctx context.Context, totalStake *big.Int, participants []ethcommon.Address, unlockDates []time.Time, track string) *pipeline.Outcome {
	identity := s.session.CurrentIdentity()

	timestamps := make([]*big.Int, len(unlockDates))
	for i, unlock := range unlockDates {
		timestamps[i] = big.NewInt(unlock.Unix())
	}

	inv := pipeline.NewInvocation(ledger.MethodCreateChallenge, nil, totalStake, participants, timestamps)
	inv.PreValidate = func() error {
		if identity == nil {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "no connected wallet session")
		}
		if totalStake == nil || totalStake.Sign() <= 0 {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "total stake must be positive")
		}
		if len(participants) < MinParticipants || len(participants) > MaxParticipants {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "challenge requires %d to %d participants; got %d", MinParticipants, MaxParticipants, len(participants))
		}
		seen := map[ethcommon.Address]bool{}
		for _, participant := range participants {
			if participant == (ethcommon.Address{}) {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "participant address empty")
			}
			if seen[participant] {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "participant duplicated: %s", participant.Hex())
			}
			seen[participant] = true
		}
		if len(unlockDates) == 0 {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "at least one milestone unlock date required")
		}
		for i := 1; i < len(unlockDates); i++ {
			if !unlockDates[i-1].Before(unlockDates[i]) {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "milestone unlock dates must be strictly increasing")
			}
		}
		return nil
	}
	inv.Apply = func(ctx context.Context, receipt *types.Receipt) error {
		id, err := s.createdChallengeID(ctx, receipt)
		if err != nil {
			return err
		}

		reward := new(big.Int).Div(totalStake, big.NewInt(int64(len(unlockDates))))
		milestones := make([]*Milestone, len(unlockDates))
		for i, unlock := range unlockDates {
			milestones[i] = &Milestone{
				Index:      i,
				UnlockDate: unlock,
				Reward:     new(big.Int).Set(reward),
			}
		}

		c := &Challenge{
			ID:           id,
			Creator:      identity.Address,
			Participants: participants,
			TotalStake:   new(big.Int).Set(totalStake),
			StakedAmount: big.NewInt(0),
			Track:        track,
			Milestones:   milestones,
			IsActive:     true,
			StartDate:    time.Now().UTC(),
			EndDate:      unlockDates[len(unlockDates)-1],
			Source:       SourceLedger,
		}

		inv.Metadata = map[string]interface{}{"challenge_id": id}
		return s.store.Put(c)
	}

	return s.pipeline.Execute(ctx, inv)
}

// JoinChallenge stakes the given amount into an existing challenge as the connected identity
func (s *Service) JoinChallenge(ctx context.Context, id uint64, stake *big.Int) *pipeline.Outcome {
	identity := s.session.CurrentIdentity()

	inv := pipeline.NewInvocation(ledger.MethodJoinChallenge, stake, new(big.Int).SetUint64(id))
	inv.Metadata = map[string]interface{}{"challenge_id": id}
	inv.PreValidate = func() error {
		if identity == nil {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "no connected wallet session")
		}
		if stake == nil || stake.Sign() <= 0 {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "stake must be positive")
		}

		// cheap local checks against the cached view; the ledger remains authoritative
		if cached := s.store.Get(id); cached != nil && cached.Source == SourceLedger {
			if !cached.IsActive {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "challenge %d is no longer active", id)
			}
			if cached.HasParticipant(identity.Address) {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "already joined challenge %d", id)
			}
			if len(cached.Participants) >= MaxParticipants {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "challenge %d at participant capacity", id)
			}
		}
		return nil
	}
	inv.Apply = func(ctx context.Context, receipt *types.Receipt) error {
		return s.store.ApplyDelta(id, &Delta{
			Kind:        DeltaJoin,
			Participant: &identity.Address,
			Amount:      stake,
		})
	}

	return s.pipeline.Execute(ctx, inv)
}

// CompleteMilestone submits a milestone completion for the connected identity, gated on the
// quiz evaluator passing the submission
func (s *Service) CompleteMilestone(ctx context.Context, id uint64, index int, submission *quiz.Submission, rubric *quiz.Rubric) *pipeline.Outcome {
	identity := s.session.CurrentIdentity()

	inv := pipeline.NewInvocation(ledger.MethodCompleteMilestone, nil, new(big.Int).SetUint64(id), big.NewInt(int64(index)))
	inv.Metadata = map[string]interface{}{"challenge_id": id, "milestone_index": index}
	inv.PreValidate = func() error {
		if identity == nil {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "no connected wallet session")
		}

		result := quiz.Evaluate(submission, rubric)
		if !result.Passed {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "quiz not passed; scored %d%%", result.Score)
		}

		if cached := s.store.Get(id); cached != nil && cached.Source == SourceLedger {
			if index < 0 || index >= len(cached.Milestones) {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "milestone index %d out of range for challenge %d", index, id)
			}
			if cached.Milestones[index].IsCompleted {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "milestone %d of challenge %d already completed", index, id)
			}
			if !cached.MilestoneUnlocked(index, time.Now()) {
				return ledger.Errorf(ledger.ErrorKindInvalidArguments, "milestone %d of challenge %d not yet unlocked", index, id)
			}
		}
		return nil
	}
	inv.Apply = func(ctx context.Context, receipt *types.Receipt) error {
		return s.store.ApplyDelta(id, &Delta{
			Kind:           DeltaMilestoneCompleted,
			MilestoneIndex: index,
			Winner:         &identity.Address,
		})
	}

	return s.pipeline.Execute(ctx, inv)
}

// Deposit stakes an additional amount toward the given challenge
func (s *Service) Deposit(ctx context.Context, id uint64, amount *big.Int) *pipeline.Outcome {
	inv := pipeline.NewInvocation(ledger.MethodDeposit, amount)
	inv.Metadata = map[string]interface{}{"challenge_id": id}
	inv.PreValidate = func() error {
		if s.session.CurrentIdentity() == nil {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "no connected wallet session")
		}
		if amount == nil || amount.Sign() <= 0 {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "deposit amount must be positive")
		}
		return nil
	}
	inv.Apply = func(ctx context.Context, receipt *types.Receipt) error {
		return s.store.ApplyDelta(id, &Delta{
			Kind:   DeltaDeposit,
			Amount: amount,
		})
	}

	return s.pipeline.Execute(ctx, inv)
}

// Withdraw pulls the given amount back out, resolving the challenge
func (s *Service) Withdraw(ctx context.Context, id uint64, amount *big.Int) *pipeline.Outcome {
	inv := pipeline.NewInvocation(ledger.MethodWithdraw, nil, amount)
	inv.Metadata = map[string]interface{}{"challenge_id": id}
	inv.PreValidate = func() error {
		if s.session.CurrentIdentity() == nil {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "no connected wallet session")
		}
		if amount == nil || amount.Sign() <= 0 {
			return ledger.Errorf(ledger.ErrorKindInvalidArguments, "withdrawal amount must be positive")
		}
		return nil
	}
	inv.Apply = func(ctx context.Context, receipt *types.Receipt) error {
		return s.store.ApplyDelta(id, &Delta{
			Kind:   DeltaWithdraw,
			Amount: amount,
		})
	}

	return s.pipeline.Execute(ctx, inv)
}

// HasJoined checks participation on the ledger
func (s *Service) HasJoined(ctx context.Context, id uint64, addr ethcommon.Address) (bool, error) {
	values, err := s.reader.Call(ctx, ledger.MethodHasJoined, new(big.Int).SetUint64(id), addr)
	if err != nil {
		return false, err
	}
	if len(values) < 1 {
		return false, ledger.Errorf(ledger.ErrorKindMalformedResponse, "undersized hasJoined return")
	}

	joined, ok := values[0].(bool)
	if !ok {
		return false, ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected hasJoined return shape")
	}
	return joined, nil
}

// createdChallengeID resolves the id the ledger assigned to the challenge created by the
// given confirmed receipt, preferring the creation event in the receipt logs
func (s *Service) createdChallengeID(ctx context.Context, receipt *types.Receipt) (uint64, error) {
	if id, ok := createdIDFromLogs(receipt); ok {
		return id, nil
	}
	return s.assignedChallengeID(ctx)
}

func createdIDFromLogs(receipt *types.Receipt) (uint64, bool) {
	contractABI := ledger.MustStakingABI()
	event, ok := contractABI.Events[ledger.EventChallengeCreated]
	if !ok {
		return 0, false
	}

	for _, record := range receipt.Logs {
		if len(record.Topics) == 0 || record.Topics[0] != event.ID {
			continue
		}

		values, err := contractABI.Unpack(ledger.EventChallengeCreated, record.Data)
		if err != nil {
			common.Log.Warningf("failed to unpack %s log; %s", ledger.EventChallengeCreated, err.Error())
			continue
		}
		if len(values) < 1 {
			continue
		}

		if id, idOk := values[0].(*big.Int); idOk {
			return id.Uint64(), true
		}
	}

	return 0, false
}

// assignedChallengeID reads the counter-based id, for receipts whose logs carry no creation
// event. The counter holds the next unassigned id, so the read misattributes the id if another
// creation confirms between this receipt and the read; the event path above is authoritative
// whenever the contract emits it.
func (s *Service) assignedChallengeID(ctx context.Context) (uint64, error) {
	values, err := s.reader.Call(ctx, ledger.MethodChallengeCounter)
	if err != nil {
		return 0, err
	}
	if len(values) < 1 {
		return 0, ledger.Errorf(ledger.ErrorKindMalformedResponse, "undersized challengeCounter return")
	}

	counter, ok := values[0].(*big.Int)
	if !ok {
		return 0, ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected challengeCounter return shape")
	}
	if counter.Sign() == 0 {
		return 0, fmt.Errorf("challenge counter empty after confirmed creation")
	}

	id := new(big.Int).Sub(counter, big.NewInt(1)).Uint64()
	common.Log.Debugf("resolved ledger-assigned challenge id: %d", id)
	return id, nil
}
