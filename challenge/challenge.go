package challenge

import (
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	api "github.com/provideplatform/provide-go/api"
	"github.com/sakhi11/codestake/common"
)

// Provenance of a challenge held by the store
const SourceLedger = "ledger"
const SourceFallback = "fallback"

const MinParticipants = 2
const MaxParticipants = 5

// Delta kinds applied to a challenge after transaction confirmation
const DeltaJoin = "join"
const DeltaDeposit = "deposit"
const DeltaMilestoneCompleted = "milestone_completed"
const DeltaWithdraw = "withdraw"

// Milestone is a time- and order-gated sub-goal of a challenge whose completion releases a
// reward share
type Milestone struct {
	Index       int                `json:"index"`
	UnlockDate  time.Time          `json:"unlock_date"`
	Reward      *big.Int           `json:"reward"`
	IsCompleted bool               `json:"is_completed"`
	Winner      *ethcommon.Address `json:"winner,omitempty"`
}

// Challenge is a staking pool with participants and milestones. The ledger is the source of
// truth; instances held by the store are a read cache refreshed last-write-wins per id.
type Challenge struct {
	ID           uint64              `json:"id"`
	Creator      ethcommon.Address   `json:"creator"`
	Participants []ethcommon.Address `json:"participants"`
	TotalStake   *big.Int            `json:"total_stake"`
	StakedAmount *big.Int            `json:"staked_amount"`
	Track        string              `json:"track"`
	Milestones   []*Milestone        `json:"milestones"`
	IsActive     bool                `json:"is_active"`
	StartDate    time.Time           `json:"start_date"`
	EndDate      time.Time           `json:"end_date"`

	// Source tags provenance so consumers can distinguish authoritative reads from the
	// deterministic degraded-mode placeholder
	Source string `json:"source"`

	Errors []*api.Error `json:"errors,omitempty"`
}

// Delta is a state change derived from a confirmed ledger transaction
type Delta struct {
	Kind           string             `json:"kind"`
	Participant    *ethcommon.Address `json:"participant,omitempty"`
	Amount         *big.Int           `json:"amount,omitempty"`
	MilestoneIndex int                `json:"milestone_index,omitempty"`
	Winner         *ethcommon.Address `json:"winner,omitempty"`
}

// HasParticipant returns true if the given address is the creator or a participant
func (c *Challenge) HasParticipant(addr ethcommon.Address) bool {
	if c.Creator == addr {
		return true
	}
	for _, participant := range c.Participants {
		if participant == addr {
			return true
		}
	}
	return false
}

// MilestoneUnlocked is derived: the milestone's unlock date has passed and the previous
// milestone, if any, has been completed; milestones unlock strictly in order
func (c *Challenge) MilestoneUnlocked(index int, now time.Time) bool {
	if index < 0 || index >= len(c.Milestones) {
		return false
	}
	if now.Before(c.Milestones[index].UnlockDate) {
		return false
	}
	if index > 0 && !c.Milestones[index-1].IsCompleted {
		return false
	}
	return true
}

// validate the challenge against its structural invariants, accumulating errors
func (c *Challenge) validate() bool {
	c.Errors = make([]*api.Error, 0)

	if len(c.Participants) < MinParticipants || len(c.Participants) > MaxParticipants {
		c.Errors = append(c.Errors, &api.Error{
			Message: common.StringOrNil(fmt.Sprintf("challenge requires %d to %d participants; has %d", MinParticipants, MaxParticipants, len(c.Participants))),
		})
	}

	seen := map[ethcommon.Address]bool{}
	for _, participant := range c.Participants {
		if participant == (ethcommon.Address{}) {
			c.Errors = append(c.Errors, &api.Error{
				Message: common.StringOrNil("challenge participant address empty"),
			})
		}
		if seen[participant] {
			c.Errors = append(c.Errors, &api.Error{
				Message: common.StringOrNil(fmt.Sprintf("challenge participant duplicated: %s", participant.Hex())),
			})
		}
		seen[participant] = true
	}

	if c.TotalStake == nil || c.TotalStake.Sign() < 0 {
		c.Errors = append(c.Errors, &api.Error{
			Message: common.StringOrNil("challenge total stake must be non-negative"),
		})
	}

	if c.TotalStake != nil && c.StakedAmount != nil {
		if c.StakedAmount.Sign() < 0 || c.StakedAmount.Cmp(c.TotalStake) > 0 {
			c.Errors = append(c.Errors, &api.Error{
				Message: common.StringOrNil(fmt.Sprintf("staked amount %s out of bounds; total stake %s", c.StakedAmount, c.TotalStake)),
			})
		}

		rewards := big.NewInt(0)
		for _, milestone := range c.Milestones {
			if milestone.Reward != nil {
				if milestone.Reward.Sign() < 0 {
					c.Errors = append(c.Errors, &api.Error{
						Message: common.StringOrNil(fmt.Sprintf("milestone %d reward negative", milestone.Index)),
					})
				}
				rewards.Add(rewards, milestone.Reward)
			}
		}
		if rewards.Cmp(c.TotalStake) > 0 {
			c.Errors = append(c.Errors, &api.Error{
				Message: common.StringOrNil(fmt.Sprintf("milestone rewards %s exceed total stake %s", rewards, c.TotalStake)),
			})
		}
	}

	if !c.StartDate.Before(c.EndDate) {
		c.Errors = append(c.Errors, &api.Error{
			Message: common.StringOrNil("challenge start date must precede end date"),
		})
	}

	return len(c.Errors) == 0
}

// apply mutates the challenge per the given delta, enforcing the stake bound, participant
// uniqueness, strict milestone ordering and completion monotonicity
func (c *Challenge) apply(delta *Delta, now time.Time) error {
	switch delta.Kind {
	case DeltaJoin:
		if delta.Participant == nil {
			return fmt.Errorf("join delta requires a participant")
		}
		if c.HasParticipant(*delta.Participant) {
			return fmt.Errorf("participant %s already joined challenge %d", delta.Participant.Hex(), c.ID)
		}
		if len(c.Participants) >= MaxParticipants {
			return fmt.Errorf("challenge %d at participant capacity", c.ID)
		}
		if err := c.stake(delta.Amount); err != nil {
			return err
		}
		c.Participants = append(c.Participants, *delta.Participant)
	case DeltaDeposit:
		if err := c.stake(delta.Amount); err != nil {
			return err
		}
	case DeltaMilestoneCompleted:
		if delta.MilestoneIndex < 0 || delta.MilestoneIndex >= len(c.Milestones) {
			return fmt.Errorf("milestone index %d out of range for challenge %d", delta.MilestoneIndex, c.ID)
		}
		milestone := c.Milestones[delta.MilestoneIndex]
		if milestone.IsCompleted {
			// completion is monotonic; a duplicate completion never reverts it
			return fmt.Errorf("milestone %d of challenge %d already completed", delta.MilestoneIndex, c.ID)
		}
		if !c.MilestoneUnlocked(delta.MilestoneIndex, now) {
			return fmt.Errorf("milestone %d of challenge %d not yet unlocked", delta.MilestoneIndex, c.ID)
		}
		milestone.IsCompleted = true
		milestone.Winner = delta.Winner
	case DeltaWithdraw:
		if delta.Amount != nil && c.StakedAmount.Cmp(delta.Amount) < 0 {
			return fmt.Errorf("withdrawal of %s exceeds staked amount %s on challenge %d", delta.Amount, c.StakedAmount, c.ID)
		}
		if delta.Amount != nil {
			c.StakedAmount = new(big.Int).Sub(c.StakedAmount, delta.Amount)
		}
		c.IsActive = false
	default:
		return fmt.Errorf("unknown delta kind: %s", delta.Kind)
	}

	return nil
}

func (c *Challenge) stake(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("stake amount must be positive")
	}

	staked := new(big.Int).Add(common.BigIntOrZero(c.StakedAmount), amount)
	if staked.Cmp(c.TotalStake) > 0 {
		return fmt.Errorf("stake of %s would exceed total stake %s on challenge %d", amount, c.TotalStake, c.ID)
	}

	c.StakedAmount = staked
	return nil
}

// Copy returns a deep copy; store reads hand out snapshots, never shared mutable state
func (c *Challenge) Copy() *Challenge {
	dup := *c
	dup.Participants = append([]ethcommon.Address{}, c.Participants...)
	dup.TotalStake = new(big.Int).Set(common.BigIntOrZero(c.TotalStake))
	dup.StakedAmount = new(big.Int).Set(common.BigIntOrZero(c.StakedAmount))
	dup.Milestones = make([]*Milestone, len(c.Milestones))
	for i, milestone := range c.Milestones {
		m := *milestone
		m.Reward = new(big.Int).Set(common.BigIntOrZero(milestone.Reward))
		if milestone.Winner != nil {
			winner := *milestone.Winner
			m.Winner = &winner
		}
		dup.Milestones[i] = &m
	}
	dup.Errors = nil
	return &dup
}
