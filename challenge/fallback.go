package challenge

import (
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// fallbackEpoch anchors synthetic schedules so repeated fallback reads for an id are
// byte-for-byte identical
var fallbackEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

var fallbackTracks = []string{"solidity", "rust", "zk", "frontend"}

const fallbackMilestoneCount = 4

// SyntheticChallenge derives a deterministic placeholder challenge from the id alone, never
// randomly. It is served when the ledger is unreachable or returns a shape the store cannot
// parse, and is always tagged Source: "fallback" so callers can assert on provenance.
func SyntheticChallenge(id uint64) *Challenge {
	creator := ethcommon.BigToAddress(new(big.Int).SetUint64(id*10 + 1))
	participants := []ethcommon.Address{
		creator,
		ethcommon.BigToAddress(new(big.Int).SetUint64(id*10 + 2)),
	}

	// (1 + id mod 5) * 0.5 in native units
	halfUnit := new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil)
	halfUnit.Mul(halfUnit, big.NewInt(5))
	totalStake := new(big.Int).Mul(halfUnit, big.NewInt(int64(1+id%5)))

	start := fallbackEpoch.Add(time.Duration(id) * 24 * time.Hour)
	milestones := make([]*Milestone, fallbackMilestoneCount)
	reward := new(big.Int).Div(totalStake, big.NewInt(fallbackMilestoneCount))
	for i := range milestones {
		milestones[i] = &Milestone{
			Index:      i,
			UnlockDate: start.Add(time.Duration(i+1) * 7 * 24 * time.Hour),
			Reward:     new(big.Int).Set(reward),
		}
	}

	return &Challenge{
		ID:           id,
		Creator:      creator,
		Participants: participants,
		TotalStake:   totalStake,
		StakedAmount: big.NewInt(0),
		Track:        fallbackTracks[id%uint64(len(fallbackTracks))],
		Milestones:   milestones,
		IsActive:     true,
		StartDate:    start,
		EndDate:      start.Add(fallbackMilestoneCount * 7 * 24 * time.Hour),
		Source:       SourceFallback,
	}
}
