package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	redisutil "github.com/kthomas/go-redisutil"
	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/ledger"
)

const summaryCacheTTL = time.Second * 30

// WalletSummary is a derived, non-owned view aggregated over every cached challenge where the
// queried address is creator or participant
type WalletSummary struct {
	Address             ethcommon.Address `json:"address"`
	TotalStaked         *big.Int          `json:"total_staked"`
	OngoingChallenges   int               `json:"ongoing_challenges"`
	TotalWinnings       *big.Int          `json:"total_winnings"`
	MilestonesCompleted int               `json:"milestones_completed"`
}

// Summarize resolves the wallet summary for the given address, consulting the redis read
// cache when configured; the cache is never authoritative. The ledger view is preferred;
// when it degrades the summary is aggregated over the cached challenges instead.
func (s *Store) Summarize(ctx context.Context, addr ethcommon.Address) *WalletSummary {
	key := summaryCacheKey(addr)

	if common.RedisEnabled {
		if cached, err := redisutil.Get(key); err == nil && cached != nil {
			summary := &WalletSummary{}
			if err := json.Unmarshal([]byte(*cached), summary); err == nil {
				return summary
			}
			common.Log.Warningf("failed to unmarshal cached wallet summary for %s; recomputing", addr.Hex())
		}
	}

	summary, err := s.fetchSummary(ctx, addr)
	if err != nil {
		common.Log.Warningf("degraded wallet summary read for %s; aggregating cached challenges; %s", addr.Hex(), err.Error())
		summary = s.computeSummary(addr)
	}

	if common.RedisEnabled {
		raw, _ := json.Marshal(summary)
		ttl := summaryCacheTTL
		if err := redisutil.Set(key, string(raw), &ttl); err != nil {
			common.Log.Warningf("failed to cache wallet summary for %s; %s", addr.Hex(), err.Error())
		}
	}

	return summary
}

// InvalidateSummary drops the cached summary for the given address, e.g. on identity change
func (s *Store) InvalidateSummary(addr ethcommon.Address) {
	if !common.RedisEnabled {
		return
	}

	ttl := time.Millisecond
	if err := redisutil.Set(summaryCacheKey(addr), "", &ttl); err != nil {
		common.Log.Warningf("failed to invalidate wallet summary for %s; %s", addr.Hex(), err.Error())
	}
}

func (s *Store) fetchSummary(ctx context.Context, addr ethcommon.Address) (*WalletSummary, error) {
	values, err := s.reader.Call(ctx, ledger.MethodGetWalletSummary, addr)
	if err != nil {
		return nil, err
	}
	if len(values) < 4 {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "undersized getWalletSummary return; got %d of 4 values", len(values))
	}

	totalStaked, ok := values[0].(*big.Int)
	if !ok {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected getWalletSummary totalStaked shape for %s", addr.Hex())
	}
	ongoing, ok := values[1].(*big.Int)
	if !ok {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected getWalletSummary ongoingChallenges shape for %s", addr.Hex())
	}
	winnings, ok := values[2].(*big.Int)
	if !ok {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected getWalletSummary totalWinnings shape for %s", addr.Hex())
	}
	completed, ok := values[3].(*big.Int)
	if !ok {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected getWalletSummary milestonesCompleted shape for %s", addr.Hex())
	}

	return &WalletSummary{
		Address:             addr,
		TotalStaked:         totalStaked,
		OngoingChallenges:   int(ongoing.Int64()),
		TotalWinnings:       winnings,
		MilestonesCompleted: int(completed.Int64()),
	}, nil
}

func (s *Store) computeSummary(addr ethcommon.Address) *WalletSummary {
	summary := &WalletSummary{
		Address:       addr,
		TotalStaked:   big.NewInt(0),
		TotalWinnings: big.NewInt(0),
	}

	for _, c := range s.Cached() {
		if !c.HasParticipant(addr) {
			continue
		}

		summary.TotalStaked.Add(summary.TotalStaked, common.BigIntOrZero(c.StakedAmount))
		if c.IsActive {
			summary.OngoingChallenges++
		}

		for _, milestone := range c.Milestones {
			if !milestone.IsCompleted {
				continue
			}
			if milestone.Winner != nil && *milestone.Winner == addr {
				summary.MilestonesCompleted++
				summary.TotalWinnings.Add(summary.TotalWinnings, common.BigIntOrZero(milestone.Reward))
			}
		}
	}

	return summary
}

func summaryCacheKey(addr ethcommon.Address) string {
	return fmt.Sprintf("codestake.summary.%s", addr.Hex())
}
