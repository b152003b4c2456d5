package challenge

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/sakhi11/codestake/common"
	"github.com/sakhi11/codestake/ledger"
)

// Reader is the slice of the ledger client the store reconciles against
type Reader interface {
	Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error)
}

// Store is the in-memory, process-lifetime cache of challenge aggregates. It is the single
// owner of mutable challenge state: writes to a given id are serialized here, reads are
// snapshot copies. No eviction; staleness is resolved by explicit re-fetch.
type Store struct {
	reader Reader

	mutex      sync.RWMutex
	challenges map[uint64]*Challenge
	inflight   map[uint64]*pendingFetch

	changeObservers []func(uint64)
}

type pendingFetch struct {
	done      chan struct{}
	challenge *Challenge
}

// NewStore returns an empty store reconciling against the given ledger reader
func NewStore(reader Reader) *Store {
	return &Store{
		reader:     reader,
		challenges: map[uint64]*Challenge{},
		inflight:   map[uint64]*pendingFetch{},
	}
}

// OnChange registers an observer invoked with the challenge id after every cache mutation
func (s *Store) OnChange(observer func(uint64)) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.changeObservers = append(s.changeObservers, observer)
}

// Get returns a snapshot of the cached challenge without touching the ledger, or nil when the
// id has not been fetched or created in this session
func (s *Store) Get(id uint64) *Challenge {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if c, ok := s.challenges[id]; ok {
		return c.Copy()
	}
	return nil
}

// Fetch refreshes the cache for the given id from the ledger. Concurrent fetches for the same
// id are coalesced into a single ledger read. On any read failure the store falls back to a
// deterministic synthetic challenge tagged Source: "fallback", keeping consumers usable when
// the ledger is unreachable with provenance always visible to the caller.
func (s *Store) Fetch(ctx context.Context, id uint64) (*Challenge, error) {
	s.mutex.Lock()
	if pending, ok := s.inflight[id]; ok {
		s.mutex.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-pending.done:
			return pending.challenge.Copy(), nil
		}
	}

	pending := &pendingFetch{done: make(chan struct{})}
	s.inflight[id] = pending
	s.mutex.Unlock()

	c, err := s.fetchFromLedger(ctx, id)
	if err != nil {
		common.Log.Warningf("failed to fetch challenge %d from ledger; serving fallback; %s", id, err.Error())
		c = SyntheticChallenge(id)
	}

	s.mutex.Lock()
	s.challenges[id] = c
	pending.challenge = c
	delete(s.inflight, id)
	observers := append([]func(uint64){}, s.changeObservers...)
	s.mutex.Unlock()

	close(pending.done)

	for _, observer := range observers {
		observer(id)
	}

	return c.Copy(), nil
}

// FetchActiveIDs reads the set of active challenge ids from the ledger
func (s *Store) FetchActiveIDs(ctx context.Context) ([]uint64, error) {
	values, err := s.reader.Call(ctx, ledger.MethodGetActiveChallenges)
	if err != nil {
		return nil, err
	}
	if len(values) < 1 {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "undersized getActiveChallenges return; got %d values", len(values))
	}

	raw, ok := values[0].([]*big.Int)
	if !ok {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected getActiveChallenges return shape")
	}

	ids := make([]uint64, len(raw))
	for i, id := range raw {
		ids[i] = id.Uint64()
	}
	return ids, nil
}

// Put inserts a challenge created in this session, post-confirmation
func (s *Store) Put(c *Challenge) error {
	if !c.validate() {
		return fmt.Errorf("refused to cache invalid challenge %d; %d validation error(s)", c.ID, len(c.Errors))
	}

	s.mutex.Lock()
	s.challenges[c.ID] = c.Copy()
	observers := append([]func(uint64){}, s.changeObservers...)
	s.mutex.Unlock()

	for _, observer := range observers {
		observer(c.ID)
	}
	return nil
}

// ApplyDelta commits a confirmed state change to the cached challenge. Used only by the
// transaction pipeline after receipt acceptance; application is serialized per id and
// re-validates the challenge invariants.
func (s *Store) ApplyDelta(id uint64, delta *Delta) error {
	s.mutex.Lock()

	c, ok := s.challenges[id]
	if !ok {
		s.mutex.Unlock()
		return fmt.Errorf("no cached challenge with id %d; fetch it before applying deltas", id)
	}

	next := c.Copy()
	if err := next.apply(delta, time.Now()); err != nil {
		s.mutex.Unlock()
		return err
	}
	if !next.validate() {
		s.mutex.Unlock()
		return fmt.Errorf("%s delta violates challenge %d invariants", delta.Kind, id)
	}

	s.challenges[id] = next
	observers := append([]func(uint64){}, s.changeObservers...)
	s.mutex.Unlock()

	common.Log.Debugf("applied %s delta to challenge %d", delta.Kind, id)

	for _, observer := range observers {
		observer(id)
	}
	return nil
}

// Cached returns snapshots of every challenge fetched or created in this session
func (s *Store) Cached() []*Challenge {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	challenges := make([]*Challenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		challenges = append(challenges, c.Copy())
	}
	return challenges
}

func (s *Store) fetchFromLedger(ctx context.Context, id uint64) (*Challenge, error) {
	values, err := s.reader.Call(ctx, ledger.MethodChallenges, new(big.Int).SetUint64(id))
	if err != nil {
		return nil, err
	}
	if len(values) < 7 {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "undersized challenges return; got %d of 7 values", len(values))
	}

	c := &Challenge{ID: id, Source: SourceLedger}

	var ok bool
	var rawID, totalStake, stakedAmount, startDate, endDate *big.Int
	if rawID, ok = values[0].(*big.Int); !ok {
		return nil, malformedField(id, "id")
	}
	if c.Creator, ok = values[1].(ethcommon.Address); !ok {
		return nil, malformedField(id, "creator")
	}
	if totalStake, ok = values[2].(*big.Int); !ok {
		return nil, malformedField(id, "totalStake")
	}
	if stakedAmount, ok = values[3].(*big.Int); !ok {
		return nil, malformedField(id, "stakedAmount")
	}
	if c.IsActive, ok = values[4].(bool); !ok {
		return nil, malformedField(id, "isActive")
	}
	if startDate, ok = values[5].(*big.Int); !ok {
		return nil, malformedField(id, "startDate")
	}
	if endDate, ok = values[6].(*big.Int); !ok {
		return nil, malformedField(id, "endDate")
	}

	if rawID.Uint64() != id {
		return nil, ledger.Errorf(ledger.ErrorKindMalformedResponse, "ledger returned challenge %d for requested id %d", rawID.Uint64(), id)
	}

	c.TotalStake = totalStake
	c.StakedAmount = stakedAmount
	c.StartDate = time.Unix(startDate.Int64(), 0).UTC()
	c.EndDate = time.Unix(endDate.Int64(), 0).UTC()

	if err := s.fetchDetails(ctx, c); err != nil {
		return nil, err
	}

	return c, nil
}

func (s *Store) fetchDetails(ctx context.Context, c *Challenge) error {
	values, err := s.reader.Call(ctx, ledger.MethodGetChallengeDetails, new(big.Int).SetUint64(c.ID))
	if err != nil {
		return err
	}
	if len(values) < 6 {
		return ledger.Errorf(ledger.ErrorKindMalformedResponse, "undersized getChallengeDetails return; got %d of 6 values", len(values))
	}

	participants, ok := values[0].([]ethcommon.Address)
	if !ok {
		return malformedField(c.ID, "participants")
	}
	track, ok := values[1].(string)
	if !ok {
		return malformedField(c.ID, "track")
	}
	timestamps, ok := values[2].([]*big.Int)
	if !ok {
		return malformedField(c.ID, "milestoneTimestamps")
	}
	rewards, ok := values[3].([]*big.Int)
	if !ok {
		return malformedField(c.ID, "milestoneRewards")
	}
	completed, ok := values[4].([]bool)
	if !ok {
		return malformedField(c.ID, "milestoneCompleted")
	}
	winners, ok := values[5].([]ethcommon.Address)
	if !ok {
		return malformedField(c.ID, "milestoneWinners")
	}

	if len(rewards) != len(timestamps) || len(completed) != len(timestamps) || len(winners) != len(timestamps) {
		return ledger.Errorf(ledger.ErrorKindMalformedResponse, "ragged milestone arrays for challenge %d", c.ID)
	}

	c.Participants = participants
	c.Track = track
	c.Milestones = make([]*Milestone, len(timestamps))
	for i := range timestamps {
		milestone := &Milestone{
			Index:       i,
			UnlockDate:  time.Unix(timestamps[i].Int64(), 0).UTC(),
			Reward:      rewards[i],
			IsCompleted: completed[i],
		}
		if winners[i] != (ethcommon.Address{}) {
			winner := winners[i]
			milestone.Winner = &winner
		}
		c.Milestones[i] = milestone
	}

	return nil
}

func malformedField(id uint64, field string) *ledger.Error {
	return ledger.Errorf(ledger.ErrorKindMalformedResponse, "unexpected %s shape in challenge %d read", field, id)
}
