package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sakhi11/codestake/common"
)

// Method names consumed on the staking contract
const MethodCreateChallenge = "createChallenge"
const MethodJoinChallenge = "joinChallenge"
const MethodCompleteMilestone = "completeMilestone"
const MethodDeposit = "deposit"
const MethodWithdraw = "withdraw"

const MethodChallenges = "challenges"
const MethodChallengeCounter = "challengeCounter"
const MethodGetActiveChallenges = "getActiveChallenges"
const MethodGetWalletSummary = "getWalletSummary"
const MethodGetChallengeDetails = "getChallengeDetails"
const MethodHasJoined = "hasJoined"

// Events emitted by the staking contract
const EventChallengeCreated = "ChallengeCreated"

const stakingABIJSON = `[
	{"type":"function","name":"createChallenge","stateMutability":"payable","inputs":[{"name":"totalStake","type":"uint256"},{"name":"participants","type":"address[]"},{"name":"milestoneTimestamps","type":"uint256[]"}],"outputs":[{"name":"challengeId","type":"uint256"}]},
	{"type":"function","name":"joinChallenge","stateMutability":"payable","inputs":[{"name":"challengeId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"completeMilestone","stateMutability":"nonpayable","inputs":[{"name":"challengeId","type":"uint256"},{"name":"milestoneIndex","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"challenges","stateMutability":"view","inputs":[{"name":"challengeId","type":"uint256"}],"outputs":[{"name":"id","type":"uint256"},{"name":"creator","type":"address"},{"name":"totalStake","type":"uint256"},{"name":"stakedAmount","type":"uint256"},{"name":"isActive","type":"bool"},{"name":"startDate","type":"uint256"},{"name":"endDate","type":"uint256"}]},
	{"type":"function","name":"challengeCounter","stateMutability":"view","inputs":[],"outputs":[{"name":"count","type":"uint256"}]},
	{"type":"function","name":"getActiveChallenges","stateMutability":"view","inputs":[],"outputs":[{"name":"challengeIds","type":"uint256[]"}]},
	{"type":"function","name":"getWalletSummary","stateMutability":"view","inputs":[{"name":"wallet","type":"address"}],"outputs":[{"name":"totalStaked","type":"uint256"},{"name":"ongoingChallenges","type":"uint256"},{"name":"totalWinnings","type":"uint256"},{"name":"milestonesCompleted","type":"uint256"}]},
	{"type":"function","name":"getChallengeDetails","stateMutability":"view","inputs":[{"name":"challengeId","type":"uint256"}],"outputs":[{"name":"participants","type":"address[]"},{"name":"track","type":"string"},{"name":"milestoneTimestamps","type":"uint256[]"},{"name":"milestoneRewards","type":"uint256[]"},{"name":"milestoneCompleted","type":"bool[]"},{"name":"milestoneWinners","type":"address[]"}]},
	{"type":"function","name":"hasJoined","stateMutability":"view","inputs":[{"name":"challengeId","type":"uint256"},{"name":"wallet","type":"address"}],"outputs":[{"name":"joined","type":"bool"}]},
	{"type":"event","name":"ChallengeCreated","inputs":[{"name":"challengeId","type":"uint256","indexed":false},{"name":"creator","type":"address","indexed":true}]}
]`

// StakingABI parses the staking contract capability descriptor
func StakingABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(stakingABIJSON))
}

// MustStakingABI parses the staking contract ABI or panics; intended for boot-time binding
func MustStakingABI() abi.ABI {
	parsed, err := StakingABI()
	if err != nil {
		common.Log.Panicf("failed to parse staking contract ABI; %s", err.Error())
	}
	return parsed
}
