package challenge

import (
	"encoding/json"
	"math/big"
	"strconv"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	provide "github.com/provideplatform/provide-go/common"
	"github.com/sakhi11/codestake/pipeline"
	"github.com/sakhi11/codestake/quiz"
)

// InstallAPI registers the challenge API handlers with gin
func InstallAPI(r *gin.Engine, service *Service, store *Store) {
	r.GET("/api/v1/challenges", listChallengesHandler(store))
	r.POST("/api/v1/challenges", createChallengeHandler(service))
	r.GET("/api/v1/challenges/:id", challengeDetailsHandler(store))
	r.POST("/api/v1/challenges/:id/join", joinChallengeHandler(service))
	r.POST("/api/v1/challenges/:id/milestones/:index/complete", completeMilestoneHandler(service))
	r.GET("/api/v1/wallets/:address/summary", walletSummaryHandler(store))
}

type createChallengeRequest struct {
	TotalStake   string   `json:"total_stake"`
	Participants []string `json:"participants"`
	UnlockDates  []int64  `json:"unlock_dates"`
	Track        string   `json:"track"`
}

type joinChallengeRequest struct {
	Stake string `json:"stake"`
}

type completeMilestoneRequest struct {
	Submission *quiz.Submission `json:"submission"`
	Rubric     *quiz.Rubric     `json:"rubric"`
}

func listChallengesHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := store.FetchActiveIDs(c.Request.Context())
		if err != nil {
			provide.RenderError(err.Error(), 502, c)
			return
		}

		challenges := make([]*Challenge, 0, len(ids))
		for _, id := range ids {
			challenge, err := store.Fetch(c.Request.Context(), id)
			if err != nil {
				provide.RenderError(err.Error(), 502, c)
				return
			}
			challenges = append(challenges, challenge)
		}

		provide.Render(challenges, 200, c)
	}
}

func createChallengeHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		buf, err := c.GetRawData()
		if err != nil {
			provide.RenderError(err.Error(), 400, c)
			return
		}

		req := &createChallengeRequest{}
		if err = json.Unmarshal(buf, req); err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		totalStake, ok := new(big.Int).SetString(req.TotalStake, 10)
		if !ok {
			provide.RenderError("total_stake must be a base-10 integer amount", 422, c)
			return
		}

		participants := make([]ethcommon.Address, len(req.Participants))
		for i, participant := range req.Participants {
			if !ethcommon.IsHexAddress(participant) {
				provide.RenderError("invalid participant address", 422, c)
				return
			}
			participants[i] = ethcommon.HexToAddress(participant)
		}

		unlockDates := make([]time.Time, len(req.UnlockDates))
		for i, unix := range req.UnlockDates {
			unlockDates[i] = time.Unix(unix, 0).UTC()
		}

		renderOutcome(service.CreateChallenge(c.Request.Context(), totalStake, participants, unlockDates, req.Track), 201, c)
	}
}

func challengeDetailsHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			provide.RenderError("invalid challenge id", 400, c)
			return
		}

		challenge, err := store.Fetch(c.Request.Context(), id)
		if err != nil {
			provide.RenderError(err.Error(), 502, c)
			return
		}

		provide.Render(challenge, 200, c)
	}
}

func joinChallengeHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			provide.RenderError("invalid challenge id", 400, c)
			return
		}

		req := &joinChallengeRequest{}
		if err = c.BindJSON(req); err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}

		stake, ok := new(big.Int).SetString(req.Stake, 10)
		if !ok {
			provide.RenderError("stake must be a base-10 integer amount", 422, c)
			return
		}

		renderOutcome(service.JoinChallenge(c.Request.Context(), id, stake), 200, c)
	}
}

func completeMilestoneHandler(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			provide.RenderError("invalid challenge id", 400, c)
			return
		}

		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			provide.RenderError("invalid milestone index", 400, c)
			return
		}

		req := &completeMilestoneRequest{}
		if err = c.BindJSON(req); err != nil {
			provide.RenderError(err.Error(), 422, c)
			return
		}
		if req.Submission == nil || req.Rubric == nil {
			provide.RenderError("submission and rubric required", 422, c)
			return
		}

		renderOutcome(service.CompleteMilestone(c.Request.Context(), id, index, req.Submission, req.Rubric), 200, c)
	}
}

func walletSummaryHandler(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if !ethcommon.IsHexAddress(addr) {
			provide.RenderError("invalid wallet address", 400, c)
			return
		}

		provide.Render(store.Summarize(c, ethcommon.HexToAddress(addr)), 200, c)
	}
}

func renderOutcome(outcome *pipeline.Outcome, successStatus int, c *gin.Context) {
	if outcome.Success() {
		provide.Render(outcome, successStatus, c)
		return
	}
	provide.Render(outcome, 422, c)
}
