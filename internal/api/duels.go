package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/duel"
)

type CreateDuelRequest struct {
	ChallengerID string `json:"challenger_id"`
	ChallengedID string `json:"challenged_id"`
}

func (a *API) CreateDuel(c *gin.Context) {
	var req CreateDuelRequest
	if !bind(c, &req) {
		return
	}

	d, err := a.ds.CreateChallenge(c.Request.Context(), duel.CreateChallengeRequest{
		ChallengerID: req.ChallengerID,
		ChallengedID: req.ChallengedID,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newDuel(*d))
}

func (a *API) GetDuel(c *gin.Context) {
	d, err := a.ds.GetDuel(c.Request.Context(), c.Param("id"))
	a.respondDuel(c, d, err)
}

func (a *API) AcceptDuel(c *gin.Context) {
	d, err := a.ds.AcceptChallenge(c.Request.Context(), c.Param("id"))
	a.respondDuel(c, d, err)
}

func (a *API) DeclineDuel(c *gin.Context) {
	d, err := a.ds.DeclineChallenge(c.Request.Context(), c.Param("id"))
	a.respondDuel(c, d, err)
}

type SubmitScoreRequest struct {
	PlayerID string `json:"player_id"`
	Score    *int64 `json:"score" binding:"required"`
}

func (a *API) SubmitScore(c *gin.Context) {
	var req SubmitScoreRequest
	if !bind(c, &req) {
		return
	}

	d, err := a.ds.SubmitScore(c.Request.Context(), duel.SubmitScoreRequest{
		DuelID:   c.Param("id"),
		PlayerID: req.PlayerID,
		Score:    *req.Score,
	})
	a.respondDuel(c, d, err)
}

func (a *API) respondDuel(c *gin.Context, d *domain.Duel, err error) {
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newDuel(*d))
}

func (a *API) ListPlayerDuels(c *gin.Context) {
	pd, err := a.ds.ListPlayerDuels(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newPlayerDuels(pd))
}
