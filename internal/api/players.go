package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/leaderboard"
	"github.com/victornm/duelhub/internal/notification"
	"github.com/victornm/duelhub/internal/score"
)

func (a *API) ListPlayers(c *gin.Context) {
	players, err := a.ss.ListPlayers(c.Request.Context(), score.ListPlayersRequest{
		Filter: score.Filter(c.DefaultQuery("filter", string(score.FilterAll))),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := make([]Player, 0, len(players))
	for _, p := range players {
		resp = append(resp, newPlayer(p))
	}

	c.JSON(http.StatusOK, gin.H{"players": resp})
}

func (a *API) GetDashboard(c *gin.Context) {
	d, err := a.ss.Dashboard(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newDashboard(d))
}

type OverrideHighScoreRequest struct {
	HighScore *int64 `json:"high_score" binding:"required"`
}

func (a *API) OverrideHighScore(c *gin.Context) {
	var req OverrideHighScoreRequest
	if !bind(c, &req) {
		return
	}

	st, err := a.ss.OverrideHighScore(c.Request.Context(), score.OverrideHighScoreRequest{
		PlayerID: c.Param("id"),
		Score:    *req.HighScore,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newStats(st))
}

func (a *API) DeletePlayer(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if err := a.ss.DeletePlayer(ctx, id); err != nil {
		abortWithError(c, err)
		return
	}

	// The player is gone either way; a stale entry is dropped at next rebuild.
	if err := a.ls.RemovePlayer(ctx, id); err != nil {
		slog.ErrorContext(ctx, "api: remove player from leaderboard failed", "player", id, "error", err)
	}

	c.Status(http.StatusNoContent)
}

func (a *API) GetLeaderboard(c *gin.Context) {
	var req leaderboard.GetLeaderboardRequest
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			abortWithError(c, errors.Validation("limit must be a number: %q", s))
			return
		}
		req.Limit = n
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newLeaderboard(l))
}

type SendNotificationRequest struct {
	Provider string            `json:"provider"`
	PlayerID string            `json:"player_id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	ImageURL string            `json:"image_url"`
	Data     map[string]string `json:"data"`
}

func (a *API) SendNotification(c *gin.Context) {
	var req SendNotificationRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.ns.Send(c.Request.Context(), notification.SendRequest{
		Provider: req.Provider,
		Message: notification.Message{
			TargetPlayerID: req.PlayerID,
			Title:          req.Title,
			Body:           req.Body,
			Type:           notification.TypeAnnouncement,
			ImageURL:       req.ImageURL,
			Data:           req.Data,
		},
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sent":   res.Sent,
		"id":     res.ID,
		"reason": res.Reason,
	})
}
