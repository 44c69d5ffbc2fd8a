package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/duelhub/internal/auth"
	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/duel"
	"github.com/victornm/duelhub/internal/errors"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/identity"
	"github.com/victornm/duelhub/internal/leaderboard"
	"github.com/victornm/duelhub/internal/notification"
	"github.com/victornm/duelhub/internal/score"
)

type Config struct {
	Router       gin.IRouter
	EventBus     *event.Bus
	Auth         *auth.Flow
	Admin        *auth.Admin
	Duel         *duel.Service
	Score        *score.Service
	Leaderboard  *leaderboard.Service
	Notification *notification.Service
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	flow  *auth.Flow
	admin *auth.Admin
	ds    *duel.Service
	ss    *score.Service
	ls    *leaderboard.Service
	ns    *notification.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		flow:   c.Auth,
		admin:  c.Admin,
		ds:     c.Duel,
		ss:     c.Score,
		ls:     c.Leaderboard,
		ns:     c.Notification,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	a.register(c.Router)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	for _, name := range []string{
		domain.EventNameDuelCreated,
		domain.EventNameDuelAccepted,
		domain.EventNameDuelDeclined,
		domain.EventNameDuelScoreSubmitted,
		domain.EventNameDuelCompleted,
	} {
		c.EventBus.Subscribe(name, a.PublishDuelEvent)
	}

	return a
}

func (a *API) register(r gin.IRouter) {
	g := r.Group("/api")

	g.POST("/auth/login", a.Login)
	g.GET("/auth/sessions/:id", a.ResumeSession)
	g.POST("/auth/sessions/:id/verify", a.Verify)
	g.DELETE("/auth/sessions/:id", a.Logout)

	p := g.Group("", a.requireAAL2)

	p.GET("/admin/users", a.ListUsers)
	p.POST("/admin/users", a.CreateUser)
	p.POST("/admin/users/:id/reset-password", a.ResetPassword)
	p.DELETE("/admin/users/:id", a.DeleteUser)
	p.DELETE("/admin/users/:id/mfa", a.ResetMFA)
	p.POST("/admin/notifications", a.SendNotification)

	p.GET("/players", a.ListPlayers)
	p.GET("/players/stats", a.GetDashboard)
	p.PUT("/players/:id/high-score", a.OverrideHighScore)
	p.DELETE("/players/:id", a.DeletePlayer)
	p.GET("/players/:id/duels", a.ListPlayerDuels)

	p.POST("/duels", a.CreateDuel)
	p.GET("/duels/:id", a.GetDuel)
	p.POST("/duels/:id/accept", a.AcceptDuel)
	p.POST("/duels/:id/decline", a.DeclineDuel)
	p.POST("/duels/:id/scores", a.SubmitScore)

	p.GET("/leaderboard", a.GetLeaderboard)
}

const userKey = "duelhub.user"

// requireAAL2 lets through only bearers of an aal2 token.
func (a *API) requireAAL2(c *gin.Context) {
	token, _ := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")

	u, err := a.flow.Authorize(c.Request.Context(), strings.TrimSpace(token))
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Set(userKey, u)
	c.Next()
}

func currentUser(c *gin.Context) *identity.User {
	u, _ := c.MustGet(userKey).(*identity.User)
	return u
}

type errorResponse struct {
	Error  string        `json:"error"`
	Reason errors.Reason `json:"reason,omitempty"`
}

func abortWithError(c *gin.Context, err error) {
	e := errors.Convert(err)

	status := e.HTTPStatusCode()
	if status >= http.StatusInternalServerError || e.Unwrap() != nil {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"error", err,
		)
	}

	c.AbortWithStatusJSON(status, errorResponse{Error: e.Message, Reason: e.Reason})
}

// bind decodes the JSON body into req, answering 400 when it can't.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		abortWithError(c, errors.Validation("invalid request body: %v", err))
		return false
	}
	return true
}
