package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/duelhub/internal/api"
	"github.com/victornm/duelhub/internal/auth"
	"github.com/victornm/duelhub/internal/domain"
	"github.com/victornm/duelhub/internal/duel"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/identity"
	"github.com/victornm/duelhub/internal/identity/local"
	"github.com/victornm/duelhub/internal/leaderboard"
	"github.com/victornm/duelhub/internal/notification"
	"github.com/victornm/duelhub/internal/score"
	"github.com/victornm/duelhub/internal/session"
	"github.com/victornm/duelhub/internal/storage/memory"
)

const (
	adminEmail    = "admin@example.com"
	adminPassword = "s3cret!"
	pubsubPrefix  = "test:pubsub"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type nopSender struct{}

func (nopSender) Name() string { return "nop" }

func (nopSender) Send(context.Context, notification.Message) (*notification.Result, error) {
	return &notification.Result{Sent: true, ID: "n1"}, nil
}

type fixture struct {
	handler  http.Handler
	redis    redis.UniversalClient
	store    *memory.Storage
	provider *local.Provider
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(context.Background()).Err(), "should be able to ping redis")

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	store := memory.New()
	for _, p := range []domain.Player{
		{ID: "alice", Username: "Alice", CreateTime: now},
		{ID: "bob", Username: "Bob", CreateTime: now},
		{ID: "bot", Username: "Botty", DeviceID: domain.BotDevicePrefix + "1", CreateTime: now},
	} {
		require.NoError(t, store.CreatePlayer(context.Background(), &p))
	}

	clock := func() time.Time { return now }
	provider := local.New(local.Config{
		Redis:      rc,
		Prefix:     "test:identity",
		SigningKey: []byte("k"),
		Issuer:     "duelhub",
		Now:        clock,
	})
	_, err := provider.CreateUser(context.Background(), identity.CreateUserRequest{Email: adminEmail, Password: adminPassword})
	require.NoError(t, err)

	ss := score.NewService(score.Config{Store: store, EventBus: eb})
	r := gin.New()

	api.New(api.Config{
		Router:   r,
		EventBus: eb,
		Auth: auth.NewFlow(auth.Config{
			Provider: provider,
			Sessions: session.NewStore(session.Config{Redis: rc, Prefix: "test:auth"}),
			Now:      clock,
		}),
		Admin: auth.NewAdmin(auth.AdminConfig{Provider: provider}),
		Duel: duel.NewService(duel.Config{
			Store:      store,
			EventBus:   eb,
			Reconciler: ss,
			Seed:       func() (int64, error) { return 42, nil },
			Now:        clock,
		}),
		Score: ss,
		Leaderboard: leaderboard.NewService(leaderboard.Config{
			EventBus: eb,
			Store:    store,
			Redis:    rc,
			Prefix:   "test:leaderboard",
		}),
		Notification: notification.NewService(notification.Config{
			EventBus: eb,
			Players:  store,
			Senders:  []notification.Sender{nopSender{}},
			Default:  "nop",
		}),
		Redis:        rc,
		PubsubPrefix: pubsubPrefix,
	})

	return fixture{
		handler:  r,
		redis:    rc,
		store:    store,
		provider: provider,
	}
}

func (f fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var b bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&b).Encode(body))
	}

	req := httptest.NewRequest(method, path, &b)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// signIn runs a first sign-in with enrollment and returns the aal2 token.
func (f fixture) signIn(t *testing.T) string {
	t.Helper()

	w := f.do(t, http.MethodPost, "/api/auth/login", "", api.LoginRequest{Email: adminEmail, Password: adminPassword})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s := decode[api.Session](t, w)
	require.NotNil(t, s.Enrollment)

	code, err := totp.GenerateCode(s.Enrollment.Secret, now)
	require.NoError(t, err)

	w = f.do(t, http.MethodPost, "/api/auth/sessions/"+s.ID+"/verify", "", api.VerifyRequest{Code: code})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s = decode[api.Session](t, w)
	require.NotEmpty(t, s.AccessToken)

	return s.AccessToken
}

func TestAPI_SignIn(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/auth/login", "", api.LoginRequest{Email: adminEmail, Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid email or password", decode[map[string]string](t, w)["error"])

	w = f.do(t, http.MethodPost, "/api/auth/login", "", api.LoginRequest{Email: adminEmail, Password: adminPassword})
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[api.Session](t, w)
	assert.Equal(t, session.StepEnrollmentPending, s.Step)
	assert.Equal(t, identity.AAL1, s.AAL)
	assert.Empty(t, s.AccessToken, "no token before the second factor")
	require.NotNil(t, s.Enrollment)
	assert.True(t, strings.HasPrefix(s.Enrollment.QRCode, "data:image/png;base64,"))

	w = f.do(t, http.MethodPost, "/api/auth/sessions/"+s.ID+"/verify", "", api.VerifyRequest{Code: "12ab56"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/auth/sessions/"+s.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, s.Enrollment.Secret, decode[api.Session](t, w).Enrollment.Secret, "resume keeps the pending enrollment")

	code, err := totp.GenerateCode(s.Enrollment.Secret, now)
	require.NoError(t, err)
	w = f.do(t, http.MethodPost, "/api/auth/sessions/"+s.ID+"/verify", "", api.VerifyRequest{Code: code})
	require.Equal(t, http.StatusOK, w.Code)
	s = decode[api.Session](t, w)
	assert.Equal(t, session.StepAuthenticated, s.Step)
	assert.Equal(t, identity.AAL2, s.AAL)
	assert.Nil(t, s.Enrollment)
	assert.NotEmpty(t, s.AccessToken)

	w = f.do(t, http.MethodDelete, "/api/auth/sessions/"+s.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodGet, "/api/auth/sessions/"+s.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_RequiresAAL2(t *testing.T) {
	f := newFixture(t)

	aal1, err := f.provider.SignInWithPassword(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)

	tests := map[string]struct {
		token string
		want  int
	}{
		"no token":   {token: "", want: http.StatusUnauthorized},
		"garbage":    {token: "not-a-jwt", want: http.StatusUnauthorized},
		"aal1 token": {token: aal1.AccessToken, want: http.StatusUnauthorized},
		"aal2 token": {token: f.signIn(t), want: http.StatusOK},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/api/players", tt.token, nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestAPI_Duel(t *testing.T) {
	f := newFixture(t)
	token := f.signIn(t)

	w := f.do(t, http.MethodPost, "/api/duels", token, api.CreateDuelRequest{ChallengerID: "alice", ChallengedID: "bob"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := decode[api.Duel](t, w)
	assert.Equal(t, domain.DuelStatusPending, d.Status)
	assert.Equal(t, int64(42), d.Seed)

	w = f.do(t, http.MethodGet, "/api/players/bob/duels", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	pd := decode[api.PlayerDuels](t, w)
	require.Len(t, pd.AwaitingResponse, 1)
	assert.Equal(t, "Alice", pd.AwaitingResponse[0].Opponent.Username)

	w = f.do(t, http.MethodPost, "/api/duels/"+d.ID+"/accept", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.DuelStatusActive, decode[api.Duel](t, w).Status)

	score := func(player string, s int64) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPost, "/api/duels/"+d.ID+"/scores", token, api.SubmitScoreRequest{PlayerID: player, Score: &s})
	}

	w = score("alice", 9000)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.DuelStatusActive, decode[api.Duel](t, w).Status)

	w = score("alice", 9500)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_submitted", decode[map[string]string](t, w)["reason"])

	w = score("bob", 7000)
	require.Equal(t, http.StatusOK, w.Code)
	d = decode[api.Duel](t, w)
	assert.Equal(t, domain.DuelStatusCompleted, d.Status)
	require.NotNil(t, d.WinnerID)
	assert.Equal(t, "alice", *d.WinnerID)

	w = f.do(t, http.MethodPost, "/api/duels/"+d.ID+"/decline", token, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", decode[map[string]string](t, w)["reason"])

	w = f.do(t, http.MethodGet, "/api/players?filter=real", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	players := decode[map[string][]api.Player](t, w)["players"]
	require.Len(t, players, 2)
	assert.Equal(t, "alice", players[0].ID)
	assert.Equal(t, int64(9000), players[0].HighScore)

	assert.EventuallyWithT(t, func(c *assert.CollectT) {
		w := f.do(t, http.MethodGet, "/api/leaderboard?limit=1", token, nil)
		l := decode[api.Leaderboard](t, w)
		assert.Equal(c, []api.LeaderboardEntry{{Rank: 1, PlayerID: "alice", HighScore: 9000}}, l.Entries)
	}, time.Second, 10*time.Millisecond)
}

func TestAPI_Errors(t *testing.T) {
	f := newFixture(t)
	token := f.signIn(t)

	tests := map[string]struct {
		method string
		path   string
		body   any
		want   int
	}{
		"self challenge": {
			method: http.MethodPost,
			path:   "/api/duels",
			body:   api.CreateDuelRequest{ChallengerID: "alice", ChallengedID: "alice"},
			want:   http.StatusBadRequest,
		},
		"unknown opponent": {
			method: http.MethodPost,
			path:   "/api/duels",
			body:   api.CreateDuelRequest{ChallengerID: "alice", ChallengedID: "ghost"},
			want:   http.StatusBadRequest,
		},
		"unknown duel": {
			method: http.MethodGet,
			path:   "/api/duels/nope",
			want:   http.StatusNotFound,
		},
		"malformed body": {
			method: http.MethodPost,
			path:   "/api/duels/nope/scores",
			body:   map[string]string{"score": "lots"},
			want:   http.StatusBadRequest,
		},
		"missing score": {
			method: http.MethodPost,
			path:   "/api/duels/nope/scores",
			body:   map[string]string{"player_id": "alice"},
			want:   http.StatusBadRequest,
		},
		"bad filter": {
			method: http.MethodGet,
			path:   "/api/players?filter=robots",
			want:   http.StatusBadRequest,
		},
		"bad limit": {
			method: http.MethodGet,
			path:   "/api/leaderboard?limit=ten",
			want:   http.StatusBadRequest,
		},
		"limit out of range": {
			method: http.MethodGet,
			path:   "/api/leaderboard?limit=5000",
			want:   http.StatusBadRequest,
		},
		"negative high score": {
			method: http.MethodPut,
			path:   "/api/players/alice/high-score",
			body:   map[string]int64{"high_score": -1},
			want:   http.StatusBadRequest,
		},
		"unknown notification provider": {
			method: http.MethodPost,
			path:   "/api/admin/notifications",
			body:   api.SendNotificationRequest{Provider: "pigeon", PlayerID: "alice", Title: "t", Body: "b"},
			want:   http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, w)["error"])
		})
	}
}

func TestAPI_Players(t *testing.T) {
	f := newFixture(t)
	token := f.signIn(t)

	w := f.do(t, http.MethodPut, "/api/players/bob/high-score", token, map[string]int64{"high_score": 1500})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, api.Stats{PlayerID: "bob", HighScore: 1500}, decode[api.Stats](t, w))

	w = f.do(t, http.MethodGet, "/api/players/stats", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.Dashboard{
		TotalPlayers:     3,
		RealPlayers:      2,
		BotPlayers:       1,
		BestScore:        1500,
		BestScoreText:    "1.5K",
		AverageHighScore: "500.00",
	}, decode[api.Dashboard](t, w))

	w = f.do(t, http.MethodGet, "/api/players?filter=bot", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	bots := decode[map[string][]api.Player](t, w)["players"]
	require.Len(t, bots, 1)
	assert.True(t, bots[0].Bot)

	w = f.do(t, http.MethodDelete, "/api/players/bot", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/players/bot", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/notifications", token, api.SendNotificationRequest{PlayerID: "alice", Title: "Hi", Body: "Season 2"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, w)["sent"])
}

func TestAPI_AdminUsers(t *testing.T) {
	f := newFixture(t)
	token := f.signIn(t)

	w := f.do(t, http.MethodPost, "/api/admin/users", token, api.CreateUserRequest{Email: "ops@example.com", Password: "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/admin/users", token, api.CreateUserRequest{Email: "ops@example.com", Password: "123456"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ops := decode[api.User](t, w)
	assert.True(t, ops.EmailConfirmed)
	assert.False(t, ops.MFAEnabled)

	w = f.do(t, http.MethodPost, "/api/admin/users", token, api.CreateUserRequest{Email: "ops@example.com", Password: "123456"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodGet, "/api/admin/users", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decode[map[string][]api.User](t, w)["users"]
	require.Len(t, users, 2)

	var me api.User
	for _, u := range users {
		if u.Email == adminEmail {
			me = u
		}
	}
	assert.True(t, me.MFAEnabled)

	w = f.do(t, http.MethodPost, "/api/admin/users/"+ops.ID+"/reset-password", token, api.ResetPasswordRequest{Password: "654321"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	_, err := f.provider.SignInWithPassword(context.Background(), "ops@example.com", "654321")
	assert.NoError(t, err)

	w = f.do(t, http.MethodDelete, "/api/admin/users/"+me.ID, token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code, "an admin cannot delete their own account")

	w = f.do(t, http.MethodDelete, "/api/admin/users/"+ops.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(t, http.MethodDelete, "/api/admin/users/"+me.ID+"/mfa", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]int{"deleted_factors": 1}, decode[map[string]int](t, w))

	w = f.do(t, http.MethodGet, "/api/players", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "the token no longer has a verified factor behind it")
}

func TestAPI_Pubsub(t *testing.T) {
	f := newFixture(t)
	token := f.signIn(t)
	ctx := context.Background()

	ps := f.redis.Subscribe(ctx, api.PlayerChannel(pubsubPrefix, "bob"))
	t.Cleanup(func() { _ = ps.Close() })
	_, err := ps.Receive(ctx)
	require.NoError(t, err, "should confirm the subscription")

	w := f.do(t, http.MethodPost, "/api/duels", token, api.CreateDuelRequest{ChallengerID: "alice", ChallengedID: "bob"})
	require.Equal(t, http.StatusCreated, w.Code)
	d := decode[api.Duel](t, w)

	rctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	msg, err := ps.ReceiveMessage(rctx)
	require.NoError(t, err)

	var n struct {
		Event string   `json:"event"`
		Data  api.Duel `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, domain.EventNameDuelCreated, n.Event)
	assert.Equal(t, d.ID, n.Data.ID)
}
