package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"github.com/victornm/duelhub/internal/api"
	"github.com/victornm/duelhub/internal/auth"
	"github.com/victornm/duelhub/internal/duel"
	"github.com/victornm/duelhub/internal/event"
	"github.com/victornm/duelhub/internal/identity"
	"github.com/victornm/duelhub/internal/identity/gotrue"
	"github.com/victornm/duelhub/internal/identity/local"
	"github.com/victornm/duelhub/internal/leaderboard"
	"github.com/victornm/duelhub/internal/notification"
	"github.com/victornm/duelhub/internal/score"
	"github.com/victornm/duelhub/internal/session"
	"github.com/victornm/duelhub/internal/storage"
	"github.com/victornm/duelhub/internal/storage/memory"
	"github.com/victornm/duelhub/internal/storage/postgres"
	"github.com/victornm/duelhub/internal/telemetry"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	IdentityLocal  = "local"
	IdentityGotrue = "gotrue"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type PostgresConfig struct {
	Addr string
	User string
	Pass string
	Name string
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
		Session     RedisConfig
	}

	Postgres PostgresConfig

	Storage struct {
		Driver string
	}

	Identity struct {
		Driver     string
		URL        string
		AnonKey    string
		ServiceKey string

		Local struct {
			Prefix     string
			SigningKey string
			Issuer     string
			TokenTTL   time.Duration
		}
	}

	Auth struct {
		SessionTTL time.Duration
	}

	Event struct {
		PoolSize       int
		HandlerTimeout time.Duration
	}

	Notification struct {
		Default string

		FCM struct {
			ProjectID       string
			CredentialsFile string
		}

		OneSignal struct {
			AppID  string
			APIKey string
			URL    string
		}
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
			session     redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	store    storage.Store
	identity identity.Provider

	service struct {
		flow         *auth.Flow
		admin        *auth.Admin
		duel         *duel.Service
		score        *score.Service
		leaderboard  *leaderboard.Service
		notification *notification.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
}

// busOptions leaves the bus defaults in place for zero values.
func busOptions(c Config) []event.Option {
	return []event.Option{
		event.WithPoolSize(c.Event.PoolSize),
		event.WithTimeout(c.Event.HandlerTimeout),
	}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus(busOptions(c)...)

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	switch s.c.Storage.Driver {
	case StoragePostgres, "":
		db, err := connectPostgres(s.c.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		s.infra.postgres = db
		s.store = postgres.New(db)
	case StorageMemory:
		slog.Warn("server: using in-memory storage, data is lost on restart")
		s.store = memory.New()
	default:
		return fmt.Errorf("unknown storage driver %q", s.c.Storage.Driver)
	}

	p, err := newIdentity(s.c, s.infra.redis.session)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	s.identity = p

	return nil
}

func (s *Server) initRedis() error {
	var err error
	s.infra.redis.leaderboard, err = connectRedis("leaderboard", s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connectRedis("pubsub", s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.infra.redis.session, err = connectRedis("session", s.c.Redis.Session)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	return nil
}

func connectRedis(name string, c RedisConfig) (redis.UniversalClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Addrs,
		Password: c.Pass,
	})

	if err := telemetry.MonitorRedis(name, r); err != nil {
		return nil, err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return r, nil
}

func connectPostgres(c PostgresConfig) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func newIdentity(c Config, r redis.UniversalClient) (identity.Provider, error) {
	switch c.Identity.Driver {
	case IdentityGotrue, "":
		if c.Identity.URL == "" {
			return nil, errors.New("gotrue: URL is required")
		}
		return gotrue.New(gotrue.Config{
			URL:        c.Identity.URL,
			AnonKey:    c.Identity.AnonKey,
			ServiceKey: c.Identity.ServiceKey,
		}), nil
	case IdentityLocal:
		if c.Identity.Local.SigningKey == "" {
			return nil, errors.New("local: signing key is required")
		}
		return local.New(local.Config{
			Redis:      r,
			Prefix:     c.Identity.Local.Prefix,
			SigningKey: []byte(c.Identity.Local.SigningKey),
			Issuer:     c.Identity.Local.Issuer,
			TokenTTL:   c.Identity.Local.TokenTTL,
		}), nil
	default:
		return nil, fmt.Errorf("unknown identity driver %q", c.Identity.Driver)
	}
}

func (s *Server) initService() error {
	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		Store:    s.store,
	})

	s.service.duel = duel.NewService(duel.Config{
		Store:      s.store,
		EventBus:   s.eb,
		Reconciler: s.service.score,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    s.store,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.service.leaderboard.Rebuild(ctx); err != nil {
		return fmt.Errorf("leaderboard: rebuild: %w", err)
	}

	senders, err := s.initSenders(ctx)
	if err != nil {
		return fmt.Errorf("notification: %w", err)
	}

	s.service.notification = notification.NewService(notification.Config{
		EventBus: s.eb,
		Players:  s.store,
		Senders:  senders,
		Default:  s.c.Notification.Default,
	})

	s.service.flow = auth.NewFlow(auth.Config{
		Provider: s.identity,
		Sessions: session.NewStore(session.Config{
			Redis:  s.infra.redis.session,
			Prefix: s.c.Redis.Session.Prefix,
			TTL:    s.c.Auth.SessionTTL,
		}),
	})

	s.service.admin = auth.NewAdmin(auth.AdminConfig{Provider: s.identity})

	return nil
}

// initSenders builds a sender for every configured push provider.
func (s *Server) initSenders(ctx context.Context) ([]notification.Sender, error) {
	var senders []notification.Sender

	if c := s.c.Notification.FCM; c.ProjectID != "" {
		var opts []option.ClientOption
		if c.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
		}

		f, err := notification.NewFCM(ctx, notification.FCMConfig{
			ProjectID: c.ProjectID,
			Players:   s.store,
			Options:   opts,
		})
		if err != nil {
			return nil, err
		}
		senders = append(senders, f)
	}

	if c := s.c.Notification.OneSignal; c.AppID != "" {
		senders = append(senders, notification.NewOneSignal(notification.OneSignalConfig{
			AppID:  c.AppID,
			APIKey: c.APIKey,
			URL:    c.URL,
		}))
	}

	if len(senders) == 0 {
		slog.Warn("server: no notification provider configured, duel notifications are disabled")
	}

	return senders, nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.HTTPLogger(slog.Default(), "/metrics", "/healthz"))

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions(slog.Default())...)
	s.health = telemetry.RegisterHealth(s.grpc)

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Auth:         s.service.flow,
		Admin:        s.service.admin,
		Duel:         s.service.duel,
		Score:        s.service.score,
		Leaderboard:  s.service.leaderboard,
		Notification: s.service.notification,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]func(ctx context.Context) error{
		"redis.leaderboard": func(ctx context.Context) error { return s.infra.redis.leaderboard.Ping(ctx).Err() },
		"redis.pubsub":      func(ctx context.Context) error { return s.infra.redis.pubsub.Ping(ctx).Err() },
		"redis.session":     func(ctx context.Context) error { return s.infra.redis.session.Ping(ctx).Err() },
	}
	if s.infra.postgres != nil {
		checks["postgres"] = s.infra.postgres.Ping
	}

	status, code := gin.H{}, http.StatusOK
	for name, check := range checks {
		if err := check(ctx); err != nil {
			slog.ErrorContext(ctx, "server: health check failed", "check", name, "error", err)
			status[name], code = "down", http.StatusServiceUnavailable
			continue
		}
		status[name] = "up"
	}

	c.JSON(code, status)
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub, s.infra.redis.session} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

// Migrate applies the Postgres schema.
func Migrate(ctx context.Context, c Config) error {
	db, err := connectPostgres(c.Postgres)
	if err != nil {
		return fmt.Errorf("server: postgres: %w", err)
	}
	defer db.Close()

	return postgres.New(db).Migrate(ctx)
}

// CreateAdmin registers an admin account with the configured identity
// provider. It bootstraps the first account, which can then add the others
// from the console.
func CreateAdmin(ctx context.Context, c Config, email, password string) (*identity.User, error) {
	var r redis.UniversalClient
	if c.Identity.Driver == IdentityLocal {
		var err error
		r, err = connectRedis("session", c.Redis.Session)
		if err != nil {
			return nil, fmt.Errorf("server: redis: %w", err)
		}
		defer r.Close()
	}

	p, err := newIdentity(c, r)
	if err != nil {
		return nil, fmt.Errorf("server: identity: %w", err)
	}

	return auth.NewAdmin(auth.AdminConfig{Provider: p}).CreateUser(ctx, auth.CreateUserRequest{
		Email:    email,
		Password: password,
	})
}
