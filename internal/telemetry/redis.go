package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments r with tracing, metrics and command logs. name
// tells the clients apart in logs, e.g. "leaderboard" or "session".
func MonitorRedis(name string, r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{l: slog.Default().With("redis", name)})
	return nil
}

// redisLog logs dials at info and commands at debug, failed ones at warn.
type redisLog struct {
	l *slog.Logger
}

func (h redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			h.l.WarnContext(ctx, "redis: dial failed", "addr", addr, "error", err)
			return nil, err
		}
		h.l.InfoContext(ctx, "redis: dialed", "network", network, "addr", addr)
		return conn, nil
	}
}

func (h redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		h.log(ctx, cmd.Name(), start, err)
		return err
	}
}

func (h redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		h.log(ctx, fmt.Sprintf("pipeline(%d)", len(cmds)), start, err)
		return err
	}
}

func (h redisLog) log(ctx context.Context, cmd string, start time.Time, err error) {
	// redis.Nil is a regular miss, not a failure.
	if err != nil && err != redis.Nil {
		h.l.WarnContext(ctx, "redis: command failed", "cmd", cmd, "duration", time.Since(start), "error", err)
		return
	}
	h.l.DebugContext(ctx, "redis: command", "cmd", cmd, "duration", time.Since(start))
}
