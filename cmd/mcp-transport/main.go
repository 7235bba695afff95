// Command mcp-transport serves the echo protocol server over SSE and
// Streamable HTTP, with reconnectable sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ggoodman/mcp-transport-go/auth"
	"github.com/ggoodman/mcp-transport-go/examples/echo"
	"github.com/ggoodman/mcp-transport-go/server"
	"github.com/ggoodman/mcp-transport-go/sessions"
	"github.com/ggoodman/mcp-transport-go/sessions/memorystore"
	"github.com/ggoodman/mcp-transport-go/sessions/redisstore"
	"github.com/ggoodman/mcp-transport-go/ssetransport"
	"github.com/ggoodman/mcp-transport-go/streaminghttp"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "mcp-transport",
		Usage: "Serve a JSON-RPC protocol server over SSE and Streamable HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "Listen address.", Sources: cli.EnvVars("ADDR")},
			&cli.StringFlag{Name: "base-url", Usage: "Public base URL used in the SSE endpoint event. Relative when empty.", Sources: cli.EnvVars("BASE_URL")},
			&cli.DurationFlag{Name: "grace-period", Value: sessions.DefaultGracePeriod, Usage: "How long a disconnected session can be resumed.", Sources: cli.EnvVars("GRACE_PERIOD")},
			&cli.DurationFlag{Name: "sweep-interval", Value: sessions.DefaultSweepInterval, Usage: "How often expired sessions are evicted.", Sources: cli.EnvVars("SWEEP_INTERVAL")},
			&cli.DurationFlag{Name: "idle-timeout", Value: sessions.DefaultIdleTimeout, Usage: "Evict Streamable HTTP sessions idle this long. 0 disables.", Sources: cli.EnvVars("IDLE_TIMEOUT")},
			&cli.DurationFlag{Name: "heartbeat-interval", Value: ssetransport.DefaultHeartbeatInterval, Usage: "SSE keep-alive period. 0 disables.", Sources: cli.EnvVars("HEARTBEAT_INTERVAL")},
			&cli.DurationFlag{Name: "request-timeout", Value: streaminghttp.DefaultRequestTimeout, Usage: "Deadline for Streamable HTTP exchanges.", Sources: cli.EnvVars("REQUEST_TIMEOUT")},
			&cli.StringFlag{Name: "redis-addr", Usage: "Mirror session metadata to Redis at this address.", Sources: cli.EnvVars("REDIS_ADDR")},
			&cli.StringFlag{Name: "redis-key-prefix", Value: "mcp:sessions:", Usage: "Key prefix for Redis session records.", Sources: cli.EnvVars("SESSIONS_KEY_PREFIX")},
			&cli.StringFlag{Name: "jwt-secret", Usage: "Require HS256 bearer tokens signed with this secret.", Sources: cli.EnvVars("JWT_SECRET")},
			&cli.StringFlag{Name: "jwt-issuer", Usage: "Required iss claim for bearer tokens.", Sources: cli.EnvVars("JWT_ISSUER")},
			&cli.StringFlag{Name: "jwt-audience", Usage: "Required aud claim for bearer tokens.", Sources: cli.EnvVars("JWT_AUDIENCE")},
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Value: "info", Usage: "One of: debug, info, warn, error.", Sources: cli.EnvVars("LOG_LEVEL")},
			&cli.BoolFlag{Name: "json", Usage: "Output logs as JSON. Implied when stderr is not a TTY."},
			&cli.BoolFlag{Name: "metrics", Value: true, Usage: "Expose Prometheus metrics at /metrics.", Sources: cli.EnvVars("METRICS")},
		},
		Action: run,
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	log, err := newLogger(os.Stderr, cmd.String("log-level"), cmd.Bool("json"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	regOpts := []sessions.Option{
		sessions.WithLogger(log),
		sessions.WithGracePeriod(cmd.Duration("grace-period")),
		sessions.WithSweepInterval(cmd.Duration("sweep-interval")),
		sessions.WithIdleTimeout(cmd.Duration("idle-timeout")),
		sessions.WithSSEOptions(
			ssetransport.WithHeartbeatInterval(cmd.Duration("heartbeat-interval")),
			ssetransport.WithMessageEndpoint(strings.TrimSuffix(cmd.String("base-url"), "/")+ssetransport.DefaultMessageEndpoint),
		),
		sessions.WithStreamableOptions(
			streaminghttp.WithRequestTimeout(cmd.Duration("request-timeout")),
		),
	}

	if addr := cmd.String("redis-addr"); addr != "" {
		store, err := redisstore.New(redisstore.Config{RedisAddr: addr, KeyPrefix: cmd.String("redis-key-prefix")})
		if err != nil {
			return fmt.Errorf("session store: %w", err)
		}
		defer store.Close()
		regOpts = append(regOpts, sessions.WithStore(store))
		log.Info("store.redis.ok", slog.String("addr", addr))
	} else {
		regOpts = append(regOpts, sessions.WithStore(memorystore.New()))
		log.Info("store.memory.ok")
	}

	var srvOpts []server.Option
	srvOpts = append(srvOpts, server.WithLogger(log))

	if cmd.Bool("metrics") {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		regOpts = append(regOpts, sessions.WithMetrics(promReg))
		srvOpts = append(srvOpts, server.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	}

	if secret := cmd.String("jwt-secret"); secret != "" {
		cfg := auth.HMACConfig{Secret: []byte(secret), Issuer: cmd.String("jwt-issuer")}
		if aud := cmd.String("jwt-audience"); aud != "" {
			cfg.Audiences = []string{aud}
		}
		authn, err := auth.NewHMAC(cfg)
		if err != nil {
			return fmt.Errorf("authenticator: %w", err)
		}
		srvOpts = append(srvOpts, server.WithAuthenticator(authn), server.WithRealm("mcp"))
		log.Info("auth.hmac.enabled")
	}

	reg, err := sessions.NewRegistry(echo.Factory(log), regOpts...)
	if err != nil {
		return err
	}
	go reg.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cmd.String("addr"),
		Handler:           server.New(reg, srvOpts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http.listen", slog.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			_ = reg.Close()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("http.shutdown.start")
	}

	// Open event streams hold Shutdown until their sessions are closed.
	var result *multierror.Error
	if err := reg.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http shutdown: %w", err))
	}
	log.Info("http.shutdown.ok")
	return result.ErrorOrNil()
}
