package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"clobx/internal/book"
	"clobx/internal/broadcast"
	"clobx/internal/config"
	"clobx/internal/idgen"
	"clobx/internal/intake"
	"clobx/internal/logging"
	"clobx/internal/repository"
	"clobx/internal/settlement"
	"clobx/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg := config.FromEnv()
	logging.Init(cfg.LogLevel, false)

	repo, closeRepo := buildRepository(cfg)
	defer closeRepo()

	executor, closeExecutor := buildExecutor(ctx, cfg)
	defer closeExecutor()

	registry := book.NewRegistry()
	broadcaster := broadcast.New()
	queue := settlement.NewQueue(cfg.SettlementQueueCapacity, executor, repo)
	ids := idgen.New()
	in := intake.New(registry, repo, broadcaster, queue, ids)

	var t tomb.Tomb
	t.Go(func() error { return queue.Run(&t) })

	if relay, ok := buildRelay(ctx, cfg, broadcaster); ok {
		t.Go(func() error { return relay.Run(t.Context(ctx)) })
		defer relay.Close()
	}

	srv := transport.NewServer(repo, in, broadcaster, registry, cfg.OrderbookSnapshotDepthMax)
	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	t.Go(func() error {
		log.Info().Str("addr", cfg.ServerAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	t.Go(func() error {
		select {
		case <-ctx.Done():
		case <-t.Dying():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	select {
	case <-ctx.Done():
	case <-t.Dying():
	}
	t.Kill(nil)
	if err := t.Wait(); err != nil {
		log.Error().Err(err).Msg("shutdown with error")
	}
}

func buildRepository(cfg config.Config) (repository.Repository, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL unset, running with in-memory repository")
		return repository.NewMemoryRepository(), func() {}
	}
	repo, err := repository.NewPostgresRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres repository")
	}
	return repo, func() { _ = repo.Close() }
}

// buildRelay attaches a Redis-backed cross-instance broadcast relay when
// REDIS_URL is configured. Without it each instance's websocket clients
// only see fills matched on that instance, which is fine for a
// single-instance deployment but wrong once the HTTP tier is scaled out.
func buildRelay(ctx context.Context, cfg config.Config, b *broadcast.Broadcaster) (*broadcast.Relay, bool) {
	if cfg.RedisURL == "" {
		return nil, false
	}
	instanceID := os.Getenv("HOSTNAME")
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	relay, err := broadcast.NewRelay(ctx, cfg.RedisURL, b, instanceID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect broadcast relay to redis")
	}
	return relay, true
}

func buildExecutor(ctx context.Context, cfg config.Config) (settlement.TradeExecutor, func()) {
	if cfg.SettlementRPCURL == "" || cfg.SettlementSigningKeyHex == "" {
		log.Warn().Msg("SETTLEMENT_RPC_URL or SETTLEMENT_SIGNING_KEY unset, running with noop settlement executor")
		return settlement.NoopExecutor{}, func() {}
	}
	exec, err := settlement.NewEVMExecutor(ctx, cfg.SettlementRPCURL, cfg.ProgramID, cfg.SettlementSigningKeyHex)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize evm settlement executor")
	}
	return exec, exec.Close
}
