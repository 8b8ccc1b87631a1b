package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	stdsignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/adapters/db"
	router "github.com/dkeye/Concord/internal/adapters/http"
	"github.com/dkeye/Concord/internal/adapters/keyvalue"
	"github.com/dkeye/Concord/internal/adapters/signal"
	"github.com/dkeye/Concord/internal/app/breakout"
	"github.com/dkeye/Concord/internal/app/chat"
	"github.com/dkeye/Concord/internal/app/confctl"
	"github.com/dkeye/Concord/internal/app/equipment"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/app/rooms"
	"github.com/dkeye/Concord/internal/app/syncobj"
	"github.com/dkeye/Concord/internal/config"
	"github.com/dkeye/Concord/internal/scheduler"
)

func main() {
	ctx, cancel := stdsignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	repo, err := db.NewSQLiteRepository(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer repo.Close()

	locks := keyvalue.NewMemoryStore()
	sched := scheduler.NewTimers()
	registry := syncobj.NewRegistry()
	conns := confctl.NewConnections()

	roomsSvc := rooms.NewService(registry, locks, cfg.LockTimeout)
	permsSvc := permissions.NewService(repo, roomsSvc, registry, locks, cfg.LockTimeout)
	breakoutSvc := breakout.NewService(roomsSvc, registry, locks, cfg.LockTimeout, sched)
	chatSvc := chat.NewService(registry, conns, locks, cfg.LockTimeout)
	confSvc := confctl.NewService(repo, roomsSvc, permsSvc, breakoutSvc, chatSvc,
		registry, conns, locks, cfg.LockTimeout)

	registry.Register(confctl.CategoryConferenceInfo, confctl.NewProvider(confSvc))
	registry.Register(rooms.CategoryRooms, rooms.NewProvider(roomsSvc))
	registry.Register(breakout.CategoryBreakoutRooms, breakout.NewProvider(breakoutSvc))
	registry.Register(chat.CategoryChat, chat.NewProvider(chatSvc))
	registry.Register(permissions.CategoryPermissions, permissions.NewProvider(permsSvc))

	tokens := equipment.NewTokenIssuer(cfg.Secret, cfg.TokenTTL)
	ctrl := signal.NewController(confSvc, roomsSvc, breakoutSvc, chatSvc, permsSvc, tokens)

	r := router.SetupRouter(ctx, cfg, repo, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Concord server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
