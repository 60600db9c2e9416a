package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Mimic/internal/adapters/http"
	"github.com/dkeye/Mimic/internal/adapters/rtc"
	sig "github.com/dkeye/Mimic/internal/adapters/signal"
	"github.com/dkeye/Mimic/internal/app"
	"github.com/dkeye/Mimic/internal/app/orch"
	"github.com/dkeye/Mimic/internal/app/sfu"
	"github.com/dkeye/Mimic/internal/config"
	"github.com/dkeye/Mimic/internal/metrics"
	"github.com/dkeye/Mimic/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	api, err := rtc.NewAPI()
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc api")
	}

	m := metrics.NewServer("mimic")
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
		Relays: sfu.NewRelayManager(sfu.Speaking{
			Threshold: cfg.Speaking.LevelThreshold,
			Hold:      cfg.Speaking.Hold,
		}),
		Metrics: m,
	}

	r := router.SetupRouter(ctx, cfg, o, store.NewMemory(), m, sig.Options{
		ReadLimit:   cfg.ReadLimit,
		PingPeriod:  cfg.PingPeriod,
		MaxBuffered: cfg.Relay.MaxBufferedBytes,
		RTC:         rtc.DefaultWebRTCConfig(cfg.ICEServers),
		API:         api,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Mimic server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
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
