package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"news-video-pipeline/config"
	"news-video-pipeline/pipeline"
	"news-video-pipeline/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file, using the process environment")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ config")
	}
	config.SetupLogging(cfg.Log)

	for _, dir := range []string{cfg.Paths.Temp, cfg.Paths.Output, filepath.Dir(cfg.Paths.JobsDB)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("❌ create directory")
		}
	}

	store, err := server.OpenStore(cfg.Paths.JobsDB)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ jobs database")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if n, err := store.RecoverStuck(ctx); err != nil {
		log.Fatal().Err(err).Msg("❌ recover jobs")
	} else if n > 0 {
		log.Warn().Int64("jobs", n).Msg("⚠️  marked interrupted jobs as failed")
	}

	srv := server.New(cfg.Server, store, pipeline.New(cfg))
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Int("max_concurrent", cfg.Server.MaxConcurrent).Msg("🚀 server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("❌ listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("⚠️  http shutdown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("⚠️  jobs still running at exit")
	}
}
