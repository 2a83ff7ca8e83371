package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"supportchat/internal/api"
	"supportchat/internal/config"
	"supportchat/internal/ledger"
	"supportchat/internal/llm"
	"supportchat/internal/search"
	"supportchat/internal/secrets"
	"supportchat/internal/store"
	"supportchat/internal/turn"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	config.LoadConfig()
	if level, err := zerolog.ParseLevel(config.AppConfig.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	warmIndexFlag := flag.Bool("warm-index", false, "Build the corpus index at startup instead of on first query")
	flag.Parse()

	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer dbStore.Close()

	ctx := context.Background()
	provider, err := llm.NewGeminiClient(ctx, config.AppConfig.GeminiAPIKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create provider client")
	}
	defer provider.Close()

	catalog, err := llm.NewCatalog(config.AppConfig.DefaultModel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build model catalog")
	}
	catalog.Refresh(ctx, provider)

	var keyring *secrets.Keyring
	if config.AppConfig.CredentialKeys != "" {
		keyring, err = secrets.ParseKeyring(config.AppConfig.CredentialKeys)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to parse credential keyring")
		}
	}

	corpusPath := config.AppConfig.CorpusPath
	indexService := search.NewService(func() ([]search.Passage, error) {
		return search.LoadPassages(corpusPath)
	})
	if *warmIndexFlag {
		if _, err := indexService.Index(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to build corpus index")
		}
	}

	ledgerService := ledger.NewService(dbStore)
	turnService := turn.NewService(dbStore, indexService, ledgerService, provider, catalog, keyring, config.AppConfig.GeminiAPIKey)

	apiHandler := api.NewAPIHandler(dbStore, turnService, ledgerService, indexService, config.AppConfig.SignupGrantCents)
	router := api.NewRouter(apiHandler)

	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // provider calls can take a while
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
