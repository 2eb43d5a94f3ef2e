package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wordroom/go-server/internal/feed"
	"github.com/wordroom/go-server/internal/httpserver"
	"github.com/wordroom/go-server/internal/session"
	"github.com/wordroom/go-server/internal/store"
	"github.com/wordroom/go-server/internal/words"
)

func main() {
	_ = godotenv.Load()
	if lvl, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info")); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	// Missing credentials are a startup failure, never a runtime surprise.
	secret := os.Getenv("API_TOKEN_SECRET")
	if secret == "" {
		log.Fatal().Msg("API_TOKEN_SECRET is required")
	}

	if err := words.Init(); err != nil {
		log.Fatal().Err(err).Msg("failed to load word list")
	}

	st, err := newStore()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open session store")
	}

	f := feed.New()
	svc := session.NewService(st, f)
	srv := httpserver.New(svc, f, []byte(secret))

	port := getEnv("PORT", "5175")
	log.Info().Str("port", port).Str("store", getEnv("STORE_DRIVER", "memory")).Msg("starting wordroom server")
	if err := srv.Start(":" + port); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

// newStore picks the session store from STORE_DRIVER: "memory" (default) or
// "sqlite" (journals snapshots to SQLITE_PATH so sessions survive restarts).
func newStore() (store.Store, error) {
	if getEnv("STORE_DRIVER", "memory") != "sqlite" {
		return store.NewMemoryStore(), nil
	}
	db, err := store.OpenDB(getEnv("SQLITE_PATH", "./data/sessions.db"))
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(db)
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
