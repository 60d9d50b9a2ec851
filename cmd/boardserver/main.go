// Command boardserver runs the bulletin-board HTTP API over a backend
// selected by BOARD_BACKEND (memory, flatfile, journal, or sql).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rightcommons/merkleboard/internal/backendflat"
	"github.com/rightcommons/merkleboard/internal/backendjournal"
	"github.com/rightcommons/merkleboard/internal/backendmem"
	"github.com/rightcommons/merkleboard/internal/backendsql"
	"github.com/rightcommons/merkleboard/internal/bbboard"
	"github.com/rightcommons/merkleboard/internal/boardbackend"
	"github.com/rightcommons/merkleboard/internal/boardconfig"
	"github.com/rightcommons/merkleboard/internal/db"
	"github.com/rightcommons/merkleboard/internal/httpapi"
	"github.com/rightcommons/merkleboard/internal/journalmirror"
	"github.com/rightcommons/merkleboard/internal/ratelimit"
	"github.com/rightcommons/merkleboard/internal/treehead"
)

var (
	errMissingDatabaseURL = errors.New("boardserver: DATABASE_URL is required for the sql backend")
	errUnknownBackend     = errors.New("boardserver: unknown BOARD_BACKEND value")
)

func main() {
	log.Println("[BoardServer] starting merkleboard...")

	cfg := boardconfig.Load()

	// A single connection pool serves both the "sql" backend's
	// PostgreSQL use and the submission rate limiter's Redis use.
	// PostgreSQL is only opened when the sql backend needs it.
	dbOpts := db.Options{RedisURL: cfg.RedisURL, SkipRedis: cfg.RedisURL == ""}
	if cfg.Backend == "sql" {
		if cfg.DatabaseURL == "" {
			log.Fatalf("[BoardServer] %v", errMissingDatabaseURL)
		}
		dbOpts.DatabaseURL = cfg.DatabaseURL
	}
	conns, err := db.NewDB(dbOpts)
	if err != nil {
		log.Fatalf("[BoardServer] failed to initialize connections: %v", err)
	}
	defer conns.Close()

	backend, closeBackend, err := buildBackend(cfg, conns)
	if err != nil {
		log.Fatalf("[BoardServer] failed to initialize backend %q: %v", cfg.Backend, err)
	}
	defer closeBackend()

	board, err := bbboard.New(backend)
	if err != nil {
		log.Fatalf("[BoardServer] failed to initialize board: %v", err)
	}

	if signer, err := treehead.NewSignerFromEnv(); err != nil {
		log.Printf("[BoardServer] BOARD_SIGNING_KEY present but invalid, signing disabled: %v", err)
	} else if signer != nil {
		board = board.WithSigner(signer)
		log.Printf("[BoardServer] signed tree heads enabled (%s, fingerprint %s)", signer.Algorithm(), signer.Fingerprint())
	}

	var limiter *ratelimit.Limiter
	if conns.Redis != nil {
		limiter = ratelimit.NewLimiter(conns.Redis)
		log.Println("[BoardServer] submission rate limiting enabled")
	}

	server := httpapi.NewServer(board, limiter)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("[BoardServer] HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[BoardServer] failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[BoardServer] shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("[BoardServer] forced shutdown: %v", err)
	}
	log.Println("[BoardServer] exited gracefully")
}

func buildBackend(cfg *boardconfig.Config, conns *db.DB) (boardbackend.Backend, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case "memory":
		return backendmem.New(), noop, nil
	case "flatfile":
		backend, err := backendflat.Open(cfg.FlatFilePath)
		if err != nil {
			return nil, noop, err
		}
		return backend, func() { backend.Close() }, nil
	case "journal":
		inner := backendmem.New()
		backend, err := backendjournal.New(inner, cfg.JournalDirectory, backendjournal.SanityCheckAndRepairPending)
		if err != nil {
			return nil, noop, err
		}
		if cfg.MirrorJournal {
			mirror, err := journalmirror.NewMirror(context.Background())
			if err != nil {
				return nil, noop, fmt.Errorf("boardserver: initializing journal mirror: %w", err)
			}
			backend.WithMirror(mirror)
			log.Println("[BoardServer] journal mirroring to S3/MinIO enabled")
		}
		return backend, noop, nil
	case "sql":
		if conns.Postgres == nil {
			return nil, noop, errMissingDatabaseURL
		}
		return backendsql.New(conns.Postgres), noop, nil
	default:
		return nil, noop, errUnknownBackend
	}
}
