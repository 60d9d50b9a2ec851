// Package boardconfig loads process configuration from the environment.
package boardconfig

import "os"

// Config holds every environment-tunable knob the board server reads at
// startup.
type Config struct {
	Port string

	// Backend selects storage: "memory", "flatfile", "journal", or
	// "sql".
	Backend string

	// FlatFilePath is the journal file used by the "flatfile" backend.
	FlatFilePath string

	// JournalDirectory is where the "journal" backend keeps its
	// per-root CSV files and pending.csv.
	JournalDirectory string

	// DatabaseURL is the PostgreSQL connection string used by the
	// "sql" backend.
	DatabaseURL string

	// RedisURL, if set, enables submission rate limiting.
	RedisURL string

	// SigningEnabled reports whether BOARD_SIGNING_KEY, the variable
	// treehead.NewSignerFromEnv reads, is set to a non-empty value.
	SigningEnabled bool

	// MirrorJournal enables uploading every rotated journal file to
	// S3/MinIO via internal/journalmirror. Only meaningful with the
	// "journal" backend.
	MirrorJournal bool
}

// Load reads Config from the environment, applying the same defaults a
// local developer would expect.
func Load() *Config {
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Backend:          getEnv("BOARD_BACKEND", "memory"),
		FlatFilePath:     getEnv("BOARD_FLATFILE_PATH", "board.csv"),
		JournalDirectory: getEnv("BOARD_JOURNAL_DIR", "journal"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SigningEnabled:   os.Getenv("BOARD_SIGNING_KEY") != "",
		MirrorJournal:    os.Getenv("BOARD_MIRROR_JOURNAL") == "true",
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
