package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/embedbot/widgetcore/internal/api"
	"github.com/embedbot/widgetcore/internal/store"
	"github.com/embedbot/widgetcore/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for widget service state data
	DefaultStateDir = "/var/lib/widgetcore"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "widgetcore.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	st, err := buildStore(flags)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping widget service")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "chat_api_set", *flags.chatAPIURL != "")
	if err := api.Run(st, apiOpts...); err != nil {
		slog.Error("Widget service failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Widget service exited successfully")
}

// Config holds environment configuration
type Config struct {
	DbDriver    string
	DatabaseURL string
	RedisURL    string
	StateDir    string
	APIAddr     string
	ChatAPIURL  string
}

// Flags holds command line flag values
type Flags struct {
	stateDir   *string
	dbDriver   *string
	dbDSN      *string
	redisURL   *string
	apiAddr    *string
	chatAPIURL *string
}

// initializeLogger sets up structured logging; WIDGETCORE_DEBUG=false drops
// the level to info.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("WIDGETCORE_DEBUG", true) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DbDriver:    os.Getenv("WIDGETCORE_DB_DRIVER"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		StateDir:    os.Getenv("WIDGETCORE_STATE_DIR"),
		APIAddr:     os.Getenv("API_ADDR"),
		ChatAPIURL:  os.Getenv("CHAT_API_URL"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No WIDGETCORE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"WIDGETCORE_DB_DRIVER", config.DbDriver,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_URL_SET", config.RedisURL != "",
		"WIDGETCORE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"CHAT_API_URL_SET", config.ChatAPIURL != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for widget service data (overrides $WIDGETCORE_STATE_DIR)"),
		dbDriver:   flag.String("db-driver", config.DbDriver, "database driver: sqlite3 or postgres (overrides $WIDGETCORE_DB_DRIVER)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the session store (overrides $DATABASE_URL)"),
		redisURL:   flag.String("redis-url", config.RedisURL, "Redis URL for the session store (overrides $REDIS_URL)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		chatAPIURL: flag.String("chat-api-url", config.ChatAPIURL, "default backend base URL for widgets (overrides $CHAT_API_URL)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDriver", *flags.dbDriver,
		"dbDSN_set", *flags.dbDSN != "",
		"redisURL_set", *flags.redisURL != "",
		"apiAddr", *flags.apiAddr,
		"chatAPIURL_set", *flags.chatAPIURL != "")

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if *flags.redisURL != "" {
		return nil
	}
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore selects and constructs the session store: Redis when a Redis URL
// is configured, then Postgres when the DSN looks like one, else SQLite.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.redisURL != "" {
		slog.Debug("Configuring Redis store", "redisURL_set", true)
		return store.NewRedisStore(store.WithDSN(*flags.redisURL))
	}
	if isPostgresDSN(*flags.dbDSN) || *flags.dbDriver == "postgres" {
		slog.Debug("Configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// isPostgresDSN reports whether the DSN looks like a PostgreSQL connection string.
func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.chatAPIURL != "" {
		apiOpts = append(apiOpts, api.WithChatAPIBaseURL(*flags.chatAPIURL))
	}
	return apiOpts
}
