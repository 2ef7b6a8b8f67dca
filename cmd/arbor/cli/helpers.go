package cli

import (
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"github.com/spf13/viper"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/email"
	"github.com/arborhq/arbor/internal/export"
	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/search"
	"github.com/arborhq/arbor/internal/tasks"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// the ARBOR_DATA_DIR env var, or ~/.arbor as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("ARBOR_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".arbor")
}

// openAuthStore opens the user database. An auth.db DSN in the config
// selects a PostgreSQL or MySQL backend; otherwise a SQLite file under the
// data directory is used, creating the directory on first use.
func openAuthStore() (*auth.Store, error) {
	if dsn := viper.GetString("auth.db"); dsn != "" {
		return auth.NewStore(dsn)
	}
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dsn := filepath.Join(dir, "auth.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	return auth.NewStore(dsn)
}

func newAuthService(store *auth.Store) *auth.Service {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		secret = "arbor-dev-secret-change-me"
	}
	return auth.NewService(store, secret, viper.GetDuration("auth.session_ttl"))
}

// redisOpt reads the queue backend address from the config. The second
// return value is false when no redis is configured, in which case tasks
// run inline in the API process.
func redisOpt() (asynq.RedisClientOpt, bool) {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		return asynq.RedisClientOpt{}, false
	}
	return asynq.RedisClientOpt{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	}, true
}

// newExecutors builds the shared task executor registry used by both the
// inline runner and the queue worker.
func newExecutors(store *auth.Store, trees *gendb.Registry, downloadDir string) tasks.Executors {
	mail := email.NewService(store, email.NewSMTPSender(store))
	indexer := search.NewIndexer(trees)
	exporter := export.NewExporter(trees, downloadDir)
	return tasks.NewExecutors(mail, indexer, exporter, trees)
}
