package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/media"
	"github.com/arborhq/arbor/internal/search"
	"github.com/arborhq/arbor/internal/server"
	"github.com/arborhq/arbor/internal/tasks"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Arbor API server",
		Long:  "Start the HTTP server that exposes the user, tree and media APIs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(host, port, dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 5555, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (verbose logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(host string, port int, dev bool) error {
	logLevel := slog.LevelInfo
	if dev {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	dir := resolveDataDir()

	store, err := openAuthStore()
	if err != nil {
		return fmt.Errorf("open user database: %w", err)
	}
	defer store.Close()
	logger.Info("user database opened", "path", dir)

	authSvc := newAuthService(store)
	trees := gendb.NewRegistry(dir)
	storage := media.NewLocalStorage(filepath.Join(dir, "media"))
	indexer := search.NewIndexer(trees)

	downloadDir := filepath.Join(dir, "downloads")
	importDir := filepath.Join(dir, "imports")
	execs := newExecutors(store, trees, downloadDir)

	var (
		runner    tasks.Runner
		status    tasks.StatusReader
		faceCache media.Cache
	)
	if opt, ok := redisOpt(); ok {
		runner = tasks.NewQueuedRunner(opt)
		status = tasks.NewQueueStatusReader(opt)
		client := redis.NewClient(&redis.Options{
			Addr:     opt.Addr,
			Password: opt.Password,
			DB:       opt.DB,
		})
		faceCache = media.NewRedisCache(client, 0)
		logger.Info("task queue enabled", "redis", opt.Addr)
	} else {
		runner = tasks.NewInlineRunner(execs)
		logger.Info("no redis configured, tasks run inline")
	}

	// First-run hint: an empty user table means nobody can log in yet.
	if n, err := store.CountUsers(context.Background(), auth.UserFilter{}); err == nil && n == 0 {
		logger.Warn("no users found - run: arbor user add, or: arbor token create-owner")
	}

	cfg := server.DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.DownloadDir = downloadDir
	cfg.ImportDir = importDir
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if tree := viper.GetString("server.default_tree"); tree != "" {
		cfg.DefaultTree = tree
	}

	srv := server.New(cfg, server.Deps{
		AuthSvc: authSvc,
		Trees:   trees,
		Storage: storage,
		Faces:   media.NewFaceService(nil, faceCache),
		Indexer: indexer,
		Runner:  runner,
		Status:  status,
		Logger:  logger,
	})

	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ Health: http://%s:%d/healthz\n", host, port)

	return srv.ListenAndServe()
}
