package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/tasks"
)

func newWorkerCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Start a task queue worker",
		Long: `Start a worker process that consumes queued tasks from redis.

The worker shares the data directory with the API server so that imports,
exports and search reindexing operate on the same tree databases. Running
a worker only makes sense when redis.addr is configured; without it the
API server executes tasks inline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(concurrency)
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "Number of tasks processed in parallel")
	viper.BindPFlag("worker.concurrency", cmd.Flags().Lookup("concurrency"))

	return cmd
}

func runWorker(concurrency int) error {
	opt, ok := redisOpt()
	if !ok {
		return fmt.Errorf("redis.addr is not configured; the worker needs a queue backend")
	}

	store, err := openAuthStore()
	if err != nil {
		return fmt.Errorf("open user database: %w", err)
	}
	defer store.Close()

	dir := resolveDataDir()
	trees := gendb.NewRegistry(dir)
	defer trees.CloseAll()

	execs := newExecutors(store, trees, filepath.Join(dir, "downloads"))

	fmt.Printf("→ Worker consuming from %s (concurrency %d)\n", opt.Addr, concurrency)

	srv := tasks.NewServer(opt, concurrency)
	return srv.Run(tasks.NewMux(execs))
}
