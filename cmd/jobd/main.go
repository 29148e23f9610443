// Command jobd runs the job scheduler daemon: cron-driven script
// executions with a persistent run ledger and an HTTP control API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openetl/jobd/config"
	"github.com/openetl/jobd/db"
	"github.com/openetl/jobd/executor"
	"github.com/openetl/jobd/job"
	"github.com/openetl/jobd/kill"
	"github.com/openetl/jobd/logger"
	"github.com/openetl/jobd/run"
	"github.com/openetl/jobd/sched"
	"github.com/openetl/jobd/scriptwatch"
	"github.com/openetl/jobd/server"
)

var rootCmd = &cobra.Command{
	Use:   "jobd",
	Short: "jobd - cron job scheduler with subprocess execution",
	Long: `jobd schedules recurring jobs by cron expression and runs each
execution as an isolated OS process, recording every run in a SQLite
ledger.

Examples:
  jobd serve                        # Start the daemon on the default port
  jobd serve --listen :8080         # Custom listen address
  JOBD_SCRIPTS_DIR=/etl jobd serve  # Configure via environment`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler daemon and HTTP API",
	RunE:  runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("db", "", "Path to the SQLite database file")
	flags.String("listen", "", "HTTP listen address")
	flags.String("scripts-dir", "", "Directory holding job scripts")
	flags.String("interpreter", "", "Interpreter used to run job scripts")
	flags.Duration("exec-timeout", 0, "Wall-clock ceiling per execution")
	flags.Bool("json-logs", false, "Emit JSON log output")
	flags.Bool("debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)
	v.SetEnvPrefix("JOBD")
	v.AutomaticEnv()

	bindFlag(v, "database_path", cmd, "db")
	bindFlag(v, "listen_addr", cmd, "listen")
	bindFlag(v, "scripts_dir", cmd, "scripts-dir")
	bindFlag(v, "interpreter", cmd, "interpreter")
	bindFlag(v, "exec_timeout", cmd, "exec-timeout")
	bindFlag(v, "json_logs", cmd, "json-logs")
	bindFlag(v, "debug", cmd, "debug")

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	if err := logger.Initialize(cfg.JSONLogs, cfg.Debug); err != nil {
		return err
	}
	log := logger.Logger

	conn, err := db.Open(cfg.DatabasePath, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := db.Migrate(conn, log); err != nil {
		return err
	}

	jobs := job.NewStore(conn)
	runs := run.NewStore(conn)

	engine := executor.New(jobs, runs, executor.Options{
		ScriptsDir:  cfg.ScriptsDir,
		Interpreter: cfg.Interpreter,
		Timeout:     cfg.ExecTimeout,
		KillGrace:   cfg.KillGrace,
	}, log)
	scheduler := sched.New(jobs, engine, log)
	engine.SetNextRunSource(scheduler)

	coordinator := kill.New(scheduler, runs, engine.Registry(), kill.Options{
		Interpreter: cfg.Interpreter,
		ScriptsDir:  cfg.ScriptsDir,
	}, log)

	scheduler.Start()
	defer scheduler.Stop()
	if err := scheduler.LoadAll(); err != nil {
		return err
	}

	watcher, err := scriptwatch.New(cfg.ScriptsDir, jobs, log)
	if err != nil {
		log.Warnw("Script watching unavailable", "error", err)
	} else if err := watcher.Start(); err != nil {
		log.Warnw("Script watching unavailable", "dir", cfg.ScriptsDir, "error", err)
	} else {
		defer watcher.Stop()
	}

	srv := server.New(cfg.ListenAddr, jobs, runs, scheduler, engine, coordinator, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Infow("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// bindFlag overlays a CLI flag onto its config key when the flag was set.
func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, flag string) {
	if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
		_ = v.BindPFlag(key, f)
	}
}
