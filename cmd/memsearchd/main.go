package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/memsearchd/internal/config"
	"github.com/standardbeagle/memsearchd/internal/debug"
	mserrors "github.com/standardbeagle/memsearchd/internal/errors"
	"github.com/standardbeagle/memsearchd/internal/server"
	"github.com/standardbeagle/memsearchd/internal/version"
)

// loadConfigWithOverrides loads the YAML config (if any) and layers the
// run command's flags on top of it, following the teacher's own
// config-then-flag-overrides resolution order.
func loadConfigWithOverrides(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadFile(c.String("config"))
	if err != nil {
		return nil, mserrors.NewServerError("load_config", err)
	}

	if v := c.String("request-socket"); v != "" {
		cfg.RequestSocketPath = v
	}
	if v := c.String("response-prefix"); v != "" {
		cfg.ResponsePrefix = v
	}
	if v := c.Int("workers"); v > 0 {
		cfg.Workers = v
	}
	if v := c.Int64("max-file-bytes"); v > 0 {
		cfg.MaxFileBytes = v
	}
	if v := c.Int("max-query-matches"); v > 0 {
		cfg.MaxQueryMatches = v
	}
	if v := c.Int64("max-output-bytes"); v > 0 {
		cfg.MaxQueryBytes = v
	}
	if v := c.Int64("max-query-bytes"); v > 0 {
		cfg.MaxQueryBytes = v
	}
	if v := c.Int("query-timeout"); v > 0 {
		cfg.QueryTimeoutSec = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, mserrors.NewServerError("validate_config", err)
	}
	return cfg, nil
}

func runCommand(c *cli.Context) error {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return err
	}

	debug.SetLevel(debug.ParseLevel(cfg.LogLevel))

	srv := server.New(cfg)
	if err := srv.Start(); err != nil {
		return mserrors.NewServerError("start", err)
	}

	debug.Infof("main", "memsearchd %s (build %s) started (request socket %s)", version.Version, version.BuildID(), cfg.RequestSocketPath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	usr1Chan := make(chan os.Signal, 1)
	signal.Notify(usr1Chan, syscall.SIGUSR1)
	go watchForDump(usr1Chan, srv)

	sig := <-sigChan
	debug.Infof("main", "received signal %v, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return mserrors.NewServerError("shutdown", err)
	}

	debug.Infof("main", "memsearchd shut down cleanly")
	return nil
}

// watchForDump logs a snapshot of the current TenantTable on every
// SIGUSR1, for operators tailing stderr/journalctl. It never touches the
// wire protocol and never changes client-visible behavior.
func watchForDump(ch <-chan os.Signal, srv *server.Server) {
	for range ch {
		snaps := srv.Tenants().Dump()
		debug.Infof("tenant", "dump: %d tenant(s), build %s", len(snaps), version.BuildID())
		for _, s := range snaps {
			debug.Infof("tenant", "pid=%d root=%s files=%d bytes=%d fingerprint=%016x age=%s",
				s.Pid, s.Root, s.FileCount, s.TotalBytes, s.Fingerprint, s.Age.Round(time.Second))
		}
	}
}

func versionCommand(c *cli.Context) error {
	fmt.Println(version.FullInfo())
	return nil
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Optional YAML config file path"},
		&cli.StringFlag{Name: "request-socket", Usage: "Request socket path (default " + config.DefaultRequestSocketPath + ")"},
		&cli.StringFlag{Name: "response-prefix", Usage: "Response socket filename prefix (default " + config.DefaultResponsePrefix + ")"},
		&cli.IntFlag{Name: "workers", Usage: "Worker pool size (default hardware parallelism)"},
		&cli.Int64Flag{Name: "max-file-bytes", Usage: "Per-file mapping size ceiling in bytes"},
		&cli.Int64Flag{Name: "max-output-bytes", Usage: "Per-query output byte ceiling (alias of --max-query-bytes)"},
		&cli.Int64Flag{Name: "max-query-bytes", Usage: "Per-query output byte ceiling"},
		&cli.IntFlag{Name: "max-query-matches", Usage: "Per-query match count ceiling"},
		&cli.IntFlag{Name: "query-timeout", Usage: "Per-query wall-clock deadline in seconds"},
		&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error"},
	}
}

func main() {
	app := &cli.App{
		Name:    "memsearchd",
		Usage:   "in-memory, mmap-backed multi-tenant code search daemon",
		Version: version.Version,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the daemon",
				Flags:  runFlags(),
				Action: runCommand,
			},
			{
				Name:   "version",
				Usage:  "print build version",
				Action: versionCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
