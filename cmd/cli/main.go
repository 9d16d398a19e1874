package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"plugin-guard/internal/config"
	"plugin-guard/internal/engine"
	"plugin-guard/internal/storage"
	"plugin-guard/internal/validator"
	"plugin-guard/pkg/plugin"
)

var (
	configPath string
	verbose    bool

	expectedDigest string
	isolationLevel string
	memoryMB       uint64
	timeoutSecs    uint64
	cpuPercent     float64
	allowRead      bool
	allowWrite     bool
	allowNetwork   bool
	metricsAddr    string
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "plugin-guard",
		Short: "Validate and execute plugins in isolated sandboxes",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !verbose {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Config file path")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a plugin artifact without executing it",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().StringVar(&expectedDigest, "expect", "", "Expected SHA-512 digest")
	root.AddCommand(validateCmd)

	runCmd := &cobra.Command{
		Use:   "run [file] [args...]",
		Short: "Validate a plugin and execute it in a sandbox",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPlugin,
	}
	runCmd.Flags().StringVar(&expectedDigest, "expect", "", "Expected SHA-512 digest")
	runCmd.Flags().StringVar(&isolationLevel, "isolation", "", "Isolation level (minimal, standard, strict, maximum)")
	runCmd.Flags().Uint64Var(&memoryMB, "memory", 0, "Memory limit in MB")
	runCmd.Flags().Uint64Var(&timeoutSecs, "timeout", 0, "Execution timeout in seconds")
	runCmd.Flags().Float64Var(&cpuPercent, "cpu", 0, "CPU limit in percent")
	runCmd.Flags().BoolVar(&allowRead, "allow-read", false, "Grant file read capability")
	runCmd.Flags().BoolVar(&allowWrite, "allow-write", false, "Grant file write capability")
	runCmd.Flags().BoolVar(&allowNetwork, "allow-network", false, "Grant network capability")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	root.AddCommand(runCmd)

	trustCmd := &cobra.Command{
		Use:   "trust",
		Short: "Manage the trusted digest store",
	}
	trustCmd.AddCommand(&cobra.Command{
		Use:   "add [file]",
		Short: "Register a plugin's digest as trusted",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrustAdd,
	})
	trustCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List trusted digests",
		RunE:  runTrustList,
	})
	root.AddCommand(trustCmd)

	root.AddCommand(&cobra.Command{
		Use:   "quarantine",
		Short: "List quarantined artifacts",
		RunE:  runQuarantineList,
	})

	return root
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if _, err := os.Stat("configs/config.yaml"); err == nil {
		return config.Load("configs/config.yaml")
	}
	return config.DefaultConfig(), nil
}

func buildValidator(cfg *config.Config) (*validator.Validator, *validator.FileStore, error) {
	store, err := validator.OpenFileStore(cfg.Validator.TrustStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("opening trust store: %w", err)
	}
	quarantine, err := validator.NewQuarantine(cfg.Validator.QuarantineDir)
	if err != nil {
		return nil, nil, fmt.Errorf("preparing quarantine dir: %w", err)
	}
	return validator.New(store, quarantine), store, nil
}

func identityFor(path string) plugin.Identity {
	base := filepath.Base(path)
	return plugin.Identity{
		ID:             strings.TrimSuffix(base, filepath.Ext(base)),
		Name:           base,
		SourcePath:     path,
		ExpectedDigest: expectedDigest,
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, _, err := buildValidator(cfg)
	if err != nil {
		return err
	}

	result, err := v.Validate(identityFor(args[0]))
	if result != nil {
		if printErr := printJSON(result); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}
	if result.Status == validator.StatusQuarantined {
		return fmt.Errorf("plugin quarantined: %s", result.QuarantineReason)
	}
	return nil
}

func runPlugin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, _, err := buildValidator(cfg)
	if err != nil {
		return err
	}

	if isolationLevel != "" {
		cfg.Isolation.Level = isolationLevel
	}
	isolation, err := cfg.SandboxIsolation()
	if err != nil {
		return err
	}

	limits := cfg.Sandbox.DefaultLimits
	if memoryMB > 0 {
		limits.MaxMemoryMB = memoryMB
	}
	if timeoutSecs > 0 {
		limits.MaxExecutionSeconds = timeoutSecs
	}
	if cpuPercent > 0 {
		limits.MaxCPUPercent = cpuPercent
	}

	perms := cfg.Sandbox.DefaultPermissions
	perms.CanReadFiles = perms.CanReadFiles || allowRead
	perms.CanWriteFiles = perms.CanWriteFiles || allowWrite
	perms.CanAccessNetwork = perms.CanAccessNetwork || allowNetwork

	opts := []engine.Option{}
	var writer *storage.AuditWriter
	if cfg.Database.DSN != "" {
		db, dbErr := storage.New(cmd.Context(), cfg.Database.DSN)
		if dbErr != nil {
			log.Warn().Err(dbErr).Msg("audit database unavailable, continuing without persistence")
		} else {
			defer db.Close()
			writer = storage.NewAuditWriter(db, cfg.Database.AuditBuffer)
			writer.Start()
			defer writer.Flush(5 * time.Second)
			opts = append(opts, engine.WithSink(engine.NewAuditSink(writer)))
		}
	}

	eng, err := engine.New(v, isolation, opts...)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(eng.Metrics().Registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.Error().Err(serveErr).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	ep := &plugin.Command{Path: path, Args: args[1:]}
	// A subprocess entrypoint cannot start without the spawn capability;
	// everything else stays default-deny unless a flag granted it.
	perms.CanSpawnProcesses = true

	exec, err := eng.ExecutePlugin(cmd.Context(), identityFor(args[0]), limits, perms, ep)
	if exec != nil {
		if printErr := printJSON(exec); printErr != nil {
			return printErr
		}
	}
	if err != nil {
		return err
	}
	if out, ok := exec.Result.(string); ok && out != "" {
		fmt.Print(out)
	}
	return nil
}

func runTrustAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	v, _, err := buildValidator(cfg)
	if err != nil {
		return err
	}

	digest, err := v.Trust(identityFor(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("trusted %s %s\n", digest[:16], args[0])
	return nil
}

func runTrustList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	_, store, err := buildValidator(cfg)
	if err != nil {
		return err
	}

	entries := store.Entries()
	if len(entries) == 0 {
		fmt.Println("trust store is empty")
		return nil
	}
	for digest, name := range entries {
		fmt.Printf("%s  %s\n", digest[:16], name)
	}
	return nil
}

func runQuarantineList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	quarantine, err := validator.NewQuarantine(cfg.Validator.QuarantineDir)
	if err != nil {
		return err
	}

	files, err := quarantine.List()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("quarantine is empty")
		return nil
	}
	for _, f := range files {
		fmt.Println(f)
	}
	return nil
}
