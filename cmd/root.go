package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentic-research/derivata/internal/comfyui"
	"github.com/agentic-research/derivata/internal/config"
	"github.com/agentic-research/derivata/internal/ctxlog"
	"github.com/agentic-research/derivata/internal/request"
	"github.com/agentic-research/derivata/internal/store"
	"github.com/agentic-research/derivata/internal/workflow"
)

var (
	configPath string
	comfyURL   string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an HCL config file (default ./"+config.DefaultFile+" if present)")
	rootCmd.PersistentFlags().StringVar(&comfyURL, "comfyui-url", "", "ComfyUI base URL (overrides "+config.EnvComfyUIURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")
}

var rootCmd = &cobra.Command{
	Use:           "derivata",
	Short:         "Derivata: override and queue ComfyUI workflows",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("comfyui-url") {
			c.ComfyUIURL = comfyURL
		}
		if cmd.Flags().Changed("log-level") {
			if _, err := ctxlog.ParseLevel(logLevel); err != nil {
				return &config.Error{Key: "log-level", Value: logLevel, Source: "flag", Err: err}
			}
			c.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			c.LogFormat = logFormat
		}
		cfg = c
		logger = ctxlog.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
		if cfg.File != "" {
			logger.Debug("Loaded config file.", "path", cfg.File)
		}
		return nil
	},
}

// backends holds what most commands share: the workflow sources, the
// optional submission store and the ComfyUI client.
type backends struct {
	loader workflow.Loader
	saver  workflow.Saver
	store  *store.Store
	comfy  *comfyui.Client
}

// openBackends builds the workflow chain. Saved workflows live in the
// database when one is configured and in PROMPTS_DIR otherwise.
func openBackends() (*backends, error) {
	dir := workflow.OpenDir(cfg.PromptsDir)
	b := &backends{
		loader: dir,
		saver:  dir,
		comfy:  comfyui.New(cfg.ComfyUIURL),
	}
	if cfg.DBPath == "" {
		return b, nil
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	b.store = st
	b.loader = workflow.Chain{st, dir}
	b.saver = st
	return b, nil
}

func (b *backends) Close() {
	if b.store == nil {
		return
	}
	if err := b.store.Close(); err != nil {
		logger.Warn("Failed to close database.", "error", err)
	}
}

func (b *backends) submitter() *request.Submitter {
	return &request.Submitter{
		Renderer: &request.Renderer{Engine: cfg.Engine(), Loader: b.loader},
		Comfy:    b.comfy,
		Store:    b.store,
	}
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var ce *config.Error
		if errors.As(err, &ce) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
