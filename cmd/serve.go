package cmd

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/agentic-research/derivata/internal/mcptools"
	"github.com/agentic-research/derivata/internal/server"
)

var (
	serveHost string
	servePort string
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides API_HOST)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Listen port (overrides API_PORT)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API in front of ComfyUI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("host") {
			cfg.APIHost = serveHost
		}
		if cmd.Flags().Changed("port") {
			if err := cfg.SetPort(servePort, "flag"); err != nil {
				return err
			}
		}

		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()

		srv := &server.Server{
			Submitter: be.submitter(),
			Workflows: be.loader,
			Saver:     be.saver,
			Logger:    logger,
		}
		logger.Info("Forwarding to ComfyUI.", "url", cfg.ComfyUIURL, "prompts_dir", cfg.PromptsDir)
		err = srv.ListenAndServe(cmd.Context(), cfg.Addr())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the workflow tools over MCP on stdin/stdout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()

		return mcptools.Serve(cmd.Context(), &mcptools.Tools{
			Submitter: be.submitter(),
			Workflows: be.loader,
			Logger:    logger,
		}, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}
