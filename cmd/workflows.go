package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/derivata/internal/graph"
	"github.com/agentic-research/derivata/internal/value"
)

func init() {
	workflowsCmd.AddCommand(workflowsListCmd, workflowsAddCmd, workflowsRmCmd)
	rootCmd.AddCommand(workflowsCmd, envCmd)
}

var workflowsCmd = &cobra.Command{
	Use:   "workflows",
	Short: "Manage saved workflows",
}

var workflowsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved workflow names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()

		names, err := be.loader.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

var workflowsAddCmd = &cobra.Command{
	Use:   "add NAME FILE",
	Short: "Save a workflow JSON file under NAME",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := args[0], args[1]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read workflow file: %w", err)
		}
		obj, err := value.ParseObject(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		nodes, _, err := graph.Unwrap(obj)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if !graph.LooksLikeGraph(nodes) {
			logger.Warn("File does not look like an API-format prompt graph.", "path", path)
		}

		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()
		if err := be.saver.SaveWorkflow(cmd.Context(), name, data); err != nil {
			return err
		}
		logger.Info("Saved workflow.", "name", name)
		return nil
	},
}

var workflowsRmCmd = &cobra.Command{
	Use:   "rm NAME",
	Short: "Delete a workflow saved in the database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()
		if be.store == nil {
			return fmt.Errorf("workflows rm only applies to the database; remove the file from %s instead", cfg.PromptsDir)
		}
		return be.store.DeleteWorkflow(cmd.Context(), args[0])
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Print(cmd.OutOrStdout())
	},
}
