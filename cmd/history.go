package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/derivata/internal/comfyui"
	"github.com/agentic-research/derivata/internal/config"
	"github.com/agentic-research/derivata/internal/history"
)

var (
	historyPromptID string
	historyJSON     bool
	modelsJSON      bool
	submissionLimit int
)

func init() {
	historyCmd.Flags().StringVar(&historyPromptID, "prompt-id", "", "List the output files of this prompt")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print ComfyUI's history document")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Print the raw listing")
	submissionsCmd.Flags().IntVarP(&submissionLimit, "limit", "n", 20, "Maximum number of submissions to show (0 for all)")
	rootCmd.AddCommand(historyCmd, modelsCmd, submissionsCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List prompt ids in ComfyUI's history, or the files one prompt produced",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := comfyui.New(cfg.ComfyUIURL).History(cmd.Context())
		if err != nil {
			return err
		}
		if historyJSON {
			fmt.Println(string(raw))
			return nil
		}
		doc, err := history.Parse(raw)
		if err != nil {
			return err
		}
		if historyPromptID != "" {
			fmt.Print(history.Lines(history.Filenames(doc, historyPromptID)))
			return nil
		}
		fmt.Print(history.Lines(history.PromptIDs(doc)))
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models [category]",
	Short: "List model categories, or the models in one category",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := comfyui.New(cfg.ComfyUIURL)
		fetch := c.ModelCategories
		if len(args) == 1 {
			fetch = func(ctx context.Context) ([]byte, error) { return c.Models(ctx, args[0]) }
		}
		raw, err := fetch(cmd.Context())
		if err != nil {
			return err
		}
		if modelsJSON {
			fmt.Println(string(raw))
			return nil
		}
		doc, err := history.Parse(raw)
		if err != nil {
			return err
		}
		fmt.Print(history.Lines(history.ModelNames(doc)))
		return nil
	},
}

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "List prompts queued through derivata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()
		if be.store == nil {
			return fmt.Errorf("no database configured (set %s)", config.EnvDB)
		}

		subs, err := be.store.Submissions(cmd.Context(), submissionLimit)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tPROMPT ID\tWORKFLOW\tCLIENT ID")
		for _, s := range subs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.CreatedAt.Local().Format(time.DateTime), s.PromptID, s.Workflow, s.ClientID)
		}
		return tw.Flush()
	},
}
