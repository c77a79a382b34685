package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/derivata/internal/comfyui"
	"github.com/agentic-research/derivata/internal/override"
	"github.com/agentic-research/derivata/internal/request"
	"github.com/agentic-research/derivata/internal/value"
	"github.com/agentic-research/derivata/internal/workflow"
)

// bundleFlags are shared by render and queue.
type bundleFlags struct {
	workflow string
	file     string
	sets     []string
	params   []string
	positive string
	negative string
	prefix   string
}

func (f *bundleFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.workflow, "workflow", "w", "", "Name of a saved workflow")
	fl.StringVarP(&f.file, "file", "f", "", "Path to a workflow JSON file")
	fl.StringArrayVarP(&f.sets, "set", "s", nil, "Path override KEY=VALUE, e.g. 3.inputs.seed=42 (repeatable)")
	fl.StringArrayVarP(&f.params, "param", "p", nil, "Known parameter KEY=VALUE broadcast to every node that has it (repeatable)")
	fl.StringVar(&f.positive, "positive", "", "Positive prompt text")
	fl.StringVar(&f.negative, "negative", "", "Negative prompt text")
	fl.StringVar(&f.prefix, "prefix", "", "filename_prefix for file-producing nodes that lack one")
	cmd.MarkFlagsMutuallyExclusive("workflow", "file")
	cmd.MarkFlagsOneRequired("workflow", "file")
}

// bundle converts the flags into an override bundle. --param values are
// coerced the same way path overrides are.
func (f *bundleFlags) bundle(cmd *cobra.Command) (override.Bundle, error) {
	b := override.Bundle{Sets: f.sets, FilenamePrefix: f.prefix}
	params := value.NewObject()
	for _, p := range f.params {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return b, &override.Error{Kind: override.ErrMalformedOverride, Item: p, Msg: "expected KEY=VALUE"}
		}
		params.Set(k, override.Coerce(v))
	}
	if cmd.Flags().Changed("positive") {
		params.Set(override.KeyTextPositive, f.positive)
	}
	if cmd.Flags().Changed("negative") {
		params.Set(override.KeyTextNegative, f.negative)
	}
	if params.Len() > 0 {
		b.Params = params
	}
	return b, nil
}

// render loads the selected workflow and applies the bundle to it.
func (f *bundleFlags) render(cmd *cobra.Command, loader workflow.Loader) (*request.Result, error) {
	ctx := cmd.Context()
	b, err := f.bundle(cmd)
	if err != nil {
		return nil, err
	}

	var root *value.Object
	if f.file != "" {
		root, err = workflow.FileRoot(f.file)
	} else {
		root, err = loadRoot(ctx, loader, f.workflow)
	}
	if err != nil {
		return nil, err
	}

	rep, err := cfg.Engine().Apply(ctx, root, b)
	if err != nil {
		return nil, err
	}
	for _, w := range rep.Warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}
	return &request.Result{Root: root, Report: rep, Options: request.Options{Workflow: f.workflow}}, nil
}

func loadRoot(ctx context.Context, loader workflow.Loader, name string) (*value.Object, error) {
	data, err := loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return workflow.Root(data)
}

var (
	renderFlags bundleFlags
	renderGet   string
)

func init() {
	renderFlags.register(renderCmd)
	renderCmd.Flags().StringVar(&renderGet, "get", "", "Print only the value at this dotted path, e.g. prompt.3.inputs.seed")
	rootCmd.AddCommand(renderCmd)
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Apply overrides to a workflow and print the resulting prompt body",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()

		res, err := renderFlags.render(cmd, be.loader)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		out := any(res.Root)
		if renderGet != "" {
			v, ok := override.GetPath(res.Root, strings.Split(renderGet, "."))
			if !ok {
				return fmt.Errorf("path %q not found", renderGet)
			}
			if s, ok := v.(string); ok {
				_, err := fmt.Fprintln(w, s)
				return err
			}
			out = v
		}
		data, err := value.MarshalIndent(out)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	},
}

var (
	queueFlags bundleFlags
	queueWatch bool
)

func init() {
	queueFlags.register(queueCmd)
	queueCmd.Flags().BoolVar(&queueWatch, "watch", false, "Wait for the prompt to finish and print its output files")
	rootCmd.AddCommand(queueCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Apply overrides to a workflow and queue it on ComfyUI",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		be, err := openBackends()
		if err != nil {
			return err
		}
		defer be.Close()

		res, err := queueFlags.render(cmd, be.loader)
		if err != nil {
			return err
		}

		sub, err := be.submitter().SubmitResult(cmd.Context(), res, queueWatch, printProgress)
		if sub != nil {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "prompt_id: %s\n", sub.Queue.PromptID)
			fmt.Fprintf(w, "client_id: %s\n", sub.Queue.ClientID)
			for _, f := range sub.Files {
				fmt.Fprintln(w, f)
			}
		}
		if errors.Is(err, comfyui.ErrExecution) {
			return fmt.Errorf("prompt failed: %w", err)
		}
		return err
	},
}

func printProgress(ev comfyui.Event) error {
	switch ev.Type {
	case "progress":
		fmt.Fprintf(os.Stderr, "progress %d/%d\n", ev.Value, ev.Max)
	case "executing":
		if ev.Node != "" {
			fmt.Fprintf(os.Stderr, "executing node %s\n", ev.Node)
		}
	}
	return nil
}
