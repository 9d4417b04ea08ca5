package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/hubflow/internal/flows"
	"github.com/tjfontaine/hubflow/internal/runtime"
)

func registerFlowCmd(parent *cobra.Command, root *rootOptions) {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Run and inspect flows",
	}

	cmd.AddCommand(newFlowRunCmd(root))
	cmd.AddCommand(newFlowListCmd(root))

	parent.AddCommand(cmd)
}

type flowRunOptions struct {
	file string
}

type flowRunResult struct {
	RequestID         string   `json:"request_id"`
	Success           bool     `json:"success"`
	Summary           string   `json:"summary"`
	Enqueued          []string `json:"enqueued,omitempty"`
	JobErrors         any      `json:"job_errors,omitempty"`
	ParametersUpdated bool     `json:"parameters_updated,omitempty"`
	Errors            []string `json:"errors,omitempty"`
}

func newFlowRunCmd(root *rootOptions) *cobra.Command {
	opts := &flowRunOptions{}

	cmd := &cobra.Command{
		Use:   "run <flow>",
		Short: "Run a flow on a payload",
		Example: `  hubctl flow run orders --file payload.json
  cat payload.json | hubctl flow run orders -f -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd, opts.file)
			if err != nil {
				return err
			}
			env, err := flows.ParseEnvelope(data)
			if err != nil {
				return err
			}

			return withEngine(cmd, root, func(ctx context.Context, e *runtime.Engine) error {
				fc, err := e.RunFlow(ctx, args[0], env)
				if err != nil {
					return err
				}

				res := flowRunResult{
					RequestID:         fc.RequestID,
					Success:           fc.Success(),
					Enqueued:          fc.Enqueued,
					ParametersUpdated: fc.ParametersUpdated,
					Errors:            fc.Errors,
				}
				if len(fc.JobErrors) > 0 {
					res.JobErrors = fc.JobErrors
				}
				if fc.Failed() {
					res.Summary = fc.Message
				} else {
					res.Summary = fmt.Sprintf("Successfully processed %d %s", fc.ObjectCount, fc.EventType)
				}
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
				if fc.Failed() {
					return fmt.Errorf("flow %s failed: %s", args[0], fc.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Payload file, or - for stdin")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}

func newFlowListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured flows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, root, func(ctx context.Context, e *runtime.Engine) error {
				for _, name := range e.FlowNames() {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}
}
