package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/hubflow/internal/core/domain"
	"github.com/tjfontaine/hubflow/internal/runtime"
)

func registerConnectionsCmd(parent *cobra.Command, root *rootOptions) {
	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conn"},
		Short:   "Manage hub connections",
	}

	cmd.AddCommand(newConnectionsAddCmd(root))
	cmd.AddCommand(newConnectionsListCmd(root))
	cmd.AddCommand(newConnectionsShowCmd(root))

	parent.AddCommand(cmd)
}

type connectionsAddOptions struct {
	name       string
	url        string
	key        string
	token      string
	parameters string
}

func newConnectionsAddCmd(root *rootOptions) *cobra.Command {
	opts := &connectionsAddOptions{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a connection",
		Example: `  hubctl connections add -n store --url store.example.com/hub \
    --token secret --parameters '{"store_id":"42"}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := opts.connection()
			if err != nil {
				return err
			}
			return withEngine(cmd, root, func(ctx context.Context, e *runtime.Engine) error {
				if err := e.Store().CreateConnection(ctx, conn); err != nil {
					return fmt.Errorf("add connection: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Connection %s added (id %d)\n", conn.Name, conn.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&opts.name, "name", "n", "", "Connection name")
	cmd.Flags().StringVar(&opts.url, "url", "", "Host and base path, without scheme")
	cmd.Flags().StringVar(&opts.key, "key", "", "Connection key")
	cmd.Flags().StringVar(&opts.token, "token", "", "Token sent with every delivery")
	cmd.Flags().StringVarP(&opts.parameters, "parameters", "p", "", "Parameters as a JSON object")

	return cmd
}

func (o *connectionsAddOptions) connection() (*domain.Connection, error) {
	if o.name == "" {
		return nil, fmt.Errorf("--name is required")
	}
	if o.url == "" {
		return nil, fmt.Errorf("--url is required")
	}

	conn := &domain.Connection{Name: o.name, URL: o.url, Key: o.key, Token: o.token}
	if o.parameters != "" {
		if err := json.Unmarshal([]byte(o.parameters), &conn.Parameters); err != nil {
			return nil, fmt.Errorf("--parameters must be a JSON object: %w", err)
		}
	}
	return conn, nil
}

type connectionsListOptions struct {
	output string
}

func newConnectionsListCmd(root *rootOptions) *cobra.Command {
	opts := &connectionsListOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List connections",
		Example: `  hubctl connections list
  hubctl connections list -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, root, func(ctx context.Context, e *runtime.Engine) error {
				conns, err := e.Store().ListConnections(ctx)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return writeJSON(cmd, conns)
				}
				if len(conns) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No connections defined.")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tURL\tPARAMETERS\tVERSION")
				for _, c := range conns {
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", c.Name, c.URL, len(c.Parameters), c.LockVersion)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")

	return cmd
}

func newConnectionsShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show a connection as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, root, func(ctx context.Context, e *runtime.Engine) error {
				conn, err := e.Store().GetConnection(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd, conn)
			})
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
