package commands

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/scalaris-go/kvquery/cli/internal/ui"
	"github.com/scalaris-go/kvquery/query/compiler"
)

// runOptions are the flags shared by query and watch.
type runOptions struct {
	params     []string
	candidates string
	json       bool
}

func (o *runOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&o.params, "param", "p", nil, "query parameter as name=value, repeatable")
	cmd.Flags().StringVar(&o.candidates, "candidates", "", "JSON file of explicit candidates instead of a store scan")
	cmd.Flags().BoolVar(&o.json, "json", false, "print results as JSON")
}

func newQueryCommand(a *app) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "query <jdoql>",
		Short: "Execute a query and print the results",
		Example: `  kvquery query "SELECT FROM Person WHERE age > :min" -p min=18
  kvquery query "SELECT city, count(this) FROM Person GROUP BY city" --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			results, err := a.run(ctx, args[0], opts)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results, opts.json)
		},
	}
	opts.register(cmd)
	return cmd
}

// run executes text with the parameters and candidates of opts.
func (a *app) run(ctx context.Context, text string, opts *runOptions) ([]any, error) {
	params, err := parseParams(opts.params)
	if err != nil {
		return nil, err
	}
	q := a.newQuery(text)
	if opts.candidates != "" {
		records, err := readRecords(opts.candidates)
		if err != nil {
			return nil, err
		}
		cands := make([]any, len(records))
		for i, r := range records {
			cands[i] = r
		}
		q.SetCandidates(cands)
	}
	return q.Execute(ctx, params)
}

func printResults(w io.Writer, results []any, asJSON bool) error {
	if !asJSON {
		return ui.PrintResults(results)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func newExplainCommand(a *app) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "explain <jdoql>",
		Short: "Compile a query and show its evaluation plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := compiler.Compile(args[0])
			if err != nil {
				return err
			}
			plan := compiler.Explain(q)
			if raw {
				_, err := io.WriteString(cmd.OutOrStdout(), plan)
				return err
			}
			return ui.PrintMarkdown(plan)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the plan as plain markdown")
	return cmd
}
