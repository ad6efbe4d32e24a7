package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/spf13/cobra"

	"github.com/scalaris-go/kvquery/cli/internal/ui"
	"github.com/scalaris-go/kvquery/query/ast"
	"github.com/scalaris-go/kvquery/query/compiler"
)

const shellHelp = `Enter a query to run it. Parameters are prompted for.
  :explain <query>  show the evaluation plan
  :stats            show execution statistics
  exit              leave the shell`

func newShellCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run queries interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.open(ctx); err != nil {
				return err
			}
			ui.PrintHeader("kvquery shell", "type exit to leave")
			for {
				var line string
				err := survey.AskOne(&survey.Input{Message: "kvquery>", Help: shellHelp}, &line)
				if errors.Is(err, terminal.InterruptErr) || errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				line = strings.TrimSpace(line)
				if line == "exit" || line == "quit" {
					return nil
				}
				if err := a.shellLine(ctx, cmd.OutOrStdout(), line); err != nil {
					ui.PrintError("%v", err)
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}
}

func (a *app) shellLine(ctx context.Context, w io.Writer, line string) error {
	switch {
	case line == "":
		return nil
	case line == ":stats":
		if a.telemetry == nil {
			return errors.New("telemetry is disabled")
		}
		s := a.telemetry.Summary()
		return ui.PrintTable(
			[]string{"executions", "failures", "acquires", "releases", "candidates", "rows"},
			[][]string{{
				fmt.Sprint(s.Executions), fmt.Sprint(s.Failures), fmt.Sprint(s.Acquires),
				fmt.Sprint(s.Releases), fmt.Sprint(s.Candidates), fmt.Sprint(s.Rows),
			}},
		)
	case strings.HasPrefix(line, ":explain"):
		q, err := a.compiler.Compile(strings.TrimSpace(strings.TrimPrefix(line, ":explain")))
		if err != nil {
			return err
		}
		return ui.PrintMarkdown(compiler.Explain(q))
	}

	q := a.newQuery(line)
	compiled, err := q.Compile(ctx)
	if err != nil {
		return err
	}
	params := map[string]any{}
	for _, name := range parameterPrompts(compiled) {
		var value string
		if err := survey.AskOne(&survey.Input{Message: promptLabel(name)}, &value); err != nil {
			return err
		}
		params[name] = parseValue(value)
	}

	results, err := q.Execute(ctx, params)
	if err != nil {
		return err
	}
	return printResults(w, results, false)
}

// parameterPrompts lists the parameters the shell asks for: named ones in
// binding order, then positional ones by first use.
func parameterPrompts(q *ast.CompiledQuery) []string {
	prompts := q.ParameterNames()
	for _, p := range q.ReferencedParameters() {
		if p.Positional {
			prompts = append(prompts, p.Name)
		}
	}
	return prompts
}

func promptLabel(name string) string {
	if isDigits(name) {
		return "?" + name
	}
	return ":" + name
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
