package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/soham407/sqlquest/internal/lesson"
)

func newLessonsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lessons",
		Aliases: []string{"lesson"},
		Short:   "Browse and check the SQL lessons",
	}
	cmd.AddCommand(newLessonsListCmd(a), newLessonsShowCmd(a), newLessonsCheckCmd(a))
	return cmd
}

func newLessonsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List lessons in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.catalog()
			if err != nil {
				return err
			}
			lessons, err := c.List(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.renderer.Format == "json" {
				return writeJSON(w, lessons)
			}
			t := table.NewWriter()
			t.SetOutputMirror(w)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "ID", "Title", "Difficulty", "Minutes"})
			for _, l := range lessons {
				t.AppendRow(table.Row{l.Order, l.ID, l.Title, l.Difficulty, l.EstimatedTime})
			}
			switch a.renderer.Format {
			case "csv":
				t.RenderCSV()
			case "markdown":
				t.RenderMarkdown()
			default:
				t.Render()
			}
			return nil
		},
	}
}

func newLessonsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Print a lesson",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.catalog()
			if err != nil {
				return err
			}
			l, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.renderer.Format == "json" {
				return writeJSON(w, l)
			}
			printLesson(w, l)
			return nil
		},
	}
}

func printLesson(w io.Writer, l lesson.Lesson) {
	fmt.Fprintf(w, "%s\n%s\n\n", l.Title, strings.Repeat("=", len(l.Title)))
	fmt.Fprintf(w, "%s · %s · about %d min\n\n", l.Difficulty, l.Category, l.EstimatedTime)
	fmt.Fprintln(w, strings.TrimSpace(l.Content))
	if len(l.Hints) > 0 {
		fmt.Fprintln(w, "\nHints:")
		for i, h := range l.Hints {
			fmt.Fprintf(w, "  %d. %s\n", i+1, h)
		}
	}
	fmt.Fprintf(w, "\nCheck your answer with: sqlquest lessons check %s \"SELECT ...\"\n", l.ID)
}

func newLessonsCheckCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "check ID [SQL...]",
		Short: "Grade an answer to a lesson",
		Long: `Run an answer on a fresh sample database and compare its result with the
lesson's expected result. Only the result counts, not how the query is
written. Exits non-zero when the answer is wrong.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.catalog()
			if err != nil {
				return err
			}
			l, err := c.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sql, err := readSQL(cmd.InOrStdin(), file, args[1:])
			if err != nil {
				return err
			}

			sb := a.newSandbox()
			defer sb.Close()
			g := lesson.NewGrader(a.sandboxOptions()...)
			v := g.Check(cmd.Context(), sb, l, sql)

			w := cmd.OutOrStdout()
			if a.renderer.Format == "json" {
				if err := writeJSON(w, v); err != nil {
					return err
				}
			} else {
				if err := a.renderer.Result(w, v.Result); err != nil {
					return err
				}
				if v.Passed {
					fmt.Fprintln(w, a.renderer.Styles.OK.Render("Correct!"))
				} else {
					fmt.Fprintln(w, a.renderer.Styles.Error.Render("Not quite: "+v.Reason))
				}
			}
			if !v.Passed {
				return ErrQueryFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `read the answer from a file ("-" for stdin)`)
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
