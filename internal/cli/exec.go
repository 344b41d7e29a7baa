package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newExecCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "exec [SQL...]",
		Short: "Run SQL against a fresh sample database",
		Long: `Run one batch of SQL statements against a freshly seeded database and
print the first result set. The SQL comes from the arguments, from --file,
or from standard input when neither is given.`,
		Example: `  sqlquest exec "SELECT * FROM employees WHERE salary > 72000"
  sqlquest exec -f query.sql -o json
  echo "SELECT COUNT(*) FROM departments;" | sqlquest exec`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := readSQL(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			sb := a.newSandbox()
			defer sb.Close()

			res := sb.Execute(cmd.Context(), sql)
			if err := a.renderer.Result(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return ErrQueryFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", `read SQL from a file ("-" for stdin)`)
	return cmd
}

// readSQL picks the SQL source: arguments, then file, then stdin.
func readSQL(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case len(args) > 0 && file != "":
		return "", errors.New("give SQL as arguments or with --file, not both")
	case len(args) > 0:
		return strings.Join(args, " "), nil
	case file != "" && file != "-":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}
