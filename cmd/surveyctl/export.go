package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/survey-access/internal/service"
)

var flagOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every survey response as CSV",
	Long: `Writes the same CSV document the admin dashboard downloads. Without
--out the document goes to standard output.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		surveys, err := db.Surveys().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing surveys: %w", err)
		}

		var out io.Writer = cmd.OutOrStdout()
		if flagOut != "" {
			f, err := os.Create(flagOut)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}

		if err := service.WriteCSV(out, surveys); err != nil {
			return fmt.Errorf("writing csv: %w", err)
		}
		if flagOut != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d responses to %s\n", len(surveys), flagOut)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}
