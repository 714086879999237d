package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"registro-pacientes/internal/calendar"
	"registro-pacientes/internal/client"
	"registro-pacientes/internal/summary"

	"github.com/spf13/cobra"
)

func exportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the full tracker document",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Export(cmd.Context())
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, data)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	return cmd
}

func importCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Replace the tracker state with a previously exported document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			res, err := opts.client().Import(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d CAIT and %d private patients\n", res.ClinicPatients, res.PrivatePatients)
			return nil
		},
	}
}

func reportCmd(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Download the Excel summary workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.client().Report(cmd.Context())
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, data)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "registro-pacientes.xlsx", "Output file")
	return cmd
}

func summaryCmd(opts *rootOptions) *cobra.Command {
	var (
		q      client.SummaryQuery
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show the follow-up summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := opts.client().Summary(cmd.Context(), q)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			printSummary(cmd.OutOrStdout(), sum)
			return nil
		},
	}
	cmd.Flags().StringVarP(&q.Query, "q", "q", "", "Filter by patient name")
	cmd.Flags().StringVar(&q.Cohort, "cohort", "", "Filter by cohort (cait, private)")
	cmd.Flags().StringVar(&q.Status, "status", "", "Filter by patient status (overdue, this_month, up_to_date)")
	cmd.Flags().StringSliceVar(&q.Buckets, "bucket", nil, "Filter by due bucket (overdue, due_today, due_soon, ok, unknown)")
	cmd.Flags().StringVar(&q.Month, "month", "", "Evaluation month (YYYY-MM)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(stdout, "Wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func printSummary(w io.Writer, sum *summary.Summary) {
	fmt.Fprintf(w, "Hoy: %s   Mes: %s\n", sum.Today.FormatDMY(), sum.Month)
	fmt.Fprintf(w, "CAIT: %d   Privado: %d   Atrasados: %d   Próximos: %d   Sesiones pendientes: %d\n",
		sum.Stats.ClinicPatients, sum.Stats.PrivatePatients, sum.Stats.Overdue, sum.Stats.Upcoming, sum.Stats.PendingSessions)
	fmt.Fprintln(w, strings.Repeat("=", 72))

	fmt.Fprintln(w, "\nVencimientos:")
	if len(sum.Due) == 0 {
		fmt.Fprintln(w, "  (ninguno)")
	}
	for _, item := range sum.Due {
		fmt.Fprintf(w, "  %-10s  %-8s  %-6s  %-8s  %s\n",
			calendar.FormatDMYPtr(item.Due), item.Status.Label(), item.Kind, item.Cohort.Label(), item.PatientName)
	}

	if len(sum.NoDate) > 0 {
		fmt.Fprintln(w, "\nSin fecha:")
		for _, item := range sum.NoDate {
			fmt.Fprintf(w, "  %-6s  %s\n", item.Kind, item.PatientName)
		}
	}

	if len(sum.PrivatePending) > 0 {
		fmt.Fprintln(w, "\nRecuperaciones pendientes:")
		for _, row := range sum.PrivatePending {
			fmt.Fprintf(w, "  %-24s  %3d  %s\n", row.Name, row.Pending, row.Detail)
		}
	}
}
