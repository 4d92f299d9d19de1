package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/valter-silva-au/oura-analytics/internal/core"
	"github.com/valter-silva-au/oura-analytics/pkg/models"
)

var (
	exportFormat     string
	exportEndpoint   string
	exportEventsOnly bool
	exportOut        string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export cached records and events",
	Long: `Export the cache as json (one document), archive (tar.gz with one JSON
file per endpoint, events.jsonl and manifest.json), tabular (CSV) or line
(InfluxDB line protocol).

With no selector every endpoint and the event log are exported. --endpoint
limits the export to one endpoint; --events-only exports only the event log.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if Exporter == nil {
			return fmt.Errorf("exporter not initialized")
		}
		format, err := core.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		ep, err := endpointFlag(exportEndpoint)
		if err != nil {
			return err
		}
		if ep != nil && exportEventsOnly {
			return fmt.Errorf("--endpoint and --events-only are mutually exclusive")
		}
		sel := core.Selector{EventsOnly: exportEventsOnly}
		if ep != nil {
			sel.Endpoints = []models.Endpoint{*ep}
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return fmt.Errorf("creating %s: %w", exportOut, err)
			}
			defer f.Close()
			w = f
		}

		manifest, err := Exporter.Export(ctxOf(cmd), w, sel, format)
		if err != nil {
			return err
		}
		if exportOut != "" {
			total := 0
			for _, n := range manifest.Records {
				total += n
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records and %d events to %s (%s)\n",
				total, manifest.Events, exportOut, manifest.Format)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "json", "Output format: json, archive, tabular or line")
	exportCmd.Flags().StringVar(&exportEndpoint, "endpoint", "", "Export only this endpoint")
	exportCmd.Flags().BoolVar(&exportEventsOnly, "events-only", false, "Export only the event log")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")
	registerFlagCompletion(exportCmd, "format", completeFormats)
	registerFlagCompletion(exportCmd, "endpoint", completeEndpoints)
	rootCmd.AddCommand(exportCmd)
}
