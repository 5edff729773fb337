package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/tripsync/internal/export"
	"github.com/fakeyudi/tripsync/internal/trip"
)

var (
	exportFormat string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the pending queue to a file (markdown, json or gpx)",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := export.RendererFor(exportFormat)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.queue.LoadAll(cmd.Context())
		if err != nil {
			return err
		}
		data, err := r.Render(export.New(entries, time.Now()))
		if err != nil {
			return err
		}

		if exportOutput == "" || exportOutput == "-" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
			return err
		}
		cmd.Printf("Exported %d trip(s) to %s.\n", len(entries), exportOutput)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Add trips from a json or markdown export to the pending queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", path)
			}
			return err
		}
		p, err := export.ParserFor(path)
		if err != nil {
			return err
		}
		archive, err := p.Parse(data)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer a.Close()

		var added int
		err = a.queue.Update(context.WithoutCancel(cmd.Context()), func(queue []trip.PendingEntry) []trip.PendingEntry {
			var merged []trip.PendingEntry
			merged, added = export.Merge(queue, archive.Entries)
			return merged
		})
		if err != nil {
			return err
		}
		cmd.Printf("Imported %d of %d trip(s); %d already queued.\n", added, len(archive.Entries), len(archive.Entries)-added)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", export.FormatMarkdown, "output format (markdown, json, gpx)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, stdout when empty")
	rootCmd.AddCommand(exportCmd, importCmd)
}
