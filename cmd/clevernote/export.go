package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lucianodigital2b/clevernote-sub002/internal/app"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a note as PDF or an artifact as XLSX",
}

var exportPDFCmd = &cobra.Command{
	Use:   "pdf [note-id]",
	Short: "Export a processed note as PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context(), args[0], "note-%s.pdf", func(ctx context.Context, a *app.App, id uuid.UUID) ([]byte, error) {
			return a.Exporter.ExportNotePDF(ctx, id)
		})
	},
}

var exportXLSXCmd = &cobra.Command{
	Use:   "xlsx [artifact-id]",
	Short: "Export completed flashcards or a quiz as XLSX",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context(), args[0], "artifact-%s.xlsx", func(ctx context.Context, a *app.App, id uuid.UUID) ([]byte, error) {
			return a.Exporter.ExportArtifactXLSX(ctx, id)
		})
	},
}

func runExport(ctx context.Context, rawID, defaultName string, render func(context.Context, *app.App, uuid.UUID) ([]byte, error)) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return common.InvalidArgumentErrorf("id must be a UUID: %v", err)
	}
	out := exportOut
	if out == "" {
		out = fmt.Sprintf(defaultName, id)
	}
	return withApp(ctx, false, func(ctx context.Context, a *app.App) error {
		b, err := render(ctx, a, id)
		if err != nil {
			return err
		}
		if err := os.WriteFile(out, b, 0o644); err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	})
}

func init() {
	for _, c := range []*cobra.Command{exportPDFCmd, exportXLSXCmd} {
		c.Flags().StringVarP(&exportOut, "out", "o", "", "Output file")
		exportCmd.AddCommand(c)
	}
	rootCmd.AddCommand(exportCmd)
}
