package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lucianodigital2b/clevernote-sub002/constants"
	"github.com/lucianodigital2b/clevernote-sub002/internal/app"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
	"github.com/lucianodigital2b/clevernote-sub002/internal/ingest"
)

var (
	ingestLanguage  string
	ingestTitle     string
	ingestNoProcess bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Create a note from a file, link or text",
}

var ingestFileCmd = &cobra.Command{
	Use:   "file [path]",
	Short: "Ingest a local file (pdf, image, audio or text); directories are walked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), !ingestNoProcess, func(ctx context.Context, a *app.App) error {
			ing := a.Ingestor(nil)
			info, err := os.Stat(args[0])
			if err != nil {
				return err
			}
			if info.IsDir() {
				results, stats, err := ing.IngestDirectory(ctx, args[0], true, ingestOptions())
				if err != nil {
					return err
				}
				for _, r := range results {
					if r.Err != "" || r.Deduplicated {
						continue
					}
					if err := processAndReport(ctx, a, r.NoteID); err != nil {
						logger.Warn("processing failed", "path", r.SourcePath, "error", err)
					}
				}
				return printJSON(stats)
			}
			r, err := ing.IngestFile(ctx, args[0], ingestOptions())
			if err != nil {
				return err
			}
			if r.Deduplicated {
				fmt.Fprintf(os.Stderr, "already ingested as %s\n", r.NoteID)
			}
			return processAndReport(ctx, a, r.NoteID)
		})
	},
}

var ingestLinkCmd = &cobra.Command{
	Use:   "link [url]",
	Short: "Ingest a web page",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), !ingestNoProcess, func(ctx context.Context, a *app.App) error {
			n, err := a.Ingestor(nil).IngestLink(ctx, args[0], ingestOptions())
			if err != nil {
				return err
			}
			return processAndReport(ctx, a, n.ID.String())
		})
	},
}

var ingestTextCmd = &cobra.Command{
	Use:   "text [text|-]",
	Short: "Ingest raw text; '-' reads stdin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := args[0]
		if text == "-" {
			b, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			text = string(b)
		}
		return withApp(cmd.Context(), !ingestNoProcess, func(ctx context.Context, a *app.App) error {
			n, err := a.Ingestor(nil).IngestText(ctx, strings.TrimSpace(text), ingestOptions())
			if err != nil {
				return err
			}
			return processAndReport(ctx, a, n.ID.String())
		})
	},
}

func ingestOptions() ingest.Options {
	return ingest.Options{Language: ingestLanguage, Title: ingestTitle}
}

// processAndReport runs the note stage in the foreground unless --no-process was given
// and prints the resulting note.
func processAndReport(ctx context.Context, a *app.App, noteID string) error {
	id, err := uuid.Parse(noteID)
	if err != nil {
		return err
	}
	if !ingestNoProcess {
		n, err := a.Notes.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if n.Status != constants.NoteStatusProcessed {
			if err := a.Processor.ProcessNote(ctx, id); err != nil {
				logger.Warn("note processing failed", "note_id", id, "error", err)
			}
		}
	}
	n, err := a.Notes.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(noteView(n))
}

// noteView drops the raw extracted text, which can be very long.
func noteView(n *entity.Note) *entity.Note {
	c := *n
	c.RawText = ""
	return &c
}

func init() {
	for _, c := range []*cobra.Command{ingestFileCmd, ingestLinkCmd, ingestTextCmd} {
		c.Flags().StringVar(&ingestLanguage, "language", "", "Language hint, e.g. en or pt")
		c.Flags().StringVar(&ingestTitle, "title", "", "Title shown until the study note is generated")
		c.Flags().BoolVar(&ingestNoProcess, "no-process", false, "Only create the note; do not run extraction")
		ingestCmd.AddCommand(c)
	}
	rootCmd.AddCommand(ingestCmd)
}
