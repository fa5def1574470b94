package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lucianodigital2b/clevernote-sub002/internal/app"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/entity"
)

var processCmd = &cobra.Command{
	Use:   "process [note-id]",
	Short: "Extract text and build the study note now",
	Long:  `Runs the note stage in the foreground. Failed notes can be processed again.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return common.InvalidArgumentErrorf("note id must be a UUID: %v", err)
		}
		return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
			runErr := a.Processor.ProcessNote(ctx, id)
			n, err := a.Notes.GetByID(ctx, id)
			if err != nil {
				return err
			}
			if err := printJSON(noteView(n)); err != nil {
				return err
			}
			return runErr
		})
	},
}

var (
	genCount      int
	genDifficulty string
	genLanguage   string
	genVoices     []string
)

var generateCmd = &cobra.Command{
	Use:   "generate [note-id] [kind]",
	Short: "Generate flashcards, quiz, mindmap, crossword or podcast from a processed note",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		noteID, err := uuid.Parse(args[0])
		if err != nil {
			return common.InvalidArgumentErrorf("note id must be a UUID: %v", err)
		}
		opts := entity.GenerateOptions{
			Count:      genCount,
			Difficulty: genDifficulty,
			Language:   genLanguage,
			Voices:     genVoices,
		}
		return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
			art, err := a.NoteService(nil, nil).GenerateArtifact(ctx, noteID, args[1], opts)
			if err != nil {
				return err
			}
			runErr := a.Processor.GenerateArtifact(ctx, art.ID)
			art, err = a.Artifacts.GetByID(ctx, art.ID)
			if err != nil {
				return err
			}
			if err := printJSON(art); err != nil {
				return err
			}
			return runErr
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [note-id]",
	Short: "Show a note and its artifacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return common.InvalidArgumentErrorf("note id must be a UUID: %v", err)
		}
		return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
			n, err := a.Notes.GetByID(ctx, id)
			if err != nil {
				return err
			}
			arts, err := a.Artifacts.ListByNote(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"note": noteView(n), "artifacts": arts})
		})
	},
}

func init() {
	generateCmd.Flags().IntVar(&genCount, "count", 0, "Number of items (cards, questions, words)")
	generateCmd.Flags().StringVar(&genDifficulty, "difficulty", "", "easy | medium | hard")
	generateCmd.Flags().StringVar(&genLanguage, "language", "", "Output language; defaults to the note's")
	generateCmd.Flags().StringSliceVar(&genVoices, "voices", nil, "TTS voices for the podcast hosts")
	rootCmd.AddCommand(processCmd, generateCmd, statusCmd)
}
