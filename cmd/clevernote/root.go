package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lucianodigital2b/clevernote-sub002/internal/app"
	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
)

var (
	verbose bool
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clevernote",
	Short: "Turn lectures, documents and links into study notes",
	Long: `clevernote ingests a source, builds a study note from it and derives
flashcards, quizzes, mindmaps, crosswords and podcasts. Jobs run in the
foreground; use clevernoted for the queued service.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if verbose {
			level = "debug"
		}
		logger = common.NewLogger(common.LogConfig{Level: level, Format: os.Getenv("LOG_FORMAT")}, os.Stderr)
		slog.SetDefault(logger)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
}

// withApp loads config, builds the pipeline and runs fn. needsLLM enforces the full
// config check; read-only commands only need the database.
func withApp(ctx context.Context, needsLLM bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := common.LoadConfig()
	if err != nil {
		return err
	}
	if needsLLM {
		if err := cfg.Validate(); err != nil {
			return err
		}
	} else if cfg.Database.DSN == "" {
		return fmt.Errorf("DB_URL is required: %w", common.ErrInvalidInput)
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
