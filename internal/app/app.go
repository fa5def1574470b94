// Package app wires the pipeline from configuration. Both the daemon and the
// CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/lucianodigital2b/clevernote-sub002/internal/common"
	"github.com/lucianodigital2b/clevernote-sub002/internal/export"
	"github.com/lucianodigital2b/clevernote-sub002/internal/extract"
	"github.com/lucianodigital2b/clevernote-sub002/internal/ingest"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm"
	"github.com/lucianodigital2b/clevernote-sub002/internal/llm/openai"
	"github.com/lucianodigital2b/clevernote-sub002/internal/pipeline"
	"github.com/lucianodigital2b/clevernote-sub002/internal/repository"
	"github.com/lucianodigital2b/clevernote-sub002/internal/server"
	"github.com/lucianodigital2b/clevernote-sub002/internal/storage"
)

const crosswordMaxWords = 15

// App holds every long-lived component built from Config.
type App struct {
	Config    *common.Config
	Logger    *slog.Logger
	DB        *repository.DB
	Notes     repository.NoteRepository
	Artifacts repository.ArtifactRepository
	Store     *storage.FileStore
	Processor *pipeline.Processor
	Exporter  *export.Service

	cache *llm.CachedCompleter
}

// Build opens the database, applies the schema and assembles the pipeline.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		Notes:     repository.NewNoteRepository(db, logger),
		Artifacts: repository.NewArtifactRepository(db, logger),
	}

	a.Store, err = storage.NewFileStore(cfg.Storage.DataDir, cfg.Storage.MaxUploadBytes, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init file store: %w", err)
	}

	client := openai.NewClient(openai.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		VisionModel:     cfg.LLM.VisionModel,
		TranscribeModel: cfg.LLM.TranscribeModel,
		TTSModel:        cfg.LLM.TTSModel,
		Temperature:     cfg.LLM.Temperature,
		Timeout:         cfg.LLM.Timeout,
	}, logger)

	var completer llm.Completer = client
	if cfg.LLM.CachePath != "" {
		path := cfg.LLM.CachePath
		if !filepath.IsAbs(path) {
			path = filepath.Join(a.Store.BaseDir(), path)
		}
		a.cache, err = llm.OpenCachedCompleter(path, client, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		completer = a.cache
	}

	extractor := extract.NewExtractor(extract.Config{
		Pdftotext:     cfg.Extract.Pdftotext,
		Pdftoppm:      cfg.Extract.Pdftoppm,
		Ffmpeg:        cfg.Extract.Ffmpeg,
		HeicConverter: cfg.Extract.HeicConverter,
		MaxPages:      cfg.Extract.MaxPDFPages,
		MaxLinkBytes:  cfg.Extract.MaxLinkBytes,
		MaxTextBytes:  cfg.Extract.MaxTextBytes,
		TempDir:       a.Store.TmpDir(),
	}, completer, client, logger)

	gens := pipeline.DefaultGenerators(pipeline.GeneratorDeps{
		LLM:           completer,
		Speaker:       client,
		Store:         a.Store,
		MaxInputChars: cfg.LLM.MaxInputChars,
		Voices:        cfg.LLM.TTSVoices,
		CrosswordMax:  crosswordMaxWords,
		Logger:        logger,
	})
	a.Processor = pipeline.NewProcessor(logger,
		pipeline.NewNoteStage(a.Notes, extractor, completer, cfg.LLM.MaxInputChars, logger),
		pipeline.NewArtifactStage(a.Notes, a.Artifacts, gens, a.Store, logger),
	)
	a.Exporter = export.NewService(a.Notes, a.Artifacts, logger)
	return a, nil
}

// Ingestor returns a file-system ingestor that hands new notes to queue (nil for none).
func (a *App) Ingestor(queue ingest.Enqueuer) *ingest.FSIngestor {
	return ingest.NewFSIngestor(a.Notes, a.Store, queue, a.Logger)
}

// NoteService builds the transport-independent service on top of queue.
func (a *App) NoteService(queue server.Scheduler, ing ingest.Ingestor) *server.NoteService {
	return server.NewNoteService(a.Notes, a.Artifacts, ing, queue, a.Exporter, a.Store, a.Logger,
		server.WithPathRoots(a.Config.Ingest.WatchDirs...))
}

func (a *App) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.Logger.Warn("llm cache close failed", "err", err)
		}
	}
	server.CloseDB(a.DB, a.Logger)
}
