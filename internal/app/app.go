// Package app assembles the collaborators shared by the binaries from a
// loaded configuration.
package app

import (
	"context"
	"fmt"

	"github.com/dvloznov/statement-ledger/internal/config"
	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/extract"
	"github.com/dvloznov/statement-ledger/internal/gcs"
	"github.com/dvloznov/statement-ledger/internal/logger"
	"github.com/dvloznov/statement-ledger/internal/pipeline"
	"github.com/dvloznov/statement-ledger/internal/resolver"
	"github.com/dvloznov/statement-ledger/internal/tracker"
	"github.com/dvloznov/statement-ledger/internal/workbook"
)

// App holds the wired services.
type App struct {
	Config     *config.Config
	Categories domain.CategorySet
	Store      *gcs.Store
	Tracker    *tracker.Service
	Deps       pipeline.Deps
	// AI reports whether a Gemini resolver is configured. Without it
	// categorization uses keyword rules only.
	AI bool
}

// New wires an App from cfg. No network calls are made until a
// collaborator is used.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.FromContext(ctx)

	store := gcs.NewStore()
	a := &App{
		Config:     cfg,
		Categories: cfg.CategorySet(),
		Store:      store,
		Tracker: tracker.NewService(store, cfg.Workbook.Location, cfg.BudgetMap(), workbook.Options{
			MonthSheets: cfg.Workbook.MonthSheets,
		}),
	}

	var gemini *resolver.Gemini
	if cfg.Resolver.APIKey != "" {
		g, err := resolver.NewGeminiClient(ctx, cfg.Resolver.APIKey, cfg.Resolver.Model)
		if err != nil {
			return nil, fmt.Errorf("New: %w", err)
		}
		gemini = g
		a.AI = true
	}

	ex, err := newExtractor(cfg.Extractor, gemini)
	if err != nil {
		return nil, fmt.Errorf("New: %w", err)
	}

	a.Deps = pipeline.Deps{
		Source:    store,
		Extractor: ex,
		MinDelay:  cfg.Resolver.MinDelay,
	}
	if gemini != nil {
		a.Deps.Resolver = resolver.WithRules(cfg.Rules, gemini)
	} else {
		// Rules are local; no need to throttle them.
		a.Deps.Resolver = resolver.WithRules(cfg.Rules, nil)
		a.Deps.MinDelay = 0
		log.Warn().Int("rules", len(cfg.Rules)).Msg("GEMINI_API_KEY not set, categorizing with keyword rules only")
	}
	a.Deps.Limiter = pipeline.NewLimiter(a.Deps.MinDelay)

	log.Info().
		Str("workbook", cfg.Workbook.Location).
		Str("extractor", cfg.Extractor.Kind).
		Bool("ai", a.AI).
		Strs("categories", a.Categories.Strings()).
		Msg("application wired")
	return a, nil
}

func newExtractor(cfg config.ExtractorConfig, gemini *resolver.Gemini) (extract.Extractor, error) {
	switch cfg.Kind {
	case config.ExtractorCommand:
		return extract.NewCommand(cfg.Command, cfg.Args), nil
	case config.ExtractorCSV:
		return extract.CSV, nil
	case config.ExtractorGemini:
		if gemini == nil {
			return nil, fmt.Errorf("extractor %q needs GEMINI_API_KEY", cfg.Kind)
		}
		return extract.NewGemini(gemini.Models(), gemini.Model()), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", cfg.Kind)
	}
}

// Close releases the storage client.
func (a *App) Close() error {
	return a.Store.Close()
}
