// Command suggest-maintenance computes potential matches for unmatched
// locations outside the service, either one row by id or every pending row
// that has none yet. Useful after bulk gazetteer imports.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/location-resolver/internal/gazetteer"
	"github.com/couchcryptid/location-resolver/internal/suggest"
)

func main() {
	var (
		dbPath = flag.String("db", "locations.db", "path to the gazetteer database")
		id     = flag.Int64("id", 0, "recompute a single unmatched row by id")
		force  = flag.Bool("force", false, "recompute even when suggestions already exist")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	store, err := gazetteer.Open(*dbPath, clockwork.NewRealClock())
	if err != nil {
		logger.Error("open store failed", "error", err, "path", *dbPath)
		os.Exit(1)
	}
	defer store.Close()

	computer := suggest.NewComputer(store, clockwork.NewRealClock(), logger, nil)

	if *id != 0 {
		matches, err := computer.Compute(ctx, *id, *force)
		if err != nil {
			logger.Error("compute failed", "id", *id, "error", err)
			os.Exit(1)
		}
		logger.Info("computed", "id", *id, "suggestions", len(matches))
		return
	}

	pending, err := store.PendingWithoutSuggestions(ctx)
	if err != nil {
		logger.Error("listing pending rows failed", "error", err)
		os.Exit(1)
	}

	failures := 0
	for _, u := range pending {
		matches, err := computer.Compute(ctx, u.ID, *force)
		if err != nil {
			logger.Error("compute failed", "id", u.ID, "name", u.Name, "error", err)
			if saveErr := store.SaveSuggestionsError(ctx, u.ID, err.Error()); saveErr != nil {
				logger.Error("recording failure failed", "id", u.ID, "error", saveErr)
			}
			failures++
			continue
		}
		logger.Info("computed", "id", u.ID, "name", u.Name, "suggestions", len(matches))
	}

	logger.Info("maintenance complete", "processed", len(pending), "failures", failures)
	if failures > 0 {
		os.Exit(1)
	}
}
