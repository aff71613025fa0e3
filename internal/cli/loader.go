package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/arcbond/bondengine/internal/config"
	"github.com/arcbond/bondengine/internal/engine"
	"github.com/arcbond/bondengine/internal/journal"
	"github.com/arcbond/bondengine/internal/store"
)

// Journal backends accepted by --journal.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

var (
	_ journal.Journal = (*store.Store)(nil)
	_ journal.Journal = (*store.BadgerJournal)(nil)
)

// openStore opens or creates a journal at path.
func openStore(path, backend string) (journal.Journal, error) {
	switch backend {
	case BackendSQLite:
		st, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case BackendBadger:
		bj, err := store.OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return bj, nil
	default:
		return nil, fmt.Errorf("unknown journal backend %q: must be %s or %s", backend, BackendSQLite, BackendBadger)
	}
}

// openExisting opens a journal that must already exist. An empty backend
// is inferred from the path: badger keeps a directory, sqlite a file.
func openExisting(path, backend string) (journal.Journal, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	if backend == "" {
		backend = BackendSQLite
		if info.IsDir() {
			backend = BackendBadger
		}
	}
	st, err := openStore(path, backend)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// loadedSeries is everything needed to rebuild a series.
type loadedSeries struct {
	Params  engine.Params
	Entries []journal.Entry
}

// loadSeries reads the parameters and journal from st.
func loadSeries(ctx context.Context, st journal.Journal) (*loadedSeries, error) {
	data, err := st.LoadParams(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load series parameters", err)
	}
	if data == nil {
		return nil, NewExitError(ExitCommandError, "database holds no series parameters")
	}
	params, err := config.DecodeParams(data)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid series parameters", err)
	}
	entries, err := st.Entries(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}
	return &loadedSeries{Params: params, Entries: entries}, nil
}

// rebuild replays the journal into a fresh engine.
func (ls *loadedSeries) rebuild(ctx context.Context, logger *slog.Logger) (*engine.Engine, error) {
	return engine.Replay(ctx, ls.Params, ls.Entries, engine.WithLogger(logger))
}

// closeStore closes st, logging any failure.
func closeStore(st journal.Journal, logger *slog.Logger) {
	if err := st.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}
