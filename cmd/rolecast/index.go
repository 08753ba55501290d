package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	rolecast "github.com/eugener/rolecast/internal"
	"github.com/eugener/rolecast/internal/storage/sqlite"
	"github.com/eugener/rolecast/internal/vectorstore"
)

// runIndex builds the vector index of one book.
func runIndex(configPath string, args []string) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	bookName := fs.String("book", "", "configured book to index")
	file := fs.String("file", "", "book JSON file (overrides the configured path)")
	index := fs.String("index", "", "index name (defaults to the book's index or the file name)")
	extract := fs.Bool("extract", false, "extract plots for chapters that only have content")
	rebuild := fs.Bool("rebuild", false, "drop the existing index first")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	path, name := *file, *index
	if *bookName != "" {
		b, ok := cfg.Book(*bookName)
		if !ok {
			return fmt.Errorf("book %q: %w", *bookName, rolecast.ErrNotFound)
		}
		if path == "" {
			path = b.Path
		}
		if name == "" {
			name = b.IndexName()
		}
	}
	if path == "" {
		return errors.New("index: -book or -file is required")
	}
	if name == "" {
		name = vectorstore.IndexName(path)
	}

	book, err := vectorstore.LoadBook(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := newStack(cfg, store, nil, nil)
	if err != nil {
		return err
	}

	if *extract {
		for i := range book.Chapters {
			ch := &book.Chapters[i]
			if len(ch.Plots) > 0 || ch.Content == "" {
				continue
			}
			plots, err := st.orch.ExtractChapterPlots(ctx, *ch)
			if err != nil {
				return err
			}
			ch.Plots = plots
			slog.Info("plots extracted", "chapter", ch.Title, "plots", len(plots))
		}
	}

	if *rebuild {
		if err := store.DeleteIndex(ctx, name); err != nil {
			return err
		}
	}

	builder := vectorstore.NewBuilder(store, st.embedder, st.counter, cfg.Retrieval.ChunkTokens)
	n, err := builder.Build(ctx, name, book)
	if err != nil {
		return err
	}
	slog.Info("index ready", "index", name, "title", book.Title, "added", n)
	return nil
}
