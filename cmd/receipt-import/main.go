package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/schollz/progressbar/v3"

	"github.com/zombor/expense-tracker/internal/config"
	"github.com/zombor/expense-tracker/internal/imaging"
	"github.com/zombor/expense-tracker/internal/receipt"
)

func main() {
	fs := ff.NewFlagSet("receipt-import")
	flags := config.Register(fs)
	var (
		dir    = fs.StringLong("dir", "", "Directory of receipt images and PDFs to import")
		noAI   = fs.BoolLong("no-ai", "Only use OCR and the heuristic extractor")
		force  = fs.BoolLong("force", "Save likely duplicates too")
		dryRun = fs.BoolLong("dry-run", "Extract and print the drafts without saving receipts")
	)

	cfg, err := flags.Parse(fs, os.Args[1:])
	if err == nil && *dir == "" {
		err = fmt.Errorf("--dir is required")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := config.SetupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, *dir, !*noAI, *force, *dryRun); err != nil {
		slog.Error("Import failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
}

// readUploads loads every receipt file directly inside dir, in name order.
func readUploads(dir string) ([]receipt.Upload, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var uploads []receipt.Upload
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		contentType := imaging.MimeByExtension(e.Name())
		if contentType == "" {
			slog.Debug("Skipping file", "filename", e.Name())
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}
		uploads = append(uploads, receipt.Upload{Filename: e.Name(), Data: data, ContentType: contentType})
	}
	return uploads, nil
}

func run(ctx context.Context, cfg config.Config, dir string, useAI, force, dryRun bool) error {
	uploads, err := readUploads(dir)
	if err != nil {
		return err
	}
	if len(uploads) == 0 {
		fmt.Println("No receipt files found.")
		return nil
	}

	db, err := cfg.OpenDB()
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	scanner, err := cfg.OpenScanner()
	if err != nil {
		return fmt.Errorf("initializing scanner: %w", err)
	}
	if scanner != nil {
		defer scanner.Close()
	}

	store, err := cfg.OpenStorage(ctx)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	service := receipt.NewService(db, store, cfg.Recognizer(), scanner, cfg.Service())
	owner := cfg.OwnerID()

	bar := progressbar.NewOptions(len(uploads),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Extracting receipts..."),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)
	batch := service.ExtractBatch(ctx, owner, uploads, useAI, func(done, _ int) {
		if err := bar.Set(done); err != nil {
			slog.Warn("Failed to update progress bar", "error", err)
		}
	})

	for _, it := range batch.Items {
		if it.Error != "" {
			fmt.Printf("FAILED  %s: %s\n", it.Filename, it.Error)
			continue
		}
		r := it.Draft.Receipt
		amount := "?"
		if a, ok := r.Amount.Get(); ok {
			amount = a.StringFixed(2)
		}
		fmt.Printf("OK      %s: %s %s %s\n", it.Filename, r.VendorName, amount, r.Category.OrOther())
		if it.Draft.Duplicate != nil {
			fmt.Printf("        %s\n", it.Draft.Duplicate.Message)
		}
	}

	if dryRun {
		fmt.Printf("Dry run: %d extracted, %d failed, nothing saved.\n", len(batch.Ready()), batch.Failed())
		return nil
	}

	results, err := service.CommitBatch(ctx, owner, batch, force)
	if err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}

	var saved, duplicates, failed int
	for _, res := range results {
		switch {
		case res.Error != "":
			failed++
		case res.Duplicate != nil:
			duplicates++
		case res.Receipt != nil:
			saved++
		}
	}
	fmt.Printf("Saved %d receipts, skipped %d likely duplicates, %d failed.\n", saved, duplicates, failed)
	if duplicates > 0 && !force {
		fmt.Println("Run again with --force to save the duplicates too.")
	}
	return nil
}
