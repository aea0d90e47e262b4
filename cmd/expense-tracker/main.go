package main

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/expense-tracker/internal/config"
	"github.com/zombor/expense-tracker/internal/receipt"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("expense-tracker")
	flags := config.Register(fs)
	fs.BoolLong("version", "Show version information")

	cfg, err := flags.Parse(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if err := config.SetupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := cfg.OpenDB()
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	scanner, err := cfg.OpenScanner()
	if err != nil {
		slog.Error("Failed to initialize scanner", "scanner", cfg.Scanner, "error", err)
		os.Exit(1)
	}
	if scanner != nil {
		defer scanner.Close()
	}

	store, err := cfg.OpenStorage(ctx)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	receiptService := receipt.NewService(db, store, cfg.Recognizer(), scanner, cfg.Service())
	server := receipt.NewServer(receiptService, cfg.BasicAuth(), cfg.Owner)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", cfg.Port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	} else {
		slog.Info("Basic auth disabled", "owner", cfg.Owner)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
