// ABOUTME: Entry point for the agentloop command line tool
// ABOUTME: Replays event logs, consolidates chunk streams and runs scripted tool loops

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/agentloop/internal/config"
	"github.com/2389/agentloop/internal/conversation"
	"github.com/2389/agentloop/internal/events"
	"github.com/2389/agentloop/internal/logging"
)

// Version is set at build time.
var version = "dev"

func usage() {
	fmt.Println("Usage: agentloop <command> [flags] [file]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  replay <events.jsonl>   Rebuild conversations from an event log")
	fmt.Println("  chunks <stream>         Consolidate an SSE or NDJSON chunk stream")
	fmt.Println("  script [turns.yaml]     Run the tool loop against a scripted model")
	fmt.Println("  version                 Print the version")
	fmt.Println()
	fmt.Println("A file argument of - reads standard input.")
}

// getConfigPath returns the config file to load, or "" for defaults.
// Priority: -config flag > AGENTLOOP_CONFIG env var > XDG_CONFIG_HOME/agentloop/config.yaml if present
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("AGENTLOOP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	path := filepath.Join(configDir, "agentloop", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "replay":
		err = runReplay(ctx, os.Args[2:])
	case "chunks":
		err = runChunks(ctx, os.Args[2:])
	case "script":
		err = runScript(ctx, os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is what every subcommand shares once flags are parsed.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	args   []string
}

// setup parses the common flags, loads configuration and builds the logger.
// extra registers subcommand flags on fs before parsing.
func setup(name string, args []string, extra func(fs *flag.FlagSet)) (*env, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFlag := fs.String("config", "", "path to a YAML or TOML config file")
	level := fs.String("log-level", "", "override logging.level")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path := getConfigPath(*configFlag); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if *level != "" {
		cfg.Logging.Level = *level
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return &env{
		cfg:    cfg,
		logger: logging.New(cfg.Logging, os.Stderr),
		args:   fs.Args(),
	}, nil
}

// open returns the reader for a file argument; "-" or no argument is stdin.
func open(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("opening input: %w", err)
	}
	return f, nil
}

// pipeline is a bus with a conversation store attached, sized from config.
type pipeline struct {
	bus   *events.Bus
	store *conversation.Store
}

func newPipeline(e *env) *pipeline {
	bus := events.NewBus(e.logger, e.cfg.Bus.SubscriberBuffer)
	store := conversation.New(
		conversation.WithLogger(e.logger),
		conversation.WithWatchBuffer(e.cfg.Store.WatchBuffer),
	)
	store.Attach(bus)
	return &pipeline{bus: bus, store: store}
}

func (p *pipeline) close() {
	p.store.Close()
	p.bus.Close()
}
