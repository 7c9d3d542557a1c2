// Command biograph runs the question pipeline for one or more persons.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	biograph "github.com/brunobiangulo/biograph"
)

type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }

func main() {
	var persons multiFlag
	configPath := flag.String("config", "", "Path to config file (JSON)")
	flag.Var(&persons, "person", "Person to process (repeatable)")
	all := flag.Bool("all", false, "Process every person in the chunk store")
	peopleFile := flag.String("people-file", "", "File with one person name per line")
	output := flag.String("output", "", "Output directory (overrides config)")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	if err := biograph.LoadDotenv(""); err != nil {
		slog.Warn("loading .env", "error", err)
	}
	cfg, err := biograph.LoadConfig(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if *output != "" {
		cfg.OutputDir = *output
	}

	pipeline, err := biograph.NewPipeline(cfg, slog.Default())
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	names, err := resolvePersons(ctx, pipeline, persons, *peopleFile, *all)
	if err != nil {
		slog.Error("resolving persons", "error", err)
		os.Exit(1)
	}
	if len(names) == 0 {
		slog.Error("no persons to process; use --person, --people-file, or --all")
		os.Exit(1)
	}

	report, err := pipeline.RunAll(ctx, names)
	if report != nil {
		fmt.Print(report.Summary())
	}
	if err != nil {
		slog.Error("run interrupted", "error", err)
		os.Exit(1)
	}
}

// resolvePersons merges the --person flags, the people file, and --all,
// preserving order and dropping duplicates.
func resolvePersons(ctx context.Context, p *biograph.Pipeline, persons []string, peopleFile string, all bool) ([]string, error) {
	var names []string
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}

	for _, name := range persons {
		add(name)
	}

	if peopleFile != "" {
		f, err := os.Open(peopleFile)
		if err != nil {
			return nil, fmt.Errorf("opening people file: %w", err)
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			add(line)
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading people file: %w", err)
		}
	}

	if all {
		stored, err := p.Store().ListPersons(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing persons: %w", err)
		}
		for _, person := range stored {
			add(person.Name)
		}
	}

	return names, nil
}
