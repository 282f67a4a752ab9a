// Command symphony works with symphony files and price history from the
// command line.
//
// Usage:
//
//	symphony parse [-json] FILE
//	symphony evaluate [-data DIR] [-as-of 2006-01-02] FILE
//	symphony import [-data DIR] -symbol SPY FILE.csv
//	symphony cycle [-as-of 2006-01-02]
//
// FILE may be "-" for standard input.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/symphony/internal/config"
	"github.com/aristath/symphony/internal/database"
	"github.com/aristath/symphony/internal/di"
	"github.com/aristath/symphony/internal/modules/cycle"
	"github.com/aristath/symphony/internal/modules/dsl"
	"github.com/aristath/symphony/internal/modules/evaluation"
	"github.com/aristath/symphony/internal/modules/marketdata"
	"github.com/aristath/symphony/pkg/logger"
)

const usage = `usage: symphony <command> [flags]

commands:
  parse     check a symphony file and print its canonical form
  evaluate  evaluate a symphony file against stored price history
  import    import daily bars from CSV (date,open,high,low,close,volume)
  cycle     run one rebalance cycle with the service configuration
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cli := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	var err error
	switch args[0] {
	case "parse":
		err = cli.parse(args[1:])
	case "evaluate":
		err = cli.evaluate(ctx, args[1:])
	case "import":
		err = cli.importBars(ctx, args[1:])
	case "cycle":
		err = cli.cycle(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "symphony %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) logger(level string) zerolog.Logger {
	return logger.New(logger.Config{Level: level, Pretty: true, Output: c.stderr})
}

func (c *cli) readSource(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(c.stdin)
	}
	return os.ReadFile(path)
}

func (c *cli) parse(args []string) error {
	fs := c.flags("parse")
	asJSON := fs.Bool("json", false, "print symbols and options as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected one FILE argument")
	}

	src, err := c.readSource(fs.Arg(0))
	if err != nil {
		return err
	}
	s, err := dsl.ParseSymphony(string(src))
	if err != nil {
		return err
	}

	if !*asJSON {
		fmt.Fprintln(c.stdout, dsl.PrintSymphony(s))
		return nil
	}
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]interface{}{
		"name":              s.Name,
		"options":           s.Options,
		"symbols":           dsl.Symbols(s.Root),
		"indicator_symbols": dsl.IndicatorSymbols(s.Root),
		"canonical":         dsl.PrintSymphony(s),
	})
}

// dataDir resolves the history location: the flag when set, the service
// configuration otherwise.
func dataDir(flagValue string) (string, error) {
	if flagValue != "" {
		return filepath.Abs(flagValue)
	}
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	return cfg.DataDir, nil
}

func openHistory(dir string) (*database.DB, error) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dir, "history.db"),
		Profile: database.ProfileStandard,
		Name:    database.History,
	})
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func parseAsOf(value string) (time.Time, error) {
	if value == "" {
		return time.Now().UTC(), nil
	}
	t, err := time.Parse(marketdata.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -as-of %q, expected 2006-01-02", value)
	}
	return t, nil
}

func (c *cli) evaluate(ctx context.Context, args []string) error {
	fs := c.flags("evaluate")
	data := fs.String("data", "", "data directory holding history.db")
	asOfFlag := fs.String("as-of", "", "evaluation date, default today")
	level := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected one FILE argument")
	}

	asOf, err := parseAsOf(*asOfFlag)
	if err != nil {
		return err
	}
	src, err := c.readSource(fs.Arg(0))
	if err != nil {
		return err
	}
	root, err := dsl.Parse(string(src))
	if err != nil {
		return err
	}

	dir, err := dataDir(*data)
	if err != nil {
		return err
	}
	db, err := openHistory(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	log := c.logger(*level)
	evaluator := evaluation.NewEvaluator(marketdata.NewHistoryRepository(db.Conn(), log), log)
	alloc, err := evaluator.Evaluate(ctx, root, asOf)
	if err != nil {
		if info := evaluation.Describe(err); info != nil {
			return fmt.Errorf("%s: %w", info.Kind, err)
		}
		return err
	}

	for _, e := range alloc.Entries() {
		fmt.Fprintf(c.stdout, "%s\t%s\n", e.Symbol, e.Weight)
	}
	return nil
}

func (c *cli) importBars(ctx context.Context, args []string) error {
	fs := c.flags("import")
	data := fs.String("data", "", "data directory holding history.db")
	symbol := fs.String("symbol", "", "symbol the bars belong to (required)")
	level := fs.String("log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 || strings.TrimSpace(*symbol) == "" {
		return errors.New("expected -symbol and one FILE argument")
	}

	dir, err := dataDir(*data)
	if err != nil {
		return err
	}
	db, err := openHistory(dir)
	if err != nil {
		return err
	}
	defer db.Close()

	var r io.Reader = c.stdin
	if fs.Arg(0) != "-" {
		f, err := os.Open(fs.Arg(0))
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	log := c.logger(*level)
	importer := marketdata.NewImporter(marketdata.NewHistoryRepository(db.Conn(), log), nil, nil, nil, log)
	result, err := importer.Import(ctx, *symbol, r)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "imported %d bars for %s\n", result.Bars, result.Symbol)
	for _, issue := range result.Issues {
		fmt.Fprintf(c.stdout, "warning: %s bar %d (%s): %s\n", result.Symbol, issue.Index, issue.Date, issue.Problem)
	}
	return nil
}

func (c *cli) cycle(ctx context.Context, args []string) error {
	fs := c.flags("cycle")
	asOfFlag := fs.String("as-of", "", "cycle date, default now")
	if err := fs.Parse(args); err != nil {
		return err
	}
	asOf, err := parseAsOf(*asOfFlag)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := c.logger(cfg.LogLevel)

	container, _, err := di.Wire(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer container.Close()

	res, err := container.Runner.Run(ctx, asOf)
	if res != nil {
		enc := json.NewEncoder(c.stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(cycle.Record(res)); encErr != nil {
			return encErr
		}
	}
	return err
}
