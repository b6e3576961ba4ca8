package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/msageha/goalrun/internal/artifact"
	"github.com/msageha/goalrun/internal/driver"
	"github.com/msageha/goalrun/internal/events"
	"github.com/msageha/goalrun/internal/ledger"
	"github.com/msageha/goalrun/internal/logging"
	"github.com/msageha/goalrun/internal/model"
	"github.com/msageha/goalrun/internal/notify"
	"github.com/msageha/goalrun/internal/policy"
	"github.com/msageha/goalrun/internal/report"
	"github.com/msageha/goalrun/internal/runtime"
	"github.com/msageha/goalrun/internal/setup"
	"github.com/msageha/goalrun/internal/status"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "run":
		runRun(os.Args[2:])
	case "tick":
		runTick(os.Args[2:])
	case "grant":
		runGrant(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "checkpoints":
		runCheckpoints(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	case "demo":
		if err := runDemo(os.Stdout, time.Now()); err != nil {
			fatalf("demo: %v", err)
		}
	case "version":
		fmt.Printf("goalrun %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// flagValue returns the value following args[*i] and advances i.
func flagValue(args []string, i *int) string {
	if *i+1 >= len(args) {
		fatalf("%s requires a value", args[*i])
	}
	*i++
	return args[*i]
}

func runSetup(args []string) {
	if len(args) < 1 {
		fatalf("usage: goalrun setup <project_dir> [--goal-id <id>]")
	}
	dir := args[0]
	var goalID string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--goal-id":
			goalID = flagValue(rest, &i)
		default:
			fatalf("unknown flag: %s\nusage: goalrun setup <project_dir> [--goal-id <id>]", rest[i])
		}
	}

	if err := setup.Run(dir, goalID); err != nil {
		fatalf("setup: %v", err)
	}
	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized %s in %s\n", setup.ConfigFile, absDir)
}

func runRun(args []string) {
	var configPath string
	var opts []driver.Option
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = flagValue(args, &i)
		case "--max-ticks":
			v := flagValue(args, &i)
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				fatalf("invalid --max-ticks value: %s", v)
			}
			opts = append(opts, driver.WithMaxTicks(n))
		case "--interval":
			v := flagValue(args, &i)
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				fatalf("invalid --interval value: %s", v)
			}
			opts = append(opts, driver.WithInterval(d))
		default:
			fatalf("unknown flag: %s\nusage: goalrun run [--config <path>] [--max-ticks <n>] [--interval <duration>]", args[i])
		}
	}

	cfg := mustLoadConfig(configPath)
	logger, closeLog := openLogger(cfg)
	defer closeLog()

	if cfg.Output.Notify {
		if notify.Supported() {
			opts = append(opts, driver.WithNotifier(notify.Desktop{}))
		} else {
			logger.Warn("output.notify is set but desktop notifications are unsupported on this platform")
		}
	}

	d, err := driver.Open(cfg, append(opts, driver.WithLogger(logger))...)
	if err != nil {
		fatalf("run: %v", err)
	}

	ctx, stop := driver.NotifyContext(context.Background(), logger)
	res, err := d.Run(ctx)
	stop()
	if cerr := d.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		fatalf("run: %v", err)
	}

	fmt.Println(report.Styled(d.Runtime().Goal(), res.Summary))
	fmt.Printf("\nstopped: %s after %d ticks (run %s)\n", res.Reason, res.Ticks, res.RunID)
}

func runTick(args []string) {
	var configPath string
	count := 1
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = flagValue(args, &i)
		case "--count":
			v := flagValue(args, &i)
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				fatalf("invalid --count value: %s", v)
			}
			count = n
		default:
			fatalf("unknown flag: %s\nusage: goalrun tick [--config <path>] [--count <n>]", args[i])
		}
	}

	cfg := mustLoadConfig(configPath)
	logger, closeLog := openLogger(cfg)
	defer closeLog()

	d, err := driver.Open(cfg, driver.WithLogger(logger))
	if err != nil {
		fatalf("tick: %v", err)
	}
	defer d.Close()

	for i := 0; i < count; i++ {
		before := d.Runtime().LogLen()
		n, err := d.Step()
		if err != nil {
			d.Close()
			fatalf("tick: %v", err)
		}
		for _, rec := range d.Runtime().LogSince(before) {
			fmt.Printf("%s %-15s %s (attempts=%d)\n", rec.TaskID, rec.State, rec.Note, rec.Attempts)
		}
		if n == 0 {
			fmt.Println("no task left to advance")
			break
		}
	}
}

func runGrant(args []string) {
	if len(args) < 1 {
		fatalf("usage: goalrun grant <permission> [--config <path>]")
	}
	perm := args[0]
	var configPath string
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "--config":
			configPath = flagValue(rest, &i)
		default:
			fatalf("unknown flag: %s\nusage: goalrun grant <permission> [--config <path>]", rest[i])
		}
	}

	cfg := mustLoadConfig(configPath)
	if cfg.Policy.GrantsFile == "" {
		fatalf("grant: policy.grants_file is not configured")
	}
	path := cfg.ResolvePath(cfg.Policy.GrantsFile)
	changed, err := policy.AppendGrant(path, perm)
	if err != nil {
		fatalf("grant: %v", err)
	}
	if changed {
		fmt.Printf("granted %s (%s)\n", perm, path)
	} else {
		fmt.Printf("%s already granted\n", perm)
	}
}

func runStatus(args []string) {
	var configPath string
	jsonOutput := false
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = flagValue(args, &i)
		case "--json":
			jsonOutput = true
		default:
			fatalf("unknown flag: %s\nusage: goalrun status [--config <path>] [--json]", args[i])
		}
	}

	cfg := mustLoadConfig(configPath)
	if err := status.Run(os.Stdout, cfg.ResolvePath(cfg.Output.Dir), jsonOutput); err != nil {
		fatalf("status: %v", err)
	}
}

func runCheckpoints(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = flagValue(args, &i)
		default:
			fatalf("unknown flag: %s\nusage: goalrun checkpoints [--config <path>]", args[i])
		}
	}

	cfg := mustLoadConfig(configPath)
	deadline, err := goalDeadline(cfg)
	if err != nil {
		fatalf("checkpoints: %v", err)
	}
	next, ok := model.NextCheckpoint(deadline, time.Now())
	fmt.Print(report.Checkpoints(model.Checkpoints(deadline), next, ok))
}

// goalDeadline prefers the saved run's deadline; deadline_in is relative to
// the moment the goal was first built.
func goalDeadline(cfg model.Config) (time.Time, error) {
	st, err := artifact.LoadState(cfg.ResolvePath(cfg.Output.Dir))
	if err == nil {
		return st.Goal.Deadline, nil
	}
	if !errors.Is(err, artifact.ErrNoState) {
		return time.Time{}, err
	}
	g, err := cfg.BuildGoal(time.Now())
	if err != nil {
		return time.Time{}, err
	}
	return g.Deadline, nil
}

func runVerify(args []string) {
	var configPath string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			configPath = flagValue(args, &i)
		default:
			fatalf("unknown flag: %s\nusage: goalrun verify [--config <path>]", args[i])
		}
	}

	cfg := mustLoadConfig(configPath)
	outDir := cfg.ResolvePath(cfg.Output.Dir)
	if err := verify(os.Stdout, outDir); err != nil {
		fatalf("verify: %v", err)
	}
}

func verify(w io.Writer, outDir string) error {
	var failed bool

	logPath := filepath.Join(outDir, artifact.LogFile)
	total, valid, err := events.VerifyLogIntegrity(logPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(w, "%s: not found\n", artifact.LogFile)
	case err != nil:
		return err
	default:
		fmt.Fprintf(w, "%s: %d/%d entries valid\n", artifact.LogFile, valid, total)
		failed = failed || valid != total
	}

	ledgerPath := artifact.LedgerPath(outDir)
	if _, err := os.Stat(ledgerPath); os.IsNotExist(err) {
		fmt.Fprintln(w, "ledger: disabled")
	} else {
		db, err := ledger.Open(ledgerPath)
		if err != nil {
			return err
		}
		defer db.Close()
		runs, err := db.Runs()
		if err != nil {
			return err
		}
		for _, r := range runs {
			n, err := db.Verify(r.ID)
			if errors.Is(err, ledger.ErrChainBroken) {
				fmt.Fprintf(w, "ledger %s: %v\n", r.ID, err)
				failed = true
				continue
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "ledger %s: %d entries ok\n", r.ID, n)
		}
	}

	if failed {
		return fmt.Errorf("integrity check failed")
	}
	return nil
}

// runDemo ticks a three-task goal six times with no grants and prints the
// summary.
func runDemo(w io.Writer, now time.Time) error {
	g := &model.Goal{
		ID:              "goal-001",
		Objective:       "Analyze the runtime and deliver architecture + prototype",
		Deadline:        now.Add(6 * time.Hour),
		SuccessCriteria: []string{"analysis report", "prototype code", "next actions"},
		Tasks: []*model.Task{
			model.NewTask("T1", "collect docs and behavior model"),
			model.NewTask("T2", "draft architecture proposal"),
			model.NewTask("T3", "push to GitHub repo", "github:push"),
		},
	}
	if err := g.Validate(); err != nil {
		return err
	}

	rt := runtime.New(g, policy.New())
	for i := 0; i < 6; i++ {
		rt.Tick()
	}
	_, err := fmt.Fprintln(w, report.Text(g, rt.Summary()))
	return err
}

func mustLoadConfig(path string) model.Config {
	if path == "" {
		path = findConfig()
		if path == "" {
			fatalf("error: %s not found. Run 'goalrun setup <dir>' first or pass --config.", setup.ConfigFile)
		}
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		fatalf("load config: %v", err)
	}
	return cfg
}

// findConfig searches for goal.yaml in the current directory and ancestors.
func findConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findConfigFrom(dir)
}

func findConfigFrom(dir string) string {
	for {
		candidate := filepath.Join(dir, setup.ConfigFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// openLogger logs to stderr and <out>/logs/goalrun.log.
func openLogger(cfg model.Config) (*logging.Logger, func()) {
	level := logging.ParseLevel(cfg.Logging.Level)
	logPath := filepath.Join(cfg.ResolvePath(cfg.Output.Dir), "logs", "goalrun.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return logging.New(os.Stderr, level, "goalrun"), func() {}
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return logging.New(os.Stderr, level, "goalrun"), func() {}
	}
	return logging.New(io.MultiWriter(os.Stderr, f), level, "goalrun"), func() { f.Close() }
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `goalrun %s: deadline-bound goal runner

Usage: goalrun <command> [options]

Project:
  setup <dir> [--goal-id <id>]   Write goal.yaml and grants.yaml
  run [flags]                    Tick until settled, max ticks or SIGINT
      --config <path>            Config file (default: nearest goal.yaml)
      --max-ticks <n>            Stop after n ticks (0 = until settled)
      --interval <duration>      Tick interval, e.g. 500ms
  tick [--count <n>]             Advance n ticks and exit
  grant <permission>             Add a permission to the grants file

Inspection:
  status [--json]                Show the saved run state
  checkpoints                    Show the deadline checkpoints
  verify                         Check log.jsonl checksums and the ledger chain

Utilities:
  demo                           Run the three-task demo in memory
  version                        Show version
  help                           Show this help

`, version)
}
