// Command dispatchd is a forking work-dispatch supervisor: a noun/verb
// CLI that either starts the long-running supervisor daemon or
// re-execs itself as a worker/helper child via workerproc.IsChild.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/dispatchd/internal/api"
	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/child"
	"github.com/mattjoyce/dispatchd/internal/config"
	"github.com/mattjoyce/dispatchd/internal/dispatch"
	"github.com/mattjoyce/dispatchd/internal/doctor"
	"github.com/mattjoyce/dispatchd/internal/events"
	"github.com/mattjoyce/dispatchd/internal/inspect"
	"github.com/mattjoyce/dispatchd/internal/lock"
	"github.com/mattjoyce/dispatchd/internal/log"
	"github.com/mattjoyce/dispatchd/internal/runner"
	"github.com/mattjoyce/dispatchd/internal/selfcheck"
	"github.com/mattjoyce/dispatchd/internal/store"
	"github.com/mattjoyce/dispatchd/internal/supervisor"
	"github.com/mattjoyce/dispatchd/internal/tui"
	"github.com/mattjoyce/dispatchd/internal/tui/watch"
	"github.com/mattjoyce/dispatchd/internal/webhook"
	"github.com/mattjoyce/dispatchd/internal/workerproc"
	"gopkg.in/yaml.v3"
)

const version = "0.1.0"

func main() {
	// A re-exec'd child never reaches the noun/verb parser: it reads its
	// launch frame off fd 3 and runs exactly one batch, then exits.
	if workerproc.IsChild() {
		runWorkerChild()
		return
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "system":
		os.Exit(runSystemNoun(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "bucket":
		os.Exit(runBucketNoun(args))
	case "work":
		os.Exit(runWorkNoun(args))
	case "history":
		os.Exit(runHistoryNoun(args))
	case "watch":
		os.Exit(runWatch(args))
	case "monitor":
		os.Exit(runMonitor(args))
	case "version":
		fmt.Printf("dispatchd version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`dispatchd - forking work-dispatch supervisor

Usage:
  dispatchd <noun> <action> [flags]

Core Resources (Nouns):
  system    Supervisor lifecycle
  config    Configuration loading and integrity
  bucket    Bucket inspection
  work      Work submission (via the admin API)
  history   Fork-sequence history for one pid, from the result store

System Commands:
  system start            Start the supervisor in the foreground
  system status           Show configured buckets and exit
  system doctor           Run environment diagnostics (PATH, locks, filesystem)
    [--json]                Print the report as JSON instead of text

Config Commands:
  config check            Validate configuration and report issues
  config lock             Authorize current config state (write checksums)
  config show [path]      Print the resolved configuration, or one field
  config get <path>       Print one resolved configuration field

Bucket Commands:
  bucket list              List every configured bucket and its knobs
  bucket show <id>         Show one bucket's knobs

Work Commands:
  work add <bucket> <item> Submit one JSON work item via the admin API

History Commands:
  history show <pid>       Show one pid's fork-sequence history
    [--json]                 Print the report as JSON instead of text

Live Dashboards (against a running supervisor's admin API):
  watch    [--listen URL] [--token TOKEN]  Full-screen bucket/event dashboard
  monitor  [--listen URL] [--token TOKEN]  Compact child table + event log

General:
  version                 Show version information
  help                    Show this help message
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

// --- worker/helper child branch ---

func runWorkerChild() {
	configPath, err := resolveConfigPath("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd worker: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatchd worker: %v\n", err)
		os.Exit(1)
	}
	log.Setup(cfg.Service.LogLevel)

	reg := bucket.NewRegistry(nil)
	applyBuckets(reg, cfg)
	runner.RegisterCommands(reg, reg.BucketList(true))

	helpers := workerproc.NewHelperRegistry()
	workerproc.Run(reg, helpers)
}

// --- system noun ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd system <start|status|doctor>")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: dispatchd system <start|status|doctor>")
		return 0
	}
	switch args[0] {
	case "start":
		return runSystemStart(args[1:])
	case "status":
		return runSystemStatus(args[1:])
	case "doctor":
		return runSystemDoctor(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", args[0])
		return 1
	}
}

// runSystemDoctor runs environment diagnostics that need to touch the
// live filesystem/PATH, on top of config.Validator's pure config
// cross-reference checks.
func runSystemDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	cfg, err := loadConfigForCLI(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	result := doctor.New(cfg).Run()
	if *jsonOut {
		data, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			return 1
		}
		fmt.Println(data)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}
	if !result.Valid {
		return 1
	}
	return 0
}

func runSystemStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}

	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config discovery failed: %v\n", err)
		return 1
	}

	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("dispatchd starting", "version", version, "config", resolved)

	pidLockPath := pidLockPathFor(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		if pid, readErr := lock.ReadPID(pidLockPath); readErr == nil {
			logger.Error("failed to acquire PID lock, another supervisor is already running", "path", pidLockPath, "running_pid", pid, "error", err)
		} else {
			logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		}
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx := context.Background()

	var st *store.Store
	if cfg.Store.Enabled {
		db, err := store.Open(ctx, cfg.Store.Path)
		if err != nil {
			logger.Error("failed to open store", "path", cfg.Store.Path, "error", err)
			return 1
		}
		defer db.Close()
		st = store.New(db)
		logger.Info("result store opened", "path", cfg.Store.Path)
	}

	hub := events.NewHub(256)

	reg := bucket.NewRegistry(nil)
	reg.SetStoreResult(cfg.Service.StoreResult)
	applyBuckets(reg, cfg)
	runner.RegisterCommands(reg, reg.BucketList(true))

	tbl := child.NewTable()
	helpers := workerproc.NewHelperRegistry()

	sup := supervisor.New(reg, tbl, nil)
	sup.Store = st
	sup.Events = hub
	reg.SetResizer(sup)

	disp, err := dispatch.New(reg, tbl, helpers, sup)
	if err != nil {
		logger.Error("failed to initialize dispatcher", "error", err)
		return 1
	}
	sup.Dispatch = disp

	if exe, err := os.Executable(); err == nil {
		baseline, err := selfcheck.New(exe)
		if err != nil {
			logger.Warn("self-check baseline unavailable", "error", err)
		} else {
			sup.SelfCheck = &baseline
		}
	}

	var webhookServer *webhook.Server
	if cfg.Webhook != nil {
		webhookServer, err = webhook.New(cfg.Webhook, reg, log.WithComponent("webhook"))
		if err != nil {
			logger.Error("failed to configure webhook listener", "error", err)
			return 1
		}
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.New(api.Config{Listen: cfg.API.Listen, Tokens: cfg.API.Auth.Tokens}, reg, tbl, hub, log.WithComponent("api"))
	}

	// StartSignalRelay owns SIGHUP/SIGINT/SIGTERM from here on: a
	// SIGINT/SIGTERM calls sup.Shutdown, which drains children and
	// exits the process directly, so main never observes the signal
	// itself.
	sup.StartSignalRelay()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	if apiServer != nil {
		go func() {
			if err := apiServer.Start(runCtx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("admin API enabled", "listen", cfg.API.Listen)
	}
	if webhookServer != nil {
		go func() {
			if err := webhookServer.Start(runCtx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook listener enabled", "listen", cfg.Webhook.Listen, "endpoints", len(cfg.Webhook.Endpoints))
	}

	stop := make(chan struct{})
	go dispatchLoop(sup, stop)

	logger.Info("dispatchd running (press Ctrl+C to stop)")

	err = <-errCh
	logger.Error("component failed", "error", err)
	close(stop)
	cancel()
	return 1
}

// dispatchLoop drains the mailbox, houskeeps, and tops up every bucket
// with queued or persistent-mode work on a fixed cadence, driven
// continuously for `system start`'s long-running daemon mode, since
// work can arrive at any time from the admin API or webhook listener
// rather than being queued up-front the way a one-shot
// ProcessWork(blocking=true) caller
// would expect.
func dispatchLoop(sup *supervisor.Supervisor, stop <-chan struct{}) {
	ticker := time.NewTicker(sup.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sup.Poll()
			sup.Housekeep()
			_ = sup.ProcessWork(false, "", true)
		}
	}
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config discovery failed: %v\n", err)
		return 1
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		return 1
	}
	fmt.Printf("config: %s\n", resolved)
	fmt.Printf("buckets: %d\n", len(cfg.Buckets))
	for id, b := range cfg.Buckets {
		fmt.Printf("  %s: max_children=%d max_work_per_child=%d persistent_mode=%v\n", id, b.MaxChildren, b.MaxWorkPerChild, b.PersistentMode)
	}
	if cfg.API.Enabled {
		fmt.Printf("admin API: %s\n", cfg.API.Listen)
	}
	if cfg.Webhook != nil {
		fmt.Printf("webhook listener: %s (%d endpoints)\n", cfg.Webhook.Listen, len(cfg.Webhook.Endpoints))
	}
	return 0
}

// --- config noun ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd config <check|lock|show|get> [flags]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: dispatchd config <check|lock|show|get> [flags]")
		return 0
	}
	action, actionArgs := args[0], args[1:]
	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	case "get":
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config discovery failed: %v\n", err)
		return 1
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 1
	}

	issues := config.NewValidator(cfg).Check()
	if *jsonOut {
		data, _ := json.MarshalIndent(issues, "", "  ")
		fmt.Println(string(data))
	} else if len(issues) == 0 {
		fmt.Println("config check: no issues found")
	} else {
		for _, iss := range issues {
			fmt.Printf("[%s] %s: %s\n", iss.Severity, iss.Field, iss.Message)
		}
	}

	hasError := false
	hasWarning := false
	for _, iss := range issues {
		if iss.Severity == "error" {
			hasError = true
		} else {
			hasWarning = true
		}
	}
	if hasError {
		return 1
	}
	if *strict && hasWarning {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config discovery failed: %v\n", err)
		return 1
	}
	if !config.IsConfigDir(resolved) {
		fmt.Fprintf(os.Stderr, "config lock requires a directory containing config.yaml, got %q\n", resolved)
		return 1
	}
	manifest, err := config.Lock(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lock failed: %v\n", err)
		return 1
	}
	fmt.Printf("locked %d file(s) as of %s\n", len(manifest.Hashes), manifest.GeneratedAt)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config discovery failed: %v\n", err)
		return 1
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 1
	}

	var result any = cfg
	if fs.NArg() > 0 {
		result, err = cfg.Get(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(result)
		fmt.Print(string(data))
	}
	return 0
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd config get <path> [--config PATH]")
		return 1
	}
	resolved, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config discovery failed: %v\n", err)
		return 1
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		return 1
	}
	val, err := cfg.Get(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Printf("%v\n", val)
	return 0
}

// --- bucket noun ---

func runBucketNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd bucket <list|show> [flags]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: dispatchd bucket <list|show> [flags]")
		return 0
	}
	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		return runBucketList(actionArgs)
	case "show":
		return runBucketShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown bucket action: %s\n", action)
		return 1
	}
}

func runBucketList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	cfg, err := loadConfigForCLI(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	for id, b := range cfg.Buckets {
		fmt.Printf("%s\tmax_children=%d\tmax_work_per_child=%d\tchild_max_run_time=%d\tpersistent_mode=%v\n",
			id, b.MaxChildren, b.MaxWorkPerChild, b.ChildMaxRunTime, b.PersistentMode)
	}
	return 0
}

func runBucketShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd bucket show <id> [--config PATH]")
		return 1
	}
	cfg, err := loadConfigForCLI(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	b, ok := cfg.Buckets[fs.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "bucket %q not found in configuration\n", fs.Arg(0))
		return 1
	}
	data, _ := yaml.Marshal(b)
	fmt.Print(string(data))
	return 0
}

// --- work noun ---

func runWorkNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd work add <bucket> <item-json> [flags]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: dispatchd work add <bucket> <item-json> [--listen ADDR] [--token TOKEN]")
		return 0
	}
	if args[0] != "add" {
		fmt.Fprintf(os.Stderr, "Unknown work action: %s\n", args[0])
		return 1
	}
	return runWorkAdd(args[1:])
}

// runWorkAdd submits one work item to a running supervisor's admin API
// over HTTP — the CLI has no other way to reach a separate process's
// in-memory bucket queue, which is not backed by a durable
// cross-process store.
func runWorkAdd(args []string) int {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	listen := fs.String("listen", "http://127.0.0.1:8088", "Admin API base URL")
	token := fs.String("token", "", "Admin API bearer token")
	identifier := fs.String("identifier", "", "Work item identifier (auto-generated if omitted)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd work add <bucket> <item-json> [--listen URL] [--token TOKEN]")
		return 1
	}
	bucketID, itemJSON := fs.Arg(0), fs.Arg(1)

	var item json.RawMessage
	if !json.Valid([]byte(itemJSON)) {
		fmt.Fprintf(os.Stderr, "item must be valid JSON, got %q\n", itemJSON)
		return 1
	}
	item = json.RawMessage(itemJSON)

	body, err := json.Marshal(api.WorkRequest{Identifier: *identifier, Item: item})
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal request: %v\n", err)
		return 1
	}

	if err := postWork(*listen, *token, bucketID, body); err != nil {
		fmt.Fprintf(os.Stderr, "work add failed: %v\n", err)
		return 1
	}
	return 0
}

// postWork sends body to the running supervisor's POST
// /buckets/{id}/work endpoint and prints whatever it returns.
func postWork(baseURL, token, bucketID string, body []byte) error {
	url := fmt.Sprintf("%s/buckets/%s/work", baseURL, bucketID)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(respBody))
	}
	fmt.Println(string(respBody))
	return nil
}

// --- history noun ---

func runHistoryNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd history show <pid> [flags]")
		return 1
	}
	if isHelpToken(args[0]) {
		fmt.Println("Usage: dispatchd history show <pid> [flags]")
		return 0
	}
	action, actionArgs := args[0], args[1:]
	switch action {
	case "show":
		return runHistoryShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history action: %s\n", action)
		return 1
	}
}

func runHistoryShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dispatchd history show <pid> [--json] [--config PATH]")
		return 1
	}
	pid, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid pid %q: %v\n", fs.Arg(0), err)
		return 1
	}

	cfg, err := loadConfigForCLI(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if !cfg.Store.Enabled {
		fmt.Fprintln(os.Stderr, "history: result store is not enabled in configuration")
		return 1
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store at %s: %v\n", cfg.Store.Path, err)
		return 1
	}
	defer db.Close()

	var report string
	if *asJSON {
		report, err = inspect.BuildJSONReport(ctx, db, pid)
	} else {
		report, err = inspect.BuildReport(ctx, db, pid)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "history: %v\n", err)
		return 1
	}
	fmt.Println(report)
	return 0
}

// --- live dashboards ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	listen := fs.String("listen", "http://127.0.0.1:8088", "Admin API base URL")
	token := fs.String("token", "", "Admin API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	p := tea.NewProgram(watch.New(*listen, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	return 0
}

func runMonitor(args []string) int {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	listen := fs.String("listen", "http://127.0.0.1:8088", "Admin API base URL")
	token := fs.String("token", "", "Admin API bearer token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		return 1
	}
	p := tea.NewProgram(tui.NewMonitor(*listen, *token))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		return 1
	}
	return 0
}

// --- shared helpers ---

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigDir()
}

func loadConfigForCLI(configPath string) (*config.Config, error) {
	resolved, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, fmt.Errorf("config discovery failed: %w", err)
	}
	cfg, err := config.Load(resolved)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func pidLockPathFor(cfg *config.Config) string {
	if cfg.Store.Enabled && cfg.Store.Path != "" {
		return cfg.Store.Path + ".pid"
	}
	return cfg.ConfigDir + "/dispatchd.pid"
}

// applyBuckets seeds reg with every bucket cfg declares, applying each
// knob through the registry's setters so clamping/logging behaves the
// same as a runtime SetXxx call, then assigns Command and
// CommandTimeout directly since the registry has no dedicated setter
// for a knob internal/runner owns instead.
func applyBuckets(reg *bucket.Registry, cfg *config.Config) {
	for id, b := range cfg.Buckets {
		reg.AddBucket(id)
		reg.SetMaxChildren(id, b.MaxChildren)
		reg.SetMaxWorkPerChild(id, b.MaxWorkPerChild)
		reg.SetChildMaxRunTime(id, b.ChildMaxRunTime)
		reg.SetSingleWorkItem(id, b.SingleWorkItem)
		reg.SetPersistentMode(id, b.PersistentMode, b.PersistentModeData)
		if len(b.Command) > 0 {
			if bk, ok := reg.Get(id); ok {
				bk.Command = b.Command
				bk.CommandTimeout = b.CommandTimeout
			}
		}
	}
}
