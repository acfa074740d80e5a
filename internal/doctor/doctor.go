// Package doctor runs diagnostics that need to touch the live
// environment — the filesystem, PATH, the process's own locks — which
// config.Validator can't do since it only ever looks at parsed config
// structs.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/mattjoyce/dispatchd/internal/config"
	"github.com/mattjoyce/dispatchd/internal/lock"
	"github.com/mattjoyce/dispatchd/internal/store"
)

// Result holds the outcome of a diagnostic run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single diagnostic finding.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor runs environment diagnostics against a loaded config.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Run executes every check and returns the combined result.
func (d *Doctor) Run() *Result {
	r := &Result{Valid: true}

	d.checkPIDLock(r)
	d.checkStoreFilesystem(r)
	d.checkBucketCommands(r)
	d.checkUnresolvedEnvVars(r)
	d.checkLogLevel(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkPIDLock tries (and immediately releases) the supervisor's own
// PID lock, catching a stale lock file or an unwritable lock directory
// before `system start` discovers it.
func (d *Doctor) checkPIDLock(r *Result) {
	if !d.cfg.Store.Enabled || d.cfg.Store.Path == "" {
		return
	}
	lockPath := d.cfg.Store.Path + ".pid"
	l, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		d.addError(r, "pid_lock", "store.path", fmt.Sprintf("cannot acquire pid lock at %s: %v (a supervisor may already be running)", lockPath, err))
		return
	}
	_ = l.Release()
}

// checkStoreFilesystem flags a result-store path on a network mount,
// where SQLite's locking is unsafe.
func (d *Doctor) checkStoreFilesystem(r *Result) {
	if !d.cfg.Store.Enabled || d.cfg.Store.Path == "" {
		return
	}
	if err := store.CheckFilesystem(d.cfg.Store.Path); err != nil {
		d.addError(r, "store_fs", "store.path", err.Error())
	}
}

// checkBucketCommands resolves each bucket's command against PATH so
// a typo'd executable name surfaces before the bucket ever dispatches
// work to it.
func (d *Doctor) checkBucketCommands(r *Result) {
	for id, b := range d.cfg.Buckets {
		if len(b.Command) == 0 {
			continue
		}
		if _, err := exec.LookPath(b.Command[0]); err != nil {
			d.addError(r, "bucket_command", fmt.Sprintf("buckets.%s.command", id),
				fmt.Sprintf("command %q not found on PATH: %v", b.Command[0], err))
		}
	}
}

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// checkUnresolvedEnvVars warns about ${VAR} references left literally
// in bearer tokens or webhook secrets, meaning the referenced
// environment variable was never set when config was loaded.
func (d *Doctor) checkUnresolvedEnvVars(r *Result) {
	for i, tok := range d.cfg.API.Auth.Tokens {
		for _, m := range envVarRe.FindAllStringSubmatch(tok, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d]", i),
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
	if d.cfg.Webhook == nil {
		return
	}
	for i, ep := range d.cfg.Webhook.Endpoints {
		for _, m := range envVarRe.FindAllStringSubmatch(ep.Secret, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", fmt.Sprintf("webhook.endpoints[%d].secret", i),
					fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

// checkLogLevel warns about a log level slog won't recognize, which
// silently falls back to Info.
func (d *Doctor) checkLogLevel(r *Result) {
	switch strings.ToLower(d.cfg.Service.LogLevel) {
	case "", "debug", "info", "warn", "error":
		return
	default:
		d.addWarning(r, "log_level", "service.log_level",
			fmt.Sprintf("unrecognized log level %q; falls back to info", d.cfg.Service.LogLevel))
	}
}

// FormatHuman returns a human-readable diagnostic report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("doctor: no issues found\n")
		return b.String()
	}
	if r.Valid {
		fmt.Fprintf(&b, "doctor: OK (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "doctor: %d error(s), %d warning(s)\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
