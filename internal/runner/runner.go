// Package runner implements dispatchd's concrete default child_run
// callback: shell out to an external command, write the batch as a
// single JSON line on stdin, and read its response as a single JSON
// line from stdout. A bucket that sets BucketConfig.Command gets this
// callback registered for it automatically by cmd/dispatchd, in lieu
// of an embedder registering its own Go child_run function.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/mattjoyce/dispatchd/internal/bucket"
	"github.com/mattjoyce/dispatchd/internal/callback"
	"github.com/mattjoyce/dispatchd/internal/log"
)

// Request is the JSON envelope written to the command's stdin.
type Request struct {
	Bucket     string `json:"bucket"`
	Identifier string `json:"identifier,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
	Items      []any  `json:"items"`
}

// Response is the JSON envelope the command is expected to print to
// stdout. A command that prints nothing is treated as a successful run
// with no result rather than an error — sending a result frame is
// optional, not mandatory. Output that does not parse as this envelope
// is also a successful run, with the trimmed stdout text as its result.
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// maxStderrBytes caps how much stderr is logged per invocation, a
// bound against a runaway command flooding the log.
const maxStderrBytes = 64 * 1024

// NewCommandCallback returns a child_run callback.Ref that execs argv
// for every batch, timing the run out after timeoutSeconds (0 =
// unbounded). Registered directly on a *bucket.Bucket's OnChildRun
// field by RegisterCommands (called from cmd/dispatchd), in the same spot a
// library embedder would register its own callback.Ref.
func NewCommandCallback(bucketID string, argv []string, timeoutSeconds int) callback.Ref {
	return callback.New("runner:"+bucketID, func(args ...any) (any, error) {
		req := requestFromArgs(bucketID, args)
		resp, err := runOnce(argv, timeoutSeconds, req)
		if err != nil {
			return nil, fmt.Errorf("runner: %s: %w", bucketID, err)
		}
		if resp.Error != "" {
			log.Warn("command reported error", "bucket", bucketID, "error", resp.Error)
			return nil, fmt.Errorf("runner: %s: command error: %s", bucketID, resp.Error)
		}
		return resp.Result, nil
	})
}

// requestFromArgs re-derives a Request from the args workerproc.runWorker
// passes into child_run: either (identifier, items...) for a normal
// batch, or (items...) alone for a persistent-mode worker.
func requestFromArgs(bucketID string, args []any) Request {
	req := Request{Bucket: bucketID}
	if len(args) == 0 {
		return req
	}
	if id, ok := args[0].(string); ok {
		req.Identifier = id
		req.Items = args[1:]
		return req
	}
	req.Persistent = true
	req.Items = args
	return req
}

func runOnce(argv []string, timeoutSeconds int, req Request) (Response, error) {
	if len(argv) == 0 {
		return Response{}, fmt.Errorf("empty command")
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeoutSeconds > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
		defer cancel()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if stderr.Len() > 0 {
		s := stderr.String()
		if len(s) > maxStderrBytes {
			s = s[:maxStderrBytes]
		}
		log.Debug("command stderr", "command", argv[0], "stderr", s)
	}
	if runErr != nil {
		return Response{}, fmt.Errorf("exec %q: %w", argv[0], runErr)
	}

	trimmed := bytes.TrimSpace(stdout.Bytes())
	if len(trimmed) == 0 {
		return Response{}, nil
	}
	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		log.Warn("command stdout was not a Response envelope, treating as raw result", "command", argv[0])
		return Response{Result: string(trimmed)}, nil
	}
	return resp, nil
}

// RegisterCommands walks every bucket in reg that declares a Command
// and installs NewCommandCallback as its OnChildRun, so the CLI's
// "system start" can stand up a working default without the caller
// writing any Go code — the embedding-library path (setting
// OnChildRun directly) still works for buckets that leave Command
// unset.
func RegisterCommands(reg *bucket.Registry, ids []string) {
	for _, id := range ids {
		b, ok := reg.Get(id)
		if !ok || len(b.Command) == 0 {
			continue
		}
		b.OnChildRun = NewCommandCallback(id, b.Command, b.CommandTimeout)
		log.Info("registered command-backed child_run", "bucket", id, "command", b.Command)
	}
}
