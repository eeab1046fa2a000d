// Package atq drives the one-shot OS job queue through the at(1)
// command: schedule a command body at an absolute time, cancel jobs by
// their queue ids.
package atq

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"gcalat/internal/log"
)

// ErrNoJobID signals that at(1) ran but its confirmation output carried
// no recognizable job id. The caller drops the affected entry.
var ErrNoJobID = errors.New("no job id in at output")

// jobIDRe matches the confirmation at(1) prints, e.g. "job 42 at ...".
var jobIDRe = regexp.MustCompile(`job (\d+) at`)

// atTimeLayout is the time spec handed to at(1), e.g. "12:00 Jun 18".
const atTimeLayout = "15:04 Jan 2"

// Scheduler is the one-shot job queue contract the orchestrator uses.
type Scheduler interface {
	// Schedule queues command for execution at execTime and returns the
	// queue-assigned job id.
	Schedule(ctx context.Context, execTime time.Time, command string) (string, error)
	// Cancel removes the given jobs, best-effort: ids that are already
	// gone are not an error.
	Cancel(ctx context.Context, ids []string) error
}

// Runner shells out to the at command. Each invocation is bounded by
// Timeout; expiry is treated as a transient failure by callers.
type Runner struct {
	// Command is the at binary, "at" if empty.
	Command string
	// Timeout bounds each invocation; 30s if zero.
	Timeout time.Duration
}

func (r *Runner) bin() string {
	if r.Command != "" {
		return r.Command
	}
	return "at"
}

func (r *Runner) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	t := r.Timeout
	if t <= 0 {
		t = 30 * time.Second
	}
	return context.WithTimeout(ctx, t)
}

// Schedule runs `at <time>` with the command body on stdin and extracts
// the job id from the confirmation (which at prints on stderr).
func (r *Runner) Schedule(ctx context.Context, execTime time.Time, command string) (string, error) {
	ctx, cancel := r.bound(ctx)
	defer cancel()

	spec := timeSpec(execTime)
	cmd := exec.CommandContext(ctx, r.bin(), spec)
	cmd.Stdin = strings.NewReader(command + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("at schedule", "spec", spec)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("at %s timed out: %w", spec, ctx.Err())
	}
	if err != nil {
		return "", fmt.Errorf("at %s: %w: %s", spec, err, firstLine(stderr.String()))
	}

	id, ok := extractJobID(stderr.String() + stdout.String())
	if !ok {
		return "", ErrNoJobID
	}
	return id, nil
}

// Cancel runs a single `at -d id...` for the batch. at rejecting or
// ignoring ids is expected (the job may have already fired); only the
// attempt is logged, never surfaced as an error.
func (r *Runner) Cancel(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := r.bound(ctx)
	defer cancel()

	args := append([]string{"-d"}, ids...)
	cmd := exec.CommandContext(ctx, r.bin(), args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Debug("at cancel", "ids", strings.Join(ids, ","))
	if err := cmd.Run(); err != nil {
		log.Warn("at cancel reported failure", "ids", strings.Join(ids, ","), "detail", firstLine(stderr.String()))
	}
	return nil
}

// timeSpec renders execTime for at(1), which reads the spec in the
// machine's local zone regardless of the zone the event carried.
func timeSpec(execTime time.Time) string {
	return execTime.In(time.Local).Format(atTimeLayout)
}

func extractJobID(output string) (string, bool) {
	m := jobIDRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
