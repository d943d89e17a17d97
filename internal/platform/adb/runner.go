package adb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultCommandTimeout = 15 * time.Second

// execFunc runs a binary and returns its combined output.
type execFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Runner invokes adb against one device with a per-command timeout.
type Runner struct {
	path    string
	target  string
	timeout time.Duration
	exec    execFunc
}

// NewRunner returns a Runner for the given adb binary and device target.
func NewRunner(path, target string, timeout time.Duration) *Runner {
	if path == "" {
		path = "adb"
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Runner{path: path, target: target, timeout: timeout, exec: execCommand}
}

// Target returns the configured device target ("" = first device).
func (r *Runner) Target() string { return r.target }

// Global runs an adb command that is not bound to a device (connect,
// disconnect, devices).
func (r *Runner) Global(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, args)
}

// Run runs an adb command against the configured device.
func (r *Runner) Run(ctx context.Context, args ...string) (string, error) {
	if r.target != "" {
		args = append([]string{"-s", r.target}, args...)
	}
	return r.run(ctx, args)
}

// Shell runs a shell command line on the device.
func (r *Runner) Shell(ctx context.Context, cmdline string) (string, error) {
	return r.Run(ctx, "shell", cmdline)
}

// RunRaw runs an adb command and returns stdout bytes unmodified, for
// binary output such as screencap.
func (r *Runner) RunRaw(ctx context.Context, args ...string) ([]byte, error) {
	if r.target != "" {
		args = append([]string{"-s", r.target}, args...)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.exec(ctx, r.path, args...)
	if err != nil {
		return nil, r.wrap(ctx, args, out, err)
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.exec(ctx, r.path, args...)
	if err != nil {
		return string(out), r.wrap(ctx, args, out, err)
	}
	return string(out), nil
}

func (r *Runner) wrap(ctx context.Context, args []string, out []byte, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	msg := strings.TrimSpace(string(out))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg != "" {
		return fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return fmt.Errorf("adb %s: %w", strings.Join(args, " "), err)
}

// shellQuote wraps s in single quotes for the device shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
