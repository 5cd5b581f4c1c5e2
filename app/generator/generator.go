// Package generator runs the external schema-to-model code generator for a single schema.
// Output of the child process is captured, never inherited, and reported back to the caller.
package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	log "github.com/go-pkgz/lgr"
)

// waitDelay limits waiting for output pipes after the generator was killed
const waitDelay = time.Second

// DefaultFileType passed to the generator as input format indicator
const DefaultFileType = "yaml"

// Generator invokes external code generator, one process per request
type Generator struct {
	Command     *CommandTemplate
	FileType    string
	Repeater    Repeater      // optional, single attempt if nil
	MaxLogLines int           // limits captured output, 0 keeps everything
	Timeout     time.Duration // per process, 0 means no timeout
	Stdout      io.Writer     // optional, gets generator output prefixed with schema name
}

// Request defines a single generation
type Request struct {
	Input  string // schema file
	Output string // generated model file
	Reuse  bool   // pass model-reuse flag to the generator
}

// Result of successful generation
type Result struct {
	Output string
	Stdout string
	Took   time.Duration
}

// Repeater repeats failed function
type Repeater interface {
	Do(ctx context.Context, fun func() error, errors ...error) (err error)
}

// Run makes the parent directory of req.Output and executes the generator.
// Non-zero exit (or timeout) of the generator returned as *ExecError with captured stderr.
// Any other error means the generator can't be started at all or the context was canceled.
func (g *Generator) Run(ctx context.Context, req Request) (Result, error) {
	if g.Command == nil {
		return Result{}, errors.New("generator command not set")
	}
	fileType := g.FileType
	if fileType == "" {
		fileType = DefaultFileType
	}
	args, err := g.Command.Args(req, fileType)
	if err != nil {
		return Result{}, err
	}

	if err = os.MkdirAll(filepath.Dir(req.Output), 0o750); err != nil {
		return Result{}, fmt.Errorf("can't make output directory for %s: %w", req.Output, err)
	}

	var res Result
	var fatal error
	attempt := func() error {
		r, e := g.exec(ctx, req, args)
		if e == nil {
			res = r
			return nil
		}
		execErr := &ExecError{}
		if !errors.As(e, &execErr) {
			fatal = e // don't retry start failures
			return nil
		}
		log.Printf("[DEBUG] attempt failed, %v", e)
		return e
	}

	if g.Repeater == nil {
		err = attempt()
	} else {
		err = g.Repeater.Do(ctx, attempt)
	}
	if fatal != nil {
		return Result{}, fatal
	}
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (g *Generator) exec(ctx context.Context, req Request, args []string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("generation of %s canceled: %w", req.Input, err)
	}

	runCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	stdout, stderr := NewOutputCapture(g.MaxLogLines), NewOutputCapture(g.MaxLogLines)
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...) //nolint:gosec // generator command is configured by user
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if g.Stdout != nil {
		prefixed := NewLogPrefixer(g.Stdout, filepath.Base(req.Input))
		cmd.Stdout, cmd.Stderr = io.MultiWriter(stdout, prefixed), io.MultiWriter(stderr, prefixed)
	}
	cmd.WaitDelay = waitDelay
	log.Printf("[DEBUG] execute %v", args)

	st := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("can't start generator %s: %w", args[0], err)
	}
	err := cmd.Wait()
	took := time.Since(st)
	if err == nil {
		return Result{Output: req.Output, Stdout: stdout.String(), Took: took}, nil
	}

	if ctx.Err() != nil { // canceled by caller, not a generator failure
		return Result{}, fmt.Errorf("generation of %s canceled: %w", req.Input, ctx.Err())
	}
	execErr := &ExecError{Input: req.Input, Stderr: stderr.String(), err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		execErr.ExitCode = exitErr.ExitCode()
	}
	if runCtx.Err() != nil {
		execErr.err = fmt.Errorf("timeout after %v: %w", g.Timeout, err)
	}
	return Result{}, execErr
}
