package transcode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// exitDataErr is EX_DATAERR from sysexits.h.
const exitDataErr = 65

const stderrTailLines = 20

// Command runs an external program per request. The request is written to stdin
// as JSON, "progress=<n>" lines on stderr are forwarded, and stdout must hold the
// JSON Output.
type Command struct {
	path    string
	args    []string
	timeout time.Duration
}

func NewCommand(path string, timeout time.Duration, args ...string) (*Command, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("transcode command required")
	}
	return &Command{path: path, args: args, timeout: timeout}, nil
}

func (c *Command) Transcode(ctx context.Context, req Request, progress func(pct int)) (Output, error) {
	input, err := json.Marshal(req)
	if err != nil {
		return Output{}, fmt.Errorf("encode transcode request: %w", err)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return Output{}, fmt.Errorf("open transcode stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("start transcode command: %w", err)
	}
	tail := scanStderr(stderr, progress)
	waitErr := cmd.Wait()

	if waitErr != nil {
		detail := strings.Join(tail, "; ")
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == exitDataErr {
			return Output{}, fmt.Errorf("%w: %s", ErrUnprocessable, detail)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Output{}, fmt.Errorf("transcode interrupted: %w", ctxErr)
		}
		return Output{}, fmt.Errorf("transcode command failed: %v: %s", waitErr, detail)
	}

	var out Output
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return Output{}, fmt.Errorf("%w: decode transcode output: %v", ErrUnprocessable, err)
	}
	return out, nil
}

// scanStderr forwards progress lines and keeps the last few other lines for error reports.
func scanStderr(r io.Reader, progress func(pct int)) []string {
	var tail []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if pct, ok := parseProgress(line); ok {
			if progress != nil {
				progress(pct)
			}
			continue
		}
		tail = append(tail, line)
		if len(tail) > stderrTailLines {
			tail = tail[1:]
		}
	}
	return tail
}

func parseProgress(line string) (int, bool) {
	value, ok := strings.CutPrefix(line, "progress=")
	if !ok {
		return 0, false
	}
	pct, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}
