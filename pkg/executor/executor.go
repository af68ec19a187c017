package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"

	"github.com/flant/news-operator/pkg/app"
)

const (
	// maxLineSize limits a single output line. Longer lines are split into chunks of this size.
	maxLineSize    = 10 * 1024 * 1024
	readBufferSize = 64 * 1024
	// waitDelay is a time to wait for output pipes after the process is killed.
	waitDelay = 5 * time.Second
)

// ExecutorLock prevents the zombie reaper from stealing exit statuses of running commands.
var ExecutorLock sync.RWMutex

type CmdUsage struct {
	Sys    time.Duration
	User   time.Duration
	MaxRss int64
}

// LineSink receives every redacted output line. Stream is "stdout" or "stderr".
type LineSink func(stream string, line string)

type Executor struct {
	dir        string
	entrypoint string
	args       []string
	env        []string

	logProxyJSON bool
	maxLineSize  int
	redact       func(string) string
	sink         LineSink
	logger       *log.Logger
}

func NewExecutor(dir string, entrypoint string, args []string, envs []string) *Executor {
	return &Executor{
		dir:         dir,
		entrypoint:  entrypoint,
		args:        args,
		env:         envs,
		maxLineSize: maxLineSize,
		redact:      func(s string) string { return s },
		logger:      log.NewNop(),
	}
}

func (e *Executor) WithLogProxyJSON(enabled bool) *Executor {
	e.logProxyJSON = enabled
	return e
}

// WithRedact sets a function to mask output lines before logging.
func (e *Executor) WithRedact(fn func(string) string) *Executor {
	if fn != nil {
		e.redact = fn
	}
	return e
}

func (e *Executor) WithLineSink(sink LineSink) *Executor {
	e.sink = sink
	return e
}

func (e *Executor) WithLogger(logger *log.Logger) *Executor {
	e.logger = logger
	return e
}

// command creates a process in its own group, so cancellation kills its children too.
func (e *Executor) command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.entrypoint, e.args...)
	cmd.Env = append([]string{}, e.env...)
	cmd.Dir = e.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// Output runs the command and returns its combined stdout and stderr.
func (e *Executor) Output(ctx context.Context) ([]byte, error) {
	cmd := e.command(ctx)
	e.logger.Debug("Executing command",
		slog.String("command", strings.Join(cmd.Args, " ")),
		slog.String("dir", cmd.Dir))

	ExecutorLock.RLock()
	defer ExecutorLock.RUnlock()

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// RunAndLogLines runs the command and logs every output line with logLabels.
func (e *Executor) RunAndLogLines(ctx context.Context, logLabels map[string]string) (*CmdUsage, error) {
	logger := e.logger
	for k, v := range logLabels {
		logger = logger.With(slog.String(k, v))
	}
	stdoutLogger := logger.With(slog.String("output", "stdout"))
	stderrLogger := logger.With(slog.String("output", "stderr"))

	cmd := e.command(ctx)
	logger.Debug("Executing command",
		slog.String("command", strings.Join(cmd.Args, " ")),
		slog.String("dir", cmd.Dir))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	ExecutorLock.RLock()
	defer ExecutorLock.RUnlock()

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.proxyLines(stdout, "stdout", stdoutLogger, logLabels)
	}()
	go func() {
		defer wg.Done()
		e.proxyLines(stderr, "stderr", stderrLogger, logLabels)
	}()
	wg.Wait()

	err = cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}

	var usage *CmdUsage
	if cmd.ProcessState != nil {
		usage = &CmdUsage{
			Sys:  cmd.ProcessState.SystemTime(),
			User: cmd.ProcessState.UserTime(),
		}
		// Maxrss is Unix specific.
		sysUsage := cmd.ProcessState.SysUsage()
		if v, ok := sysUsage.(*syscall.Rusage); ok {
			// v.Maxrss is int32 on arm/v7
			usage.MaxRss = int64(v.Maxrss)
		}
	}

	return usage, err
}

func (e *Executor) proxyLines(r io.Reader, stream string, logger *log.Logger, logLabels map[string]string) {
	emit := func(raw []byte) {
		line := e.redact(string(raw))
		if e.sink != nil {
			e.sink(stream, line)
		}
		if e.logProxyJSON {
			e.proxyJSONLine(line, stream, logger, logLabels)
			return
		}
		logger.Info(line)
	}

	reader := bufio.NewReaderSize(r, readBufferSize)
	var buf []byte
	split := false
	for {
		fragment, isPrefix, err := reader.ReadLine()
		if err != nil {
			if len(buf) > 0 {
				emit(buf)
			}
			if !errors.Is(err, io.EOF) {
				logger.Warn("read output", log.Err(err))
				// Drain the rest to let the process exit.
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}

		buf = append(buf, fragment...)
		for len(buf) >= e.maxLineSize {
			emit(buf[:e.maxLineSize])
			buf = append(buf[:0], buf[e.maxLineSize:]...)
			split = true
		}
		if isPrefix {
			continue
		}
		if len(buf) > 0 || !split {
			emit(buf)
		}
		buf = buf[:0]
		split = false
	}
}

func (e *Executor) proxyJSONLine(line string, stream string, logger *log.Logger, logLabels map[string]string) {
	var obj interface{}
	if err := json.Unmarshal([]byte(line), &obj); err != nil {
		logger.Debug("unmarshal json log line", log.Err(err))
		// fall back to using the logger
		logger.Info(line)
		return
	}
	logMap, ok := obj.(map[string]interface{})
	if !ok {
		logger.Debug("json log line not map[string]interface{}", slog.Any("line", obj))
		// fall back to using the logger
		logger.Info(line)
		return
	}

	for k, v := range logLabels {
		logMap[k] = v
	}
	logMap["output"] = stream

	logLine, err := json.Marshal(logMap)
	if err != nil {
		logger.Debug("marshal json log line", log.Err(err))
		logger.Info(line)
		return
	}
	// Mark this record as json that needs to be proxied as is.
	logger.Info(string(logLine), slog.Bool(app.ProxyJsonLogKey, true))
}

// ExitCode returns an exit code of the finished process, 0 for nil error
// and -1 when the process was not started or was killed by a signal.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
