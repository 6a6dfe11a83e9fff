package fetchpool

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/crawl"
)

// scanBufferSize bounds one protocol line; bodies ride inside the JSON so
// the limit has to accommodate whole pages.
const scanBufferSize = 32 * 1024 * 1024

// ProcConfig describes how to start a worker process. Binary defaults to
// the current executable; Args should invoke the worker entrypoint, e.g.
// ["fetch-worker", "--fetch-timeout", "5s"].
type ProcConfig struct {
	Binary string
	Args   []string
}

// NewProcFactory returns a Factory that spawns worker subprocesses speaking
// the newline-JSON protocol on stdin/stdout. Stderr is inherited so worker
// logs interleave with the parent's.
func NewProcFactory(cfg ProcConfig, logger *zap.Logger) (Factory, error) {
	binary := cfg.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		binary = exe
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(id int) (Unit, error) {
		return startProcUnit(id, binary, cfg.Args, logger)
	}, nil
}

// procUnit wraps one worker subprocess. Fetch is not safe for concurrent
// use; the pool drives each unit from a single goroutine per batch.
type procUnit struct {
	id      int
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	logger  *zap.Logger
	killed  atomic.Bool
}

func startProcUnit(id int, binary string, args []string, logger *zap.Logger) (*procUnit, error) {
	cmd := exec.Command(binary, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)

	logger.Debug("worker process started", zap.Int("unit", id), zap.Int("pid", cmd.Process.Pid))
	return &procUnit{
		id:      id,
		cmd:     cmd,
		stdin:   stdin,
		scanner: scanner,
		logger:  logger,
	}, nil
}

func (u *procUnit) ID() int { return u.id }

// Fetch writes one request line and blocks until the worker answers or the
// process dies. A killed process surfaces here as a closed stream.
func (u *procUnit) Fetch(url string) (crawl.FetchResult, error) {
	req, err := json.Marshal(workerRequest{URL: url})
	if err != nil {
		return crawl.FetchResult{}, fmt.Errorf("encode request: %w", err)
	}
	if _, err := u.stdin.Write(append(req, '\n')); err != nil {
		return crawl.FetchResult{}, fmt.Errorf("write request: %w", err)
	}
	if !u.scanner.Scan() {
		if err := u.scanner.Err(); err != nil {
			return crawl.FetchResult{}, fmt.Errorf("read result: %w", err)
		}
		return crawl.FetchResult{}, fmt.Errorf("worker %d closed its result stream", u.id)
	}
	var res crawl.FetchResult
	if err := json.Unmarshal(u.scanner.Bytes(), &res); err != nil {
		return crawl.FetchResult{}, fmt.Errorf("decode result: %w", err)
	}
	return res, nil
}

// Kill forcibly terminates the process. Idempotent.
func (u *procUnit) Kill() {
	if u.killed.Swap(true) {
		return
	}
	_ = u.stdin.Close()
	if u.cmd.Process != nil {
		if err := u.cmd.Process.Kill(); err != nil {
			u.logger.Debug("kill worker process", zap.Int("unit", u.id), zap.Error(err))
		}
	}
	// Reap asynchronously; the process may take a moment to exit.
	go func() {
		_ = u.cmd.Wait()
	}()
}
