package drivers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cuemby/hive/pkg/health"
	"github.com/cuemby/hive/pkg/object"
	"github.com/cuemby/hive/pkg/resource"
	"github.com/cuemby/hive/pkg/types"
	"github.com/prometheus/procfs"
)

// StopGrace is the delay between SIGTERM and SIGKILL when an app has no
// stop command
var StopGrace = 5 * time.Second

// App is the app.simple driver: a start command run in the background, an
// optional stop command, and optional health checks deciding the status
type App struct {
	rid      string
	start    string
	stop     string
	cwd      string
	pidFile  string
	logFile  string
	checkers []health.Checker

	mu      sync.Mutex
	lastLog string
}

var (
	_ resource.Driver     = (*App)(nil)
	_ resource.Rollbacker = (*App)(nil)
	_ resource.Logger     = (*App)(nil)
)

// NewApp is the app.simple constructor
func NewApp(rid string, cfg object.ResourceConfig, env resource.Env) (resource.Driver, error) {
	start := cfg.Options["start"]
	if start == "" {
		return nil, fmt.Errorf("start keyword is required")
	}

	base := strings.ReplaceAll(env.Path, "/", "_") + "." + strings.ReplaceAll(rid, "#", "_")
	a := &App{
		rid:     rid,
		start:   start,
		stop:    cfg.Options["stop"],
		cwd:     cfg.Options["cwd"],
		pidFile: filepath.Join(env.DataDir, "run", base+".pid"),
		logFile: filepath.Join(env.DataDir, "log", base+".log"),
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = object.DefaultResourceTimeout
	}
	if cmd := cfg.Options["check"]; cmd != "" {
		a.checkers = append(a.checkers, health.NewExecChecker(cmd).WithDir(a.cwd).WithTimeout(timeout))
	}
	if addr := cfg.Options["check_tcp"]; addr != "" {
		a.checkers = append(a.checkers, health.NewTCPChecker(addr))
	}
	if url := cfg.Options["check_http"]; url != "" {
		checker := health.NewHTTPChecker(url)
		checker.Timeout = timeout
		if spec := cfg.Options["check_http_status"]; spec != "" {
			accept, err := health.ParseStatusRange(spec)
			if err != nil {
				return nil, fmt.Errorf("check_http_status: %v", err)
			}
			checker.Accept = accept
		}
		a.checkers = append(a.checkers, checker)
	}
	return a, nil
}

// Status runs the health checks when configured, otherwise reports if the
// started process is alive
func (a *App) Status(ctx context.Context) (types.Status, error) {
	if len(a.checkers) > 0 {
		result := health.All(ctx, a.checkers...)
		a.setLog(result)
		return result.Status(), nil
	}

	pid, ok := a.pid()
	if !ok || !alive(pid) {
		a.setLog(health.Result{Message: "not running"})
		return types.StatusDown, nil
	}
	a.setLog(health.Result{Healthy: true, Message: fmt.Sprintf("pid %d", pid)})
	return types.StatusUp, nil
}

// StatusLog returns the message of the last status evaluation
func (a *App) StatusLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastLog == "" {
		return nil
	}
	return []string{a.lastLog}
}

func (a *App) setLog(r health.Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.Healthy {
		a.lastLog = ""
		return
	}
	a.lastLog = r.Message
}

// Start runs the start command in its own process group and records its pid
func (a *App) Start(ctx context.Context) error {
	if pid, ok := a.pid(); ok && alive(pid) {
		return nil
	}

	for _, dir := range []string{filepath.Dir(a.pidFile), filepath.Dir(a.logFile)} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	logf, err := os.OpenFile(a.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	// not bound to ctx: the process outlives the action
	cmd := exec.Command("sh", "-c", a.start)
	cmd.Dir = a.cwd
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logf.Close()
		return fmt.Errorf("failed to start %q: %w", a.start, err)
	}
	pid := cmd.Process.Pid
	go func() {
		_ = cmd.Wait()
		logf.Close()
	}()

	if err := os.WriteFile(a.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0600); err != nil {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Stop runs the stop command, or signals the started process group
func (a *App) Stop(ctx context.Context) error {
	defer os.Remove(a.pidFile)

	if a.stop != "" {
		result := health.NewExecChecker(a.stop).WithDir(a.cwd).WithTimeout(timeoutOf(ctx)).Check(ctx)
		if !result.Healthy {
			return errors.New(result.Message)
		}
		return nil
	}

	pid, ok := a.pid()
	if !ok || !alive(pid) {
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	deadline := time.NewTimer(StopGrace)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !alive(pid) {
				return nil
			}
		case <-deadline.C:
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			return nil
		case <-ctx.Done():
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			return ctx.Err()
		}
	}
}

// Rollback stops an app started by a failed action
func (a *App) Rollback(ctx context.Context, action string) error {
	if action == "start" {
		return a.Stop(ctx)
	}
	return resource.ErrNotSupported
}

func (a *App) pid() (int, bool) {
	data, err := os.ReadFile(a.pidFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// alive reports if pid exists and is not a zombie
func alive(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return false
	}
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return true
	}
	stat, err := proc.Stat()
	if err != nil {
		return true
	}
	return stat.State != "Z"
}

func timeoutOf(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return object.DefaultResourceTimeout
}
