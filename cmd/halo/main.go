package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"halo/internal/config"
	"halo/internal/diag"
)

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitSetup   = 3
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute 运行一次 CLI 调用并返回退出码。
func execute(args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = config.LoadDotEnv(".env")
	app := newApp(stdout, stderr)
	root := newRootCommand(app)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	defer func() { _ = app.logger.Sync() }()
	if err == nil {
		return exitOK
	}
	code := exitRuntime
	var ee *exitError
	if errors.As(err, &ee) {
		code = ee.code
	}
	app.logger.Error("cli", string(diag.Classify(err)), "first error", &app.start)
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(stderr, err)
	}
	return code
}

// exitError 携带退出码；msg 非空时作为展示文本。
type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func setupError(msg string, err error) error {
	return &exitError{code: exitSetup, err: fmt.Errorf("%s: %w", msg, err)}
}

// appContext 为各子命令共享的全局旗标与运行期对象。
type appContext struct {
	configPath string
	llm        string
	level      string
	poolSize   int
	maxRetries int
	logLevel   string
	status     bool

	stdout io.Writer
	stderr io.Writer
	start  time.Time
	corrID string
	logger *diag.Logger
}

func newApp(stdout, stderr io.Writer) *appContext {
	id := uuid.NewString()
	return &appContext{
		stdout: stdout,
		stderr: stderr,
		start:  time.Now(),
		corrID: id,
		// 先以默认级别占位，解析配置后按最终 level 重建
		logger: diag.NewLogger(id, "info"),
	}
}
