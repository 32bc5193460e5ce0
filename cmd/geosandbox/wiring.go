package main

import (
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geosandbox/internal/bridge"
	"github.com/mohammed-shakir/geosandbox/internal/core/config"
	"github.com/mohammed-shakir/geosandbox/internal/logger"
	"github.com/mohammed-shakir/geosandbox/internal/sandbox"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

func newLogger(cfg config.Config, component string, out io.Writer) *slog.Logger {
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: component,
	}, out)
	return logger.NewSlog(&zl)
}

func sandboxOptions(c config.SandboxCfg, log *slog.Logger) sandbox.Options {
	return sandbox.Options{
		Timeout:          c.Timeout,
		MaxLogEntries:    c.MaxLogEntries,
		MaxOutputBytes:   c.MaxOutputBytes,
		MaxScriptBytes:   c.MaxScriptBytes,
		MaxCallStack:     c.MaxCallStack,
		ProgramCacheSize: c.ProgramCache,
		Logger:           log,
	}
}

// workerArgs carries the sandbox limits to a child worker, which starts with
// an empty environment.
func workerArgs(c config.SandboxCfg) []string {
	return []string{
		"worker",
		"--timeout", c.Timeout.String(),
		"--max-log-entries", strconv.Itoa(c.MaxLogEntries),
		"--max-output-bytes", strconv.Itoa(c.MaxOutputBytes),
		"--max-script-bytes", strconv.Itoa(c.MaxScriptBytes),
		"--max-call-stack", strconv.Itoa(c.MaxCallStack),
		"--program-cache", strconv.Itoa(c.ProgramCache),
		"--max-memory-mb", strconv.Itoa(c.MaxMemoryMB),
	}
}

func newTransport(cfg config.Config, log *slog.Logger) (bridge.Transport, error) {
	if cfg.Sandbox.Isolation != config.IsolationSubprocess {
		return bridge.InProcess{Options: sandboxOptions(cfg.Sandbox, log), Logger: log}, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return bridge.Subprocess{
		Path:   exe,
		Args:   workerArgs(cfg.Sandbox),
		Env:    []string{"LOG_LEVEL=" + cfg.LogLevel},
		Stderr: os.Stderr,
		Logger: log,
	}, nil
}

func bridgeOptions(cfg config.Config, log *slog.Logger) bridge.Options {
	return bridge.Options{
		Timeout:     cfg.Sandbox.Timeout,
		CancelGrace: cfg.Sandbox.CancelGrace,
		Logger:      log,
	}
}
