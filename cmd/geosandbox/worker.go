package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/geosandbox/internal/core/config"
	"github.com/mohammed-shakir/geosandbox/internal/sandbox"
)

func newWorkerCmd() *cobra.Command {
	d := config.Defaults().Sandbox
	var c config.SandboxCfg
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Serve sandbox requests as newline-delimited JSON on stdin/stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Defaults()
			if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
				cfg.LogLevel = lvl
			}
			// stdout carries the protocol
			log := newLogger(cfg, "worker", os.Stderr)
			if err := sandbox.LimitMemory(int64(c.MaxMemoryMB) << 20); err != nil {
				log.Warn("worker memory limit not applied", "err", err, "max_memory_mb", c.MaxMemoryMB)
			}

			sb, err := sandbox.New(sandboxOptions(c, log))
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return sandbox.NewWorker(sb, log).ServeStream(ctx, os.Stdin, os.Stdout)
		},
	}
	f := cmd.Flags()
	f.DurationVar(&c.Timeout, "timeout", d.Timeout, "per-execution time limit")
	f.IntVar(&c.MaxLogEntries, "max-log-entries", d.MaxLogEntries, "captured console entries per execution")
	f.IntVar(&c.MaxOutputBytes, "max-output-bytes", d.MaxOutputBytes, "serialized output limit")
	f.IntVar(&c.MaxScriptBytes, "max-script-bytes", d.MaxScriptBytes, "script source limit")
	f.IntVar(&c.MaxCallStack, "max-call-stack", d.MaxCallStack, "maximum call stack depth")
	f.IntVar(&c.ProgramCache, "program-cache", d.ProgramCache, "compiled program cache size")
	f.IntVar(&c.MaxMemoryMB, "max-memory-mb", d.MaxMemoryMB, "process memory cap in MiB (0 = none)")
	return cmd
}
