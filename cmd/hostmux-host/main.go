// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Hostmux-host runs a shell under a PTY and streams its output to a
// consumer through the hostmux pipeline: registry, backpressure,
// coalescing queue, ring buffer, wire protocol.
//
// Consumer-bound messages (output, exit, status, trash lifecycle)
// are CBOR-encoded on stdout; host-bound messages (input, resize,
// acknowledgements) are read from stdin. Diagnostics go to stderr.
// hostmux-view speaks the other end of this protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/fxamacker/cbor/v2"
	flag "github.com/spf13/pflag"

	"github.com/hostmux/hostmux/config"
	"github.com/hostmux/hostmux/host"
	"github.com/hostmux/hostmux/lib/codec"
	"github.com/hostmux/hostmux/lib/ipc"
	"github.com/hostmux/hostmux/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		shell      string
		projectID  string
		terminalID string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "", "YAML config file (default: $HOSTMUX_CONFIG, then built-in defaults)")
	flag.StringVar(&shell, "shell", "", "command to run under the PTY (default: $SHELL, then /bin/sh)")
	flag.StringVar(&projectID, "project", "default", "project id the terminal is attributed to")
	flag.StringVar(&terminalID, "terminal-id", "", "terminal id (default: generated)")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	configuration, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ring, err := stream.NewRingBuffer(configuration.Ring.SizeBytes)
	if err != nil {
		return fmt.Errorf("creating ring buffer: %w", err)
	}

	pipeline, err := host.New(host.Config{
		Config: configuration,
		Ring:   ring,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	wire := newWireWriter(os.Stdout, logger)
	pipeline.AddObserver(wire)

	drainer := host.NewDrainer(host.DrainerConfig{
		Ring:     ring,
		Interval: configuration.Queue.FlushInterval,
		Logger:   logger,
		OnData:   pipeline.DispatchData,
	})

	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	command := exec.Command(shell)
	ptyFile, err := pty.Start(command)
	if err != nil {
		return fmt.Errorf("starting %q under a pty: %w", shell, err)
	}
	defer ptyFile.Close()

	session := &ptySession{file: ptyFile, process: command.Process}
	assignedID, err := pipeline.Attach(terminalID, projectID, session)
	if err != nil {
		return fmt.Errorf("attaching terminal: %w", err)
	}
	logger.Info("terminal attached",
		"terminal_id", assignedID, "project", projectID, "shell", shell)

	pipeline.Start()
	drainer.Start()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Process exit is the normal way out. The read loop sees EOF on
	// the PTY; Wait supplies the code.
	exited := make(chan int, 1)
	go func() {
		waitErr := command.Wait()
		code := 0
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
		exited <- code
	}()

	go consumeInbound(pipeline, logger)

	select {
	case code := <-exited:
		// Let the tail of the session's output through before the
		// exit message.
		drainer.Stop()
		pipeline.Stop()
		drainer.Drain()
		pipeline.ReportExit(assignedID, code)
		logger.Info("terminal exited", "terminal_id", assignedID, "exit_code", code)
		return nil
	case <-ctx.Done():
		pipeline.Kill(assignedID)
		drainer.Stop()
		pipeline.Stop()
		drainer.Drain()
		return nil
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// consumeInbound decodes consumer → host messages from stdin until
// the stream closes.
func consumeInbound(pipeline *host.Host, logger *slog.Logger) {
	decoder := codec.NewDecoder(os.Stdin)
	for {
		var message ipc.Message
		if err := decoder.Decode(&message); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error("inbound decode failed", "error", err)
			}
			return
		}
		switch message.Kind {
		case ipc.KindInput:
			if err := pipeline.Write(message.TerminalID, message.Data); err != nil {
				logger.Debug("input rejected", "terminal_id", message.TerminalID, "error", err)
			}
		case ipc.KindResize:
			if err := pipeline.Resize(message.TerminalID, message.Columns, message.Rows); err != nil {
				logger.Debug("resize rejected", "terminal_id", message.TerminalID, "error", err)
			}
		case ipc.KindAcknowledge:
			pipeline.AcknowledgeData(message.TerminalID, message.Length)
		default:
			logger.Debug("unexpected inbound message", "kind", message.Kind)
		}
	}
}

// ptySession adapts a PTY file plus its process to the host session
// interface.
type ptySession struct {
	file    *os.File
	process *os.Process
}

func (session *ptySession) Read(p []byte) (int, error)  { return session.file.Read(p) }
func (session *ptySession) Write(p []byte) (int, error) { return session.file.Write(p) }

func (session *ptySession) Resize(columns, rows uint16) error {
	return pty.Setsize(session.file, &pty.Winsize{Cols: columns, Rows: rows})
}

func (session *ptySession) Kill() error {
	err := session.process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// wireWriter serializes host events onto the consumer stream. One
// writer guards stdout: output messages and lifecycle messages
// interleave but never tear.
type wireWriter struct {
	mu      sync.Mutex
	encoder *cbor.Encoder
	logger  *slog.Logger
}

func newWireWriter(writer io.Writer, logger *slog.Logger) *wireWriter {
	return &wireWriter{encoder: codec.NewEncoder(writer), logger: logger}
}

func (wire *wireWriter) send(message ipc.Message) {
	wire.mu.Lock()
	defer wire.mu.Unlock()
	if err := wire.encoder.Encode(message); err != nil {
		wire.logger.Error("wire send failed", "kind", message.Kind, "error", err)
	}
}

func (wire *wireWriter) TerminalData(terminalID string, data []byte) {
	wire.send(ipc.Message{Kind: ipc.KindOutput, TerminalID: terminalID, Data: data})
}

func (wire *wireWriter) TerminalExit(terminalID string, exitCode int) {
	wire.send(ipc.Message{Kind: ipc.KindExit, TerminalID: terminalID, ExitCode: exitCode})
}

func (wire *wireWriter) TerminalError(terminalID string, err error) {
	wire.send(ipc.Message{Kind: ipc.KindError, TerminalID: terminalID, Error: err.Error()})
}

func (wire *wireWriter) TerminalStatus(event host.StatusEvent) {
	wire.send(ipc.Message{
		Kind:       ipc.KindStatus,
		TerminalID: event.TerminalID,
		Status: &ipc.StatusPayload{
			BufferUtilization: event.BufferUtilization,
			PauseDuration:     event.PauseDuration,
			PendingBytes:      event.PendingBytes,
		},
	})
}

func (wire *wireWriter) TerminalTrashed(terminalID string, expiresAt time.Time) {
	wire.send(ipc.Message{Kind: ipc.KindTrashed, TerminalID: terminalID, ExpiresAt: expiresAt})
}

func (wire *wireWriter) TerminalRestored(terminalID string) {
	wire.send(ipc.Message{Kind: ipc.KindRestored, TerminalID: terminalID})
}
