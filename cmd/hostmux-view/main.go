// Copyright 2026 The Hostmux Authors
// SPDX-License-Identifier: Apache-2.0

// Hostmux-view is the consumer half of the hostmux wire protocol. It
// spawns hostmux-host, puts the local terminal into raw mode, and
// bridges the two: local keystrokes become input messages, host
// output messages are rendered and acknowledged, window changes are
// forwarded as resizes.
//
// Usage:
//
//	hostmux-view [--host-binary path] [--shell command] [--config file]
//
// The session ends when the remote shell exits; hostmux-view exits
// with the shell's exit code.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/hostmux/hostmux/lib/codec"
	"github.com/hostmux/hostmux/lib/ipc"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run() (int, error) {
	var (
		hostBinary string
		shell      string
		configPath string
	)

	flag.StringVar(&hostBinary, "host-binary", "hostmux-host", "path to the hostmux-host binary")
	flag.StringVar(&shell, "shell", "", "command for the remote shell (passed through to the host)")
	flag.StringVar(&configPath, "config", "", "config file passed through to the host")
	flag.Parse()

	stdinFD := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFD) {
		return 0, errors.New("stdin is not a terminal")
	}

	terminalID := uuid.NewString()
	arguments := []string{"--terminal-id", terminalID}
	if shell != "" {
		arguments = append(arguments, "--shell", shell)
	}
	if configPath != "" {
		arguments = append(arguments, "--config", configPath)
	}

	command := exec.Command(hostBinary, arguments...)
	command.Stderr = os.Stderr
	toHost, err := command.StdinPipe()
	if err != nil {
		return 0, err
	}
	fromHost, err := command.StdoutPipe()
	if err != nil {
		return 0, err
	}
	if err := command.Start(); err != nil {
		return 0, fmt.Errorf("starting %q: %w", hostBinary, err)
	}

	previousState, err := term.MakeRaw(stdinFD)
	if err != nil {
		return 0, fmt.Errorf("entering raw mode: %w", err)
	}
	restore := func() { _ = term.Restore(stdinFD, previousState) }
	defer restore()

	sender := &wireSender{encoder: codec.NewEncoder(toHost)}

	// Seed the remote window size, then track changes.
	sendSize := func() {
		columns, rows, sizeErr := term.GetSize(stdinFD)
		if sizeErr != nil {
			return
		}
		sender.send(ipc.Message{
			Kind:       ipc.KindResize,
			TerminalID: terminalID,
			Columns:    uint16(columns),
			Rows:       uint16(rows),
		})
	}
	sendSize()
	windowChanged := make(chan os.Signal, 1)
	signal.Notify(windowChanged, syscall.SIGWINCH)
	go func() {
		for range windowChanged {
			sendSize()
		}
	}()

	// Keyboard → input messages.
	go func() {
		buffer := make([]byte, 1024)
		for {
			n, readErr := os.Stdin.Read(buffer)
			if n > 0 {
				sender.send(ipc.Message{
					Kind:       ipc.KindInput,
					TerminalID: terminalID,
					Data:       append([]byte(nil), buffer[:n]...),
				})
			}
			if readErr != nil {
				return
			}
		}
	}()

	exitCode := 0
	decoder := codec.NewDecoder(fromHost)
	for {
		var message ipc.Message
		if err := decoder.Decode(&message); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			restore()
			return 0, fmt.Errorf("decoding host stream: %w", err)
		}
		switch message.Kind {
		case ipc.KindOutput:
			os.Stdout.Write(message.Data)
			sender.send(ipc.Message{
				Kind:       ipc.KindAcknowledge,
				TerminalID: message.TerminalID,
				Length:     int64(len(message.Data)),
			})
		case ipc.KindExit:
			exitCode = message.ExitCode
			fmt.Fprintf(os.Stderr, "\r\n[terminal exited: %d]\r\n", message.ExitCode)
		case ipc.KindError:
			fmt.Fprintf(os.Stderr, "\r\n[terminal error: %s]\r\n", message.Error)
		case ipc.KindStatus:
			if message.Status != nil {
				fmt.Fprintf(os.Stderr, "\r\n[terminal paused %s, %d bytes pending]\r\n",
					message.Status.PauseDuration, message.Status.PendingBytes)
			}
		case ipc.KindTrashed:
			fmt.Fprintf(os.Stderr, "\r\n[terminal trashed until %s]\r\n", message.ExpiresAt)
		case ipc.KindRestored:
			fmt.Fprintf(os.Stderr, "\r\n[terminal restored]\r\n")
		}
	}

	toHost.Close()
	_ = command.Wait()
	return exitCode, nil
}

// wireSender serializes viewer → host messages. Keyboard, resize, and
// acknowledgement goroutines share the one encoder.
type wireSender struct {
	mu      sync.Mutex
	encoder *cbor.Encoder
}

func (sender *wireSender) send(message ipc.Message) {
	sender.mu.Lock()
	defer sender.mu.Unlock()
	_ = sender.encoder.Encode(message)
}
