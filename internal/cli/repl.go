package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. App satisfies it;
// tests provide a stub.
type execIface interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Sync(ctx context.Context) error
	ShowStatus(ctx context.Context) error
	Devices(ctx context.Context) error
	Add(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	Passphrase(ctx context.Context) error
	AutoSync(ctx context.Context, args []string) error
}

const helpText = `Available commands:
  enable             turn on sync with a shared passphrase
  disable            turn off sync and forget the key
  sync               sync with trusted devices now
  status             show sync status
  devices            list this, trusted and discovered devices
  add <id>           trust a discovered device
  remove <id>        stop trusting a device
  auto on|off        switch periodic sync
  passphrase         suggest a random passphrase
  exit | quit        leave the program`

// runREPL reads commands line by line from reader and dispatches them to a.
// Handlers print their own errors, so the loop keeps going after a failure.
// It returns on EOF or exit/quit.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("focus %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)
		case "enable":
			_ = a.Enable(ctx)
		case "disable":
			_ = a.Disable(ctx)
		case "sync":
			_ = a.Sync(ctx)
		case "status":
			_ = a.ShowStatus(ctx)
		case "devices", "ls":
			_ = a.Devices(ctx)
		case "add":
			_ = a.Add(ctx, args)
		case "remove", "rm":
			_ = a.Remove(ctx, args)
		case "auto":
			_ = a.AutoSync(ctx, args)
		case "passphrase":
			_ = a.Passphrase(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if ctx.Err() != nil {
			return
		}
	}
}
