// Package cli provides the interactive focussync command-line client.
//
// The CLI hosts a sync agent in-process and drives it through a small REPL:
// enable or disable sync, trigger a cycle, inspect status, and manage the
// trusted device list. Passphrases are read from the terminal without echo.
//
// The REPL is started via App.Root(ctx), which blocks until the user exits.
package cli
