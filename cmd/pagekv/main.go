// cmd/pagekv/main.go
//
// pagekv CLI - interactive console for pagekv databases.
//
// Usage:
//
//	pagekv [database-file]
//
// If no database file is specified, opens an in-memory database.
// Set PAGEKV_DEBUG=1 to log to stderr. Use .help for available commands.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"pagekv/pkg/cli"
	"pagekv/pkg/kvdb"
	"pagekv/pkg/pager"
)

func main() {
	dbPath := pager.MemoryPath
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}

	logger := zap.NewNop()
	if os.Getenv("PAGEKV_DEBUG") != "" {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
			os.Exit(1)
		}
	}
	defer logger.Sync()

	repl, err := cli.NewREPLWithOptions(dbPath, kvdb.Options{Logger: logger}, os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer repl.Close()

	repl.Run()
}
