// Command ridgeql is the interactive front end for the storage engine: a
// single positional argument names the database file, then commands are
// read from stdin until `.exit` or EOF.
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"ridgeql/internal/repl"
	"ridgeql/internal/table"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Must supply a database filename.")
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	filename := os.Args[1]
	t, err := table.Open(filename, sugar)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}

	console, err := repl.New(t, sugar)
	if err != nil {
		fmt.Printf("Error starting REPL: %v\n", err)
		os.Exit(1)
	}

	if err := console.Run(); err != nil {
		sugar.Fatalw("repl exited with error", "error", err)
	}
}
