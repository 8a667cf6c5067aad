// Package cmd provides CLI commands for quarry.
//
// Commands:
//   - index: Ingest files or websites, chunk, embed, and persist the index
//   - ask: Answer a single question against the built index
//   - chat: Interactive question answering with in-process history
//   - serve: HTTP API server exposing the query endpoint
//
// Signal handling and graceful shutdown are implemented
// for the long-running commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
)

// Execute is the main entry point for the quarry CLI application.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "index":
		return runIndex()
	case "ask":
		return runAsk()
	case "chat":
		return runChat()
	case "serve":
		return runServe()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Quarry - Retrieval-augmented question answering over your documents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  quarry index <path|url>...  Ingest sources and build the index")
	fmt.Println("  quarry ask \"question\"       Answer a single question")
	fmt.Println("  quarry chat                 Start interactive chat mode")
	fmt.Println("  quarry serve [addr]         Start HTTP API server (default: :8080)")
	fmt.Println("  quarry --version            Show version information")
	fmt.Println("  quarry --help               Show this help")
	fmt.Println()
	fmt.Println("Index flags:")
	fmt.Println("  --store                     Persist chunks to Postgres as well")
	fmt.Println("  --snapshot <path>           Snapshot file path (default: ~/.quarry/index.gob)")
	fmt.Println()
	fmt.Println("Chat commands (in interactive mode):")
	fmt.Println("  /clear                      Clear conversation history")
	fmt.Println("  /exit, /quit                Exit quarry")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY              Required: Gemini API key")
	fmt.Println("  DEBUG                       Optional: Enable debug logging")
	fmt.Println("  QUARRY_SNAPSHOT_PATH        Optional: Index snapshot location")
	fmt.Println("  DATABASE_URL                Optional: Postgres connection URL")
}
