package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quarry0/quarry/internal/config"
	"github.com/quarry0/quarry/internal/document"
)

// runAsk answers a single question and exits.
func runAsk() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("no question given: quarry ask \"question\"")
	}
	question := strings.TrimSpace(strings.Join(os.Args[2:], " "))
	if question == "" {
		return fmt.Errorf("question is empty")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r, err := newRetriever(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}

	answer, err := r.Ask(ctx, question, nil)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	printAnswer(answer)
	return nil
}

// printAnswer writes an answer and its sources to stdout.
func printAnswer(answer document.Answer) {
	if answer.NoAnswer {
		fmt.Println("No answer could be generated. Closest matches:")
	} else {
		fmt.Println(answer.Text)
	}
	if len(answer.Sources) == 0 {
		return
	}
	fmt.Println()
	fmt.Println("Sources:")
	for _, src := range answer.Sources {
		fmt.Printf("  [%.3f] %s (chunk %d)\n", src.Score, src.Chunk.Source, src.Chunk.Seq)
	}
}
