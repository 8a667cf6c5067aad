package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/quarry0/quarry/internal/config"
	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/retriever"
)

// runChat starts an interactive loop. Conversation history lives in
// process memory only and feeds query reformulation on follow-ups.
func runChat() error {
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

	fmt.Println("Quarry chat. Ask a question, /clear to reset history, /exit to quit.")

	var history []document.Turn
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			// Ctrl+D or closed stdin ends the session.
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/exit", "/quit":
			return nil
		case "/clear":
			history = nil
			fmt.Println("History cleared.")
			continue
		}

		answer, err := r.Ask(ctx, line, history)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, retriever.ErrRetrievalUnavailable) || errors.Is(err, retriever.ErrGenerationUnavailable) {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			return fmt.Errorf("answering question: %w", err)
		}

		printAnswer(answer)
		fmt.Println()
		history = append(history, document.Turn{Query: line, Answer: answer.Text})
	}
}
