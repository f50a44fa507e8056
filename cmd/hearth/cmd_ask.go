package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentoven/hearth/internal/orchestrator"
	"github.com/agentoven/hearth/internal/stream"
	"github.com/agentoven/hearth/pkg/server"
)

// AskCmd runs one turn in-process and prints the reply as it streams.
type AskCmd struct {
	Message      []string `arg:"" help:"Message to send."`
	Conversation string   `short:"c" help:"Continue this conversation id."`
	User         string   `short:"u" default:"local" help:"User id."`
	NoFastTrack  bool     `help:"Always run the full reasoning loop."`
}

func (c *AskCmd) Run(cli *CLI) error {
	cfg := cli.loadConfig()
	if c.NoFastTrack {
		cfg.Model.FastTrack = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.ShutdownFunc(context.WithoutCancel(ctx))

	turn, err := srv.Service.Start(ctx, orchestrator.TurnRequest{
		ConversationID: c.Conversation,
		UserID:         c.User,
		Message:        strings.Join(c.Message, " "),
	})
	if errors.Is(err, orchestrator.ErrEmptyMessage) {
		return err
	}
	if err != nil {
		fmt.Fprintln(os.Stdout, stream.FailureMessage)
		return err
	}

	if _, err := turn.Stream(ctx, stream.TextSink{W: os.Stdout}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "conversation: %s\n", turn.ConversationID)
	return nil
}
