// Hearth is a personal assistant backend. It runs the reasoning loop behind
// an HTTP API that streams replies as server-sent events, and can answer a
// single message from the terminal.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/hearth/internal/config"
)

// CLI is the command tree.
type CLI struct {
	EnvFile  string `default:".env" help:"Dotenv file loaded before configuration is read."`
	LogLevel string `env:"HEARTH_LOG_LEVEL" enum:"trace,debug,info,warn,error" default:"info" help:"Log level."`

	Serve ServeCmd `cmd:"" default:"1" help:"Run the HTTP server (default)."`
	Ask   AskCmd   `cmd:"" help:"Answer one message and print the reply."`
	Tools ToolsCmd `cmd:"" help:"List tools and whether they are usable."`
}

// AfterApply runs once flags are parsed and before any command.
func (c *CLI) AfterApply() error {
	if err := godotenv.Load(c.EnvFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", c.EnvFile, err)
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

// loadConfig reads configuration after the dotenv file was applied.
func (c *CLI) loadConfig() *config.Config {
	cfg := config.Load()
	cfg.LogLevel = c.LogLevel
	return cfg
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("hearth"),
		kong.Description("Personal assistant backend."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
