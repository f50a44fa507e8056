package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/agentoven/hearth/internal/tools"
)

// ToolsCmd lists the tool registry as configured by the environment.
type ToolsCmd struct {
	Format string `short:"f" enum:"table,json" default:"table" help:"Output format."`
}

func (c *ToolsCmd) Run(cli *CLI) error {
	cfg := cli.loadConfig()
	registry := tools.BuildRegistry(cfg.Tools, tools.DefaultCapabilities())
	infos := registry.Infos()

	if c.Format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tAVAILABLE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%t\n", info.Name, info.Available)
	}
	return w.Flush()
}
