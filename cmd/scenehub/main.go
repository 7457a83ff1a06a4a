package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "scenehub",
		Short: "Live session directory and notification hub for chat-bot services",
		Long: `scenehub keeps the live scene directory for a task-management chat bot:
which user is in which multi-step interaction, on which page, looking at
which item. Sibling services drive it over HTTP to refresh or close scenes
in bulk and to deliver page-aware notifications through the configured
messaging platforms.`,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scenehub %s\n", version)
		},
	}
}
