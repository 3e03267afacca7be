// gitd is the command-line front end: a dispatch table over the
// commands layer, run against the repository at the current working
// directory.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/makeos-kit/gitd/commands"
	"github.com/makeos-kit/gitd/pkgs/logger"
	"github.com/makeos-kit/gitd/refstore"
)

var (
	// BuildVersion is the build version set by goreleaser
	BuildVersion = ""
)

func main() {
	log := logger.NewLogrus()
	registry := commands.NewRegistry(log)

	rootCmd := &cobra.Command{
		Use:     "gitd <command> [args...]",
		Short:   "Content-addressed version control with hosted pull requests",
		Version: BuildVersion,
		// Command arguments (-m, -d, ...) belong to the dispatched
		// command, not to cobra.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
				printUsage(registry)
				return nil
			}
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			out, err := registry.Dispatch(context.Background(), args[0], args[1:], refstore.NewPaths(wd))
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Println(out)
			}
			return nil
		},
	}
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}

func printUsage(registry commands.Registry) {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("usage: gitd <command> [args...]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, name := range names {
		fmt.Println("  " + name)
	}
}
