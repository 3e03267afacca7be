// gitd-server is the hosting process: it serves the transfer protocol
// and the pull-request HTTP API over the repositories under one root.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/makeos-kit/gitd/config"
	"github.com/makeos-kit/gitd/httpapi"
	"github.com/makeos-kit/gitd/prstore"
	"github.com/makeos-kit/gitd/server"
)

var (
	// BuildVersion is the build version set by goreleaser
	BuildVersion = ""

	cfg = config.EmptyAppConfig()
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "gitd-server",
		Short:   "Serve hosted repositories over the transfer protocol and HTTP API",
		Version: BuildVersion,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.SetDataDir(viper.GetString("datadir"))
			config.Configure(cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("datadir", config.DefaultDataDir, "Directory for configuration, logs and hosted repositories")
	pf.String("reporoot", "", "Directory hosted repositories live under (default <datadir>/repos)")
	pf.String("listen", config.DefaultListenAddr, "Transfer protocol listening address")
	pf.String("httpaddr", config.DefaultHTTPAddr, "HTTP API listening address")
	pf.String("databaseurl", "", "PostgreSQL URL for the pull-request store (DATABASE_URL overrides)")
	pf.String("loglevel", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlags(pf)

	createRepoCmd := &cobra.Command{
		Use:   "create-repo <name>",
		Short: "Provision an empty hosted repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			srv := server.New(cfg, nil, cfg.G().Log)
			if err := srv.CreateRepo(args[0]); err != nil {
				return err
			}
			fmt.Println("Created repository", args[0])
			return nil
		},
	}
	rootCmd.AddCommand(createRepoCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}

func run() error {
	log := cfg.G().Log

	var prs httpapi.Store
	if cfg.DatabaseURL != "" {
		pg, err := prstore.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		prs = pg
	} else {
		log.Warn("No database configured; the pull-request API is disabled")
	}

	srv := server.New(cfg, prs, log)
	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("Shutting down")
	srv.Stop()
	return nil
}
