// personamux-repl is the per-pane input loop launched by start, one
// instance per persona pane.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"personamux/internal/config"
	"personamux/internal/fsutil"
	"personamux/internal/logging"
	"personamux/internal/persona"
	"personamux/internal/repl"
)

func main() {
	if err := newReplCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newReplCmd() *cobra.Command {
	var personaName string
	var repoRoot string
	var socketPath string

	cmd := &cobra.Command{
		Use:           "personamux-repl",
		Short:         "Per-pane persona REPL",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := persona.Key(personaName)
			if !persona.Valid(key) {
				return fmt.Errorf("unknown persona %q, expected one of: %s",
					personaName, strings.Join(persona.KeyStrings(), ", "))
			}
			if repoRoot == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				repoRoot = cwd
			}
			if err := os.Chdir(repoRoot); err != nil {
				return err
			}
			os.Setenv(persona.EnvVar, personaName)

			paths := fsutil.NewPaths(repoRoot)
			cfg, err := config.Load(paths.ConfigFile())
			if err != nil {
				return err
			}
			level, _ := logging.ParseLevel(cfg.LogLevel)
			logger := logging.NewLogger(nil, level)

			return repl.New(repl.Options{
				Persona:    key,
				RepoRoot:   repoRoot,
				SocketPath: socketPath,
				Config:     cfg,
				Logger:     logger,
			}).Run()
		},
	}
	cmd.Flags().StringVar(&personaName, "persona", "", "persona key (pm/impl/review/docs)")
	cmd.Flags().StringVar(&repoRoot, "repo-root", "", "coordination root directory")
	cmd.Flags().StringVar(&socketPath, "socket", "", "broker socket path (default: derived from repo root)")
	_ = cmd.MarkFlagRequired("persona")
	return cmd
}
