// personamux-broker is the long-lived daemon owning the single
// external-assistant conversation. The CLI spawns it detached; it
// serves the unix socket until SIGTERM/SIGINT.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"personamux/internal/artifact"
	"personamux/internal/assistant"
	"personamux/internal/broker"
	"personamux/internal/config"
	"personamux/internal/fsutil"
	"personamux/internal/logging"
)

func main() {
	if err := newBrokerCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newBrokerCmd() *cobra.Command {
	var socketPath string
	var repoRoot string
	var configDir string
	var pidFile string
	var markerFile string

	cmd := &cobra.Command{
		Use:           "personamux-broker",
		Short:         "Serialized assistant broker over a unix socket",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(socketPath, repoRoot, configDir, pidFile, markerFile)
		},
	}
	cmd.Flags().StringVar(&socketPath, "socket", "", "unix socket path")
	cmd.Flags().StringVar(&repoRoot, "repo-root", "", "coordination root directory")
	cmd.Flags().StringVar(&configDir, "assistant-config-dir", "", "assistant state/config directory")
	cmd.Flags().StringVar(&pidFile, "pid-file", "", "pid file path")
	cmd.Flags().StringVar(&markerFile, "session-marker-file", "", "continuation marker path")
	for _, name := range []string{"socket", "repo-root", "assistant-config-dir", "pid-file", "session-marker-file"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func run(socketPath, repoRoot, configDir, pidFile, markerFile string) error {
	paths := fsutil.NewPaths(repoRoot)
	cfg, err := config.Load(paths.ConfigFile())
	if err != nil {
		return err
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewLogger(nil, level)

	if err := fsutil.EnsureDir(paths.ResponsesDir()); err != nil {
		return err
	}

	server := broker.NewServer(broker.ServerOptions{
		SocketPath:         socketPath,
		PIDFile:            pidFile,
		RepoRoot:           repoRoot,
		AssistantConfigDir: configDir,
		Assistant: assistant.NewRunner(assistant.Options{
			Command:    cfg.Assistant.Command,
			RepoRoot:   repoRoot,
			ConfigDir:  configDir,
			MarkerFile: markerFile,
			Logger:     logger,
		}),
		Artifacts: artifact.NewFiles(paths),
		Logger:    logger,
	})
	if err := server.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	return server.Serve(ctx)
}
