package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"personamux/internal/config"
	"personamux/internal/coordinator"
	"personamux/internal/fsutil"
	"personamux/internal/logging"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "personamux",
		Short:         "Coordinate persona panes sharing one assistant session",
		Long:          "personamux runs four persona panes in a tmux grid, funnels their prompts through one serialized broker, and keeps their shared status resumable across restarts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newSetStatusCmd(),
		newWaitCmd(),
		newAskCmd(),
	)
	return rootCmd
}

// buildCoordinator wires a coordinator for the current working
// directory, loading config and the configured log level.
func buildCoordinator() (*coordinator.Coordinator, error) {
	repoRoot, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	paths := fsutil.NewPaths(repoRoot)
	cfg, err := config.Load(paths.ConfigFile())
	if err != nil {
		return nil, err
	}
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewLogger(nil, level)
	return coordinator.New(coordinator.Options{
		RepoRoot: repoRoot,
		Config:   cfg,
		Logger:   logger,
	}), nil
}

func newStartCmd() *cobra.Command {
	var detach bool
	var logDir string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the broker and the 4-pane tmux session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			return c.Start(coordinator.StartOptions{Detach: detach, LogDir: logDir})
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "start but do not attach")
	cmd.Flags().StringVar(&logDir, "log-dir", "", "pipe each pane's output to log files in this directory")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the broker and the tmux session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			return c.Stop()
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show persona statuses as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			return c.Status()
		},
	}
}

func newSetStatusCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "set-status <persona> <status>",
		Short: "Set a persona status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			var messagePtr *string
			if cmd.Flags().Changed("message") {
				messagePtr = &message
			}
			return c.SetStatus(args[0], args[1], messagePtr)
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "optional status message")
	return cmd
}

func newWaitCmd() *cobra.Command {
	var statuses []string
	var timeout time.Duration
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "wait <persona>",
		Short: "Block until a persona reaches one of the given statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(statuses) == 0 {
				return fmt.Errorf("at least one --status is required")
			}
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			return c.Wait(args[0], statuses, timeout, poll)
		},
	}
	cmd.Flags().StringArrayVar(&statuses, "status", nil, "status to wait for (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (0 waits forever)")
	cmd.Flags().DurationVar(&poll, "poll", 0, "polling interval")
	return cmd
}

func newAskCmd() *cobra.Command {
	var prompt string
	var timeout time.Duration
	var poll time.Duration
	cmd := &cobra.Command{
		Use:   "ask <persona>",
		Short: "Send a prompt to a persona and wait for its response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildCoordinator()
			if err != nil {
				return err
			}
			return c.Ask(coordinator.AskOptions{
				Persona: args[0],
				Prompt:  prompt,
				Timeout: timeout,
				Poll:    poll,
			})
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt to send")
	_ = cmd.MarkFlagRequired("prompt")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long")
	cmd.Flags().DurationVar(&poll, "poll", 0, "polling interval")
	return cmd
}
