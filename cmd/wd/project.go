package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// oneShot runs fn against the session named by id, or a fresh one.
func oneShot(ctx context.Context, id string, fn func(ctx context.Context, a *app) error) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if err := a.withCore(); err != nil {
		return err
	}
	defer a.Close()

	s, err := sessionFor(ctx, a, id)
	if err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintf(os.Stderr, "session %s\n", s.ID)
	}
	return fn(ctx, a)
}

func execCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "exec <command>",
		Short: "Run a command in the session's project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd.Context(), sessionID, func(ctx context.Context, a *app) error {
				res, err := a.core.Exec(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprint(os.Stdout, res.Stdout)
				fmt.Fprint(os.Stderr, res.Stderr)
				if res.ReturnCode != 0 {
					return fmt.Errorf("exit code %d", res.ReturnCode)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: start a new session)")
	return cmd
}

func cloneCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "clone <repo-url>",
		Short: "Clone a git repository into the session's project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return oneShot(cmd.Context(), sessionID, func(ctx context.Context, a *app) error {
				local, err := a.core.Clone(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(local)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: start a new session)")
	return cmd
}

func uploadCmd() *cobra.Command {
	var sessionID string
	var watch bool
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "upload <dir>",
		Short: "Upload a local folder into the session's project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			return oneShot(cmd.Context(), sessionID, func(ctx context.Context, a *app) error {
				names, err := a.core.Upload(ctx, dir)
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				if !watch {
					return nil
				}

				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				fmt.Fprintf(os.Stderr, "watching %s, ctrl-c to stop\n", dir)
				return a.core.Watch(ctx, dir, debounce)
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id (default: start a new session)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-upload when files change")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a re-upload")
	return cmd
}
