package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/wingdesk/internal/session"
)

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			if err := a.withCore(); err != nil {
				return err
			}
			defer a.Close()

			list, err := a.core.Sessions.List(cmd.Context())
			if err != nil {
				a.auth.HandleError(err)
				return err
			}
			if len(list) == 0 {
				fmt.Println("no sessions; start one with: wd new")
				return nil
			}
			for _, s := range list {
				project := s.ProjectPath
				if project == "" {
					project = "(empty project)"
				}
				created := ""
				if !s.CreatedAt.IsZero() {
					created = s.CreatedAt.Local().Format(time.DateTime)
				}
				fmt.Printf("%-38s %-20s %s\n", s.ID, created, project)
			}
			return nil
		},
	}
}

func newCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new [path]",
		Short: "Start a session and open the workspace shell",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			return runShell(cmd.Context(), func(ctx context.Context, a *app) (session.Session, error) {
				return a.core.NewSession(ctx, project)
			})
		},
	}
}

func openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <session-id>",
		Short: "Resume a session in the workspace shell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), func(ctx context.Context, a *app) (session.Session, error) {
				return a.core.Resume(ctx, args[0])
			})
		},
	}
}

func runShell(ctx context.Context, start func(context.Context, *app) (session.Session, error)) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	if err := a.withCore(); err != nil {
		return err
	}
	defer a.Close()

	s, err := start(ctx, a)
	if err != nil {
		return err
	}
	project := s.ProjectRoot
	if project == "" {
		project = "empty project"
	}
	fmt.Printf("session %s (%s)\n", color.CyanString(s.ID), project)
	fmt.Println(`type "help" for commands`)

	sh := newShell(a.core, os.Stdin, a.out, a.cfg.EditorCommand())
	return sh.Run(ctx)
}

// sessionFor resumes id, or starts a fresh session when id is empty.
func sessionFor(ctx context.Context, a *app, id string) (session.Session, error) {
	if strings.TrimSpace(id) == "" {
		return a.core.NewSession(ctx, "")
	}
	return a.core.Resume(ctx, id)
}
