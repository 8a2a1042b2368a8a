package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "wd",
		Short:        "wingdesk: terminal workspace for a remote coding agent",
		Long:         "Browse and edit a server-side project, review proposed changes, chat with the agent, run commands.",
		SilenceUsage: true,
	}

	root.AddCommand(
		loginCmd(),
		signupCmd(),
		logoutCmd(),
		whoamiCmd(),
		sessionsCmd(),
		newCmd(),
		openCmd(),
		execCmd(),
		cloneCmd(),
		uploadCmd(),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wd " + version)
		},
	}
}
