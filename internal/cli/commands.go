package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newBackupCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Take one backup and apply retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, opts)
		},
	}
}

func runBackup(cmd *cobra.Command, opts *options) error {
	application, err := initApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	result, err := application.RunOnce(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Backup: %s (%s)\n", result.Artifact.Path, humanize.IBytes(uint64(result.Artifact.Size)))
	if result.Location != "" {
		fmt.Fprintf(out, "Location: %s\n", result.Location)
	}
	fmt.Fprintf(out, "Expired removed: %d\n", len(result.Deleted))
	return nil
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run backups on backup.schedule until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := initApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			return application.Run(cmd.Context())
		},
	}
}

func newSweepCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired local backups without taking a new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := initApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer application.Shutdown()

			deleted, err := application.Sweep(cmd.Context())
			for _, name := range deleted {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", name)
			}
			return err
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbkeep %s\n", Version)
		},
	}
}
