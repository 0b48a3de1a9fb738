package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/semmidev/dbkeep/internal/app"
	"github.com/semmidev/dbkeep/internal/config"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

type options struct {
	configFile string
}

// NewRootCommand builds the dbkeep command tree. Without a subcommand it
// behaves like "backup".
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "dbkeep",
		Short: "dbkeep - PostgreSQL and MongoDB backups with retention",
		Long: `dbkeep dumps a PostgreSQL or MongoDB database into a local backup
directory, optionally uploads the archive to S3, GCS or Google Drive and
deletes local archives older than the retention period.

Configuration is read from an optional YAML file, then from the environment
(POSTGRES_HOST, MONGODB_URL, AWS_BUCKET, RETENTION_DAYS, ... or the same keys
prefixed with DBKEEP_). A .env file in the working directory is loaded first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, opts)
		},
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")

	root.AddCommand(
		newBackupCommand(opts),
		newRunCommand(opts),
		newSweepCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command tree with ctx as the command context.
func Execute(ctx context.Context, args []string) error {
	root := NewRootCommand()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func initApp(ctx context.Context, opts *options) (*app.App, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	application, err := app.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize app: %w", err)
	}
	return application, nil
}
