package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand はinkstandのコマンドツリーを返す。
// logOutは構造化ログの出力先で、コマンドの結果表示はcmd.OutOrStdout()に出す。
// サブコマンドを省略した場合はserveとして動く。
func NewRootCommand(logOut io.Writer) *cobra.Command {
	serve := serveCmd(logOut)
	root := &cobra.Command{
		Use:           "inkstand",
		Short:         "Magazine content API backed by a GitHub repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve)
	root.AddCommand(migrateCmd(logOut))
	root.AddCommand(reconcileCmd(logOut))
	root.AddCommand(healthcheckCmd())
	return root
}

func serveCmd(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the public and admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(logOut)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func migrateCmd(logOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending session database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(logOut)
			if err != nil {
				return err
			}
			return runMigrate(cfg)
		},
	}
}

func reconcileCmd(logOut io.Writer) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Find leftovers of interrupted renames and dangling references",
		Long: `Scan every collection in the content repository and report:
- orphans: files left behind by a rename whose delete step failed
- markers: renamed_from fields that are no longer needed
- dangling references: author, category or issue slugs that do not exist

With --apply, unreferenced orphans are deleted and markers are cleared.
Dangling references are only reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(logOut)
			if err != nil {
				return err
			}
			return runReconcile(cmd.Context(), cfg, cmd.OutOrStdout(), apply)
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "fix orphans and markers instead of only reporting them")
	return cmd
}

// healthcheckCmd は設定を読み込まずに動く。distrolessイメージのHEALTHCHECKから呼ばれる。
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the local /health endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(port)
		},
	}
}
