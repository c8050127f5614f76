package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/upload"
)

var intentsOf string

func init() {
	uploadCmd.Flags().StringVar(&intentsOf, "intents-of", "", "Upload only the *.json intents of dir into this intent-type (name_vN)")
	rootCmd.AddCommand(uploadCmd, versionCmd, urlCmd, newVersionCmd, cloneCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload <dir>",
	Short: "Upload an intent-type folder (name_vN), or a folder of intents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		src := osfs.New(filepath.Dir(abs))
		dir := filepath.Base(abs)
		up := upload.New(current.tree,
			upload.WithReporter(current.ui),
			upload.WithLogger(current.log.With().Str("component", "upload").Logger()))

		var sum upload.Summary
		if intentsOf != "" {
			sum, err = up.Intents(cmd.Context(), src, dir, intentsOf)
		} else {
			sum, err = up.IntentType(cmd.Context(), src, dir)
		}
		if err != nil {
			return err
		}

		verb := "updated"
		if sum.Created {
			verb = "created"
		}
		if intentsOf == "" {
			current.ui.Success(fmt.Sprintf("%s %s, %d views, %d intents", sum.Key, verb, sum.Views, sum.Intents))
		} else {
			current.ui.Success(fmt.Sprintf("%d intents uploaded to %s", sum.Intents, sum.Key))
		}
		if sum.Failed > 0 {
			return faults.New(faults.Rejected, "upload", args[0], fmt.Sprintf("%d items failed", sum.Failed))
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the NSP release of the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rel, err := current.tree.Release(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), rel.String())
		return err
	},
}

var urlCmd = &cobra.Command{
	Use:   "url [path]",
	Short: "Print the web UI address of an intent-type or intent",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := "/"
		if len(args) == 1 {
			p = args[0]
		}
		u, err := current.tree.URL(cmd.Context(), p)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), u)
		return err
	},
}

var newVersionCmd = &cobra.Command{
	Use:   "new-version <intent-type-path>",
	Short: "Save the intent-type as its next version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.warm(cmd.Context(), args[0]); err != nil {
			return err
		}
		return current.tree.NewVersion(cmd.Context(), args[0])
	},
}

var cloneCmd = &cobra.Command{
	Use:   "clone <intent-type-path> <new-name>",
	Short: "Copy the intent-type under a new name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.warm(cmd.Context(), args[0]); err != nil {
			return err
		}
		return current.tree.Clone(cmd.Context(), args[0], args[1])
	},
}
