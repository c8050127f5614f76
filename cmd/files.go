package cmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/spf13/cobra"
)

var longListing bool

func init() {
	lsCmd.Flags().BoolVarP(&longListing, "long", "l", false, "Show size, time and write access")
	rootCmd.AddCommand(lsCmd, catCmd, statCmd, putCmd, rmCmd, mkdirCmd)
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory of the catalog tree",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := "/"
		if len(args) == 1 {
			p = args[0]
		}
		ctx := cmd.Context()
		if _, err := current.warm(ctx, p); err != nil {
			return err
		}
		listing, err := current.tree.List(ctx, p)
		if err != nil {
			return err
		}
		if !longListing {
			out := cmd.OutOrStdout()
			for _, e := range listing.Entries {
				name := e.Name
				if e.Dir {
					name += "/"
				}
				fmt.Fprintln(out, name)
			}
			return nil
		}

		rows := make([][]string, 0, len(listing.Entries))
		for _, e := range listing.Entries {
			info, err := current.tree.Stat(ctx, path.Join(p, e.Name))
			if err != nil {
				current.log.Debug().Err(err).Str("name", e.Name).Msg("stat failed")
				continue
			}
			mode := "r-"
			if info.Writable {
				mode = "rw"
			}
			if info.Dir {
				mode = "d" + mode
			} else {
				mode = "-" + mode
			}
			modified := ""
			if !info.ModTime.IsZero() {
				modified = info.ModTime.Format("2006-01-02 15:04")
			}
			rows = append(rows, []string{mode, strconv.FormatInt(info.Size, 10), modified, e.Name})
		}
		return current.ui.Table([]string{"Mode", "Size", "Modified", "Name"}, rows)
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file of the catalog tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.warm(cmd.Context(), args[0]); err != nil {
			return err
		}
		data, err := current.tree.Read(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show metadata of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.warm(cmd.Context(), args[0]); err != nil {
			return err
		}
		info, err := current.tree.Stat(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "name:     %s\n", info.Name)
		fmt.Fprintf(out, "dir:      %t\n", info.Dir)
		fmt.Fprintf(out, "size:     %d\n", info.Size)
		fmt.Fprintf(out, "writable: %t\n", info.Writable)
		if !info.ModTime.IsZero() {
			fmt.Fprintf(out, "modified: %s\n", info.ModTime.Format("2006-01-02T15:04:05Z07:00"))
		}
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <path> [local-file]",
	Short: "Write a file of the catalog tree from a local file or stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			content []byte
			err     error
		)
		if len(args) == 2 && args[1] != "-" {
			content, err = os.ReadFile(args[1])
		} else {
			content, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}

		if _, err := current.warm(cmd.Context(), args[0]); err != nil {
			return err
		}
		w, err := current.tree.Write(cmd.Context(), args[0], content)
		if err != nil {
			return err
		}
		switch {
		case w.Created:
			current.ui.Success(w.Path + " created")
		case w.Renamed:
			current.ui.Success(w.Path + " updated (copy suffix dropped)")
		default:
			current.ui.Success(w.Path + " updated")
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Delete an intent, view, module, resource or intent-type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := current.warm(cmd.Context(), args[0]); err != nil {
			return err
		}
		return current.tree.Delete(cmd.Context(), args[0])
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <name | name_vN>",
	Short: "Create a new intent-type from the default template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := path.Join("/", args[0])
		if _, err := current.tree.List(cmd.Context(), "/"); err != nil {
			return err
		}
		doc, err := current.tree.Mkdir(cmd.Context(), p)
		if err != nil {
			return err
		}
		current.ui.Success(doc.Key() + " created")
		return nil
	},
}
