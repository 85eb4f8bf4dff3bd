package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newHierarchyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "hierarchy",
		Aliases: []string{"h"},
		Short:   "Browse subjects, chapters and subchapters",
	}

	cmd.AddCommand(
		a.getCommand("subjects", "List subjects", cobra.NoArgs, func(args []string) string {
			return "/subjects"
		}),
		a.getCommand("chapters SUBJECT_ID", "List chapters of a subject", cobra.ExactArgs(1), func(args []string) string {
			return "/subjects/" + args[0] + "/chapters"
		}),
		a.getCommand("subchapters CHAPTER_ID", "List subchapters of a chapter", cobra.ExactArgs(1), func(args []string) string {
			return "/chapters/" + args[0] + "/subchapters"
		}),
	)
	return cmd
}

func newModulesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "modules",
		Aliases: []string{"m"},
		Short:   "Upload, read and moderate modules",
	}

	cmd.AddCommand(
		a.getCommand("list SUBCHAPTER_ID", "List modules visible to you in a subchapter", cobra.ExactArgs(1), func(args []string) string {
			return "/modules/subchapter/" + args[0]
		}),
		a.getCommand("get MODULE_ID", "Show one module", cobra.ExactArgs(1), func(args []string) string {
			return "/modules/" + args[0]
		}),
		a.getCommand("download MODULE_ID", "Print a time-limited download URL", cobra.ExactArgs(1), func(args []string) string {
			return "/modules/" + args[0] + "/download"
		}),
		a.getCommand("logs MODULE_ID", "Show the moderation audit trail, newest first", cobra.ExactArgs(1), func(args []string) string {
			return "/modules/" + args[0] + "/logs"
		}),
		newUploadCommand(a),
		a.moderateCommand("approve", "Approve a pending module"),
		a.moderateCommand("hide", "Hide an approved module"),
		newRejectCommand(a),
		newDeleteModuleCommand(a),
	)
	return cmd
}

func newUploadCommand(a *app) *cobra.Command {
	var name, file string

	cmd := &cobra.Command{
		Use:   "upload SUBCHAPTER_ID",
		Short: "Upload an HTML module for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(file)
			}

			var out map[string]any
			if err := a.client.Upload(cmd.Context(), args[0], name, filepath.Base(file), data, &out); err != nil {
				return err
			}
			return a.print(out)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "module name (defaults to the file name)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "path to the HTML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRejectCommand(a *app) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject MODULE_ID",
		Short: "Reject a pending module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			var body any
			if reason != "" {
				body = map[string]string{"reason": reason}
			}

			var out map[string]any
			if err := a.client.Post(cmd.Context(), "/modules/"+args[0]+"/reject", body, &out); err != nil {
				return err
			}
			return a.print(out)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason shown to the uploader")
	return cmd
}

func newDeleteModuleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete MODULE_ID",
		Short: "Delete a module and its stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}
			if err := a.client.Do(cmd.Context(), http.MethodDelete, "/modules/"+args[0], nil, nil); err != nil {
				return err
			}
			return a.print(map[string]any{"deleted": args[0]})
		},
	}
}

func (a *app) moderateCommand(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s MODULE_ID", action),
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireLogin(); err != nil {
				return err
			}

			var out map[string]any
			if err := a.client.Post(cmd.Context(), "/modules/"+args[0]+"/"+action, nil, &out); err != nil {
				return err
			}
			return a.print(out)
		},
	}
}

// getCommand builds a read-only leaf command. Reads go out with the saved
// token when there is one, so anonymous browsing works too.
func (a *app) getCommand(use, short string, args cobra.PositionalArgs, path func(args []string) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := a.client.Get(cmd.Context(), path(args), &out); err != nil {
				return err
			}
			return a.print(out)
		},
	}
}
