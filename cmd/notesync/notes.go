package main

import (
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/glidenotes/notesync/internal/db"
	"github.com/glidenotes/notesync/internal/models"
)

// noteFlags collects the editable note fields. Only flags the user set end
// up in the patch.
type noteFlags struct {
	title, transcript, summary, folder, tags string
	duration                                 int
	pinned, archived                         bool
}

func (f *noteFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.title, "title", "t", "", "Title")
	fs.StringVar(&f.transcript, "transcript", "", "Transcript text")
	fs.StringVar(&f.summary, "summary", "", "Summary")
	fs.StringVar(&f.folder, "folder", "", "Folder local id")
	fs.StringVar(&f.tags, "tags", "", "Comma-separated tags")
	fs.IntVar(&f.duration, "duration", 0, "Recording length in seconds")
	fs.BoolVar(&f.pinned, "pinned", false, "Pin the note")
	fs.BoolVar(&f.archived, "archived", false, "Archive the note")
}

func (f *noteFlags) patch(fs *pflag.FlagSet) models.NotePatch {
	var p models.NotePatch
	if fs.Changed("title") {
		p.Title = models.Ptr(f.title)
	}
	if fs.Changed("transcript") {
		p.Transcript = models.Ptr(f.transcript)
	}
	if fs.Changed("summary") {
		p.Summary = models.Ptr(f.summary)
	}
	if fs.Changed("folder") {
		p.FolderID = models.Ptr(f.folder)
	}
	if fs.Changed("tags") {
		p.Tags = models.Ptr(db.TagsFromCommaString(f.tags))
	}
	if fs.Changed("duration") {
		p.Duration = models.Ptr(f.duration)
	}
	if fs.Changed("pinned") {
		p.IsPinned = models.Ptr(f.pinned)
	}
	if fs.Changed("archived") {
		p.IsArchived = models.Ptr(f.archived)
	}
	return p
}

func renderNote(cmd *cobra.Command, format string, n *models.Note) error {
	return render(cmd.OutOrStdout(), format, n, func(w *tabwriter.Writer) {
		row(w, "ID:", n.LocalID)
		row(w, "Server ID:", orDash(n.ServerID))
		row(w, "Title:", n.Title)
		row(w, "Folder:", orDash(n.FolderID))
		row(w, "Tags:", orDash(strings.Join(n.Tags, ", ")))
		row(w, "Status:", n.SyncStatus)
		row(w, "Updated:", millis(n.LocalUpdatedAt))
		if n.Summary != "" {
			row(w, "Summary:", truncate(n.Summary, 80))
		}
		if n.Transcript != "" {
			row(w, "Transcript:", truncate(n.Transcript, 80))
		}
	})
}

func renderNotes(cmd *cobra.Command, format string, notes []*models.Note) error {
	if notes == nil {
		notes = []*models.Note{}
	}
	return render(cmd.OutOrStdout(), format, notes, func(w *tabwriter.Writer) {
		row(w, "ID", "TITLE", "FOLDER", "TAGS", "STATUS", "UPDATED")
		for _, n := range notes {
			row(w, n.LocalID, truncate(n.Title, 40), orDash(n.FolderID), orDash(strings.Join(n.Tags, ",")), n.SyncStatus, millis(n.LocalUpdatedAt))
		}
	})
}

func (c *cli) noteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Create, edit and list notes",
	}

	var add noteFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				n := &models.Note{}
				add.patch(cmd.Flags()).Apply(n)
				created, err := a.svc.CreateNote(ctx, n)
				if err != nil {
					return err
				}
				return renderNote(cmd, c.format, created)
			})
		},
	}
	add.register(addCmd.Flags())

	var edit noteFlags
	editCmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change fields of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				n, err := a.svc.UpdateNote(ctx, args[0], edit.patch(cmd.Flags()))
				if err != nil {
					return err
				}
				return renderNote(cmd, c.format, n)
			})
		},
	}
	edit.register(editCmd.Flags())

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				n, err := a.svc.GetNote(ctx, args[0])
				if err != nil {
					return err
				}
				return renderNote(cmd, c.format, n)
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a note and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				if err := a.svc.DeleteNote(ctx, args[0]); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.format, map[string]string{"deleted": args[0]}, func(w *tabwriter.Writer) {
					row(w, "Deleted", args[0])
				})
			})
		},
	}

	restoreCmd := &cobra.Command{
		Use:   "restore <id>",
		Short: "Undo a note deletion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				n, err := a.svc.RestoreNote(ctx, args[0])
				if err != nil {
					return err
				}
				return renderNote(cmd, c.format, n)
			})
		},
	}

	var filter db.NoteFilter
	var tags string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				f := filter
				f.Tags = db.TagsFromCommaString(tags)
				notes, err := a.svc.ListNotes(ctx, f)
				if err != nil {
					return err
				}
				return renderNotes(cmd, c.format, notes)
			})
		},
	}
	listCmd.Flags().StringVar(&filter.FolderID, "folder", "", "Filter by folder local id")
	listCmd.Flags().StringVar(&tags, "tags", "", "Filter by tags (comma-separated, all must match)")
	listCmd.Flags().BoolVar(&filter.IncludeDeleted, "deleted", false, "Include deleted notes")
	listCmd.Flags().BoolVar(&filter.IncludeArchived, "archived", false, "Include archived notes")
	listCmd.Flags().IntVarP(&filter.Limit, "limit", "l", 50, "Max results")

	var limit int
	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over titles, transcripts and summaries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				results, err := a.svc.SearchNotes(ctx, strings.Join(args, " "), db.NoteFilter{Limit: limit})
				if err != nil {
					return err
				}
				if results == nil {
					results = []*db.SearchResult{}
				}
				return render(cmd.OutOrStdout(), c.format, results, func(w *tabwriter.Writer) {
					row(w, "ID", "TITLE", "RANK")
					for _, r := range results {
						row(w, r.Note.LocalID, truncate(r.Note.Title, 50), r.Rank)
					}
				})
			})
		},
	}
	searchCmd.Flags().IntVarP(&limit, "limit", "l", 20, "Max results")

	cmd.AddCommand(addCmd, editCmd, showCmd, rmCmd, restoreCmd, listCmd, searchCmd)
	return cmd
}

func (c *cli) folderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Manage folders",
	}

	var parent, icon, color string
	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				f, err := a.svc.CreateFolder(ctx, &models.Folder{Name: args[0], ParentID: parent, Icon: icon, Color: color})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.format, f, func(w *tabwriter.Writer) {
					row(w, "Created folder", f.LocalID, f.Name)
				})
			})
		},
	}
	addCmd.Flags().StringVar(&parent, "parent", "", "Parent folder local id")
	addCmd.Flags().StringVar(&icon, "icon", "", "Icon name")
	addCmd.Flags().StringVar(&color, "color", "", "Color")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List folders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				folders, err := a.svc.ListFolders(ctx)
				if err != nil {
					return err
				}
				if folders == nil {
					folders = []*models.Folder{}
				}
				return render(cmd.OutOrStdout(), c.format, folders, func(w *tabwriter.Writer) {
					row(w, "ID", "NAME", "PARENT", "SYSTEM", "STATUS")
					for _, f := range folders {
						row(w, f.LocalID, f.Name, orDash(f.ParentID), f.IsSystem, f.SyncStatus)
					}
				})
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				if err := a.svc.DeleteFolder(ctx, args[0]); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.format, map[string]string{"deleted": args[0]}, func(w *tabwriter.Writer) {
					row(w, "Deleted", args[0])
				})
			})
		},
	}

	cmd.AddCommand(addCmd, listCmd, rmCmd)
	return cmd
}

func (c *cli) actionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Manage follow-up actions on notes",
	}

	var kind string
	addCmd := &cobra.Command{
		Use:   "add <note-id> <title>",
		Short: "Attach an action to a note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				act, err := a.svc.CreateAction(ctx, &models.Action{NoteID: args[0], Title: args[1], ActionType: models.ActionType(kind)})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.format, act, func(w *tabwriter.Writer) {
					row(w, "Created action", act.LocalID, act.Title)
				})
			})
		},
	}
	addCmd.Flags().StringVar(&kind, "type", string(models.ActionNextStep), "calendar, email, reminder or next_step")

	doneCmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Mark an action completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				act, err := a.svc.UpdateAction(ctx, args[0], models.ActionPatch{Status: models.Ptr(models.ActionStatusCompleted)})
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.format, act, func(w *tabwriter.Writer) {
					row(w, "Completed", act.LocalID, act.Title)
				})
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list <note-id>",
		Short: "List actions of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				if _, err := a.svc.GetNote(ctx, args[0]); err != nil {
					return err
				}
				actions, err := a.svc.ListActions(ctx, args[0])
				if err != nil {
					return err
				}
				if actions == nil {
					actions = []*models.Action{}
				}
				return render(cmd.OutOrStdout(), c.format, actions, func(w *tabwriter.Writer) {
					row(w, "ID", "TYPE", "STATUS", "TITLE")
					for _, act := range actions {
						row(w, act.LocalID, act.ActionType, act.Status, truncate(act.Title, 50))
					}
				})
			})
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete an action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return c.withApp(ctx, func(a *app) error {
				if err := a.svc.DeleteAction(ctx, args[0]); err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), c.format, map[string]string{"deleted": args[0]}, func(w *tabwriter.Writer) {
					row(w, "Deleted", args[0])
				})
			})
		},
	}

	cmd.AddCommand(addCmd, doneCmd, listCmd, rmCmd)
	return cmd
}
