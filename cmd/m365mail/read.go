package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/shineum/m365-mail/internal/email"
	"github.com/shineum/m365-mail/internal/provider"
)

var errNoStore = errors.New("no local store configured, set STORE_PATH")

func mailboxFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "mailbox",
		Aliases:  []string{"m"},
		Usage:    "user principal name or id of the mailbox",
		Required: true,
	}
}

func folderFlag(usage string) cli.Flag {
	return &cli.StringFlag{
		Name:    "folder",
		Aliases: []string{"f"},
		Usage:   usage,
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "json or yaml",
		Value:   "json",
	}
}

func (a *app) readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "List the messages of a mailbox folder",
		Flags: []cli.Flag{
			mailboxFlag(),
			folderFlag(`folder path such as "Inbox/Reports" (default: Inbox)`),
			&cli.BoolFlag{
				Name:  "include-bytes",
				Usage: "include attachment content in the output",
			},
			&cli.StringFlag{
				Name:  "save-dir",
				Usage: "write file attachments to this existing directory",
			},
			&cli.BoolFlag{
				Name:  "all-pages",
				Usage: "follow continuation links until the folder is exhausted",
			},
			&cli.IntFlag{
				Name:  "page-size",
				Usage: "messages requested per page",
			},
			&cli.BoolFlag{
				Name:  "index",
				Usage: "record the messages in the local store",
			},
			outputFlag(),
		},
		Action: a.readAction,
	}
}

func (a *app) readAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("index") && a.store == nil {
		return errNoStore
	}

	reader, err := provider.NewReader(a.cfg, a.providerOptions())
	if err != nil {
		return err
	}

	saveDir := cmd.String("save-dir")
	opts := email.ReadOptions{
		Mailbox:              cmd.String("mailbox"),
		FolderPath:           cmd.String("folder"),
		IncludeFileBytes:     cmd.Bool("include-bytes"),
		PersistToDisk:        saveDir != "",
		DestinationDirectory: saveDir,
		AllPages:             cmd.Bool("all-pages"),
		PageSize:             cmd.Int("page-size"),
	}

	// A failed read still returns the messages completed before it.
	msgs, readErr := reader.ReadFolder(ctx, opts)
	slog.Info("read folder", "mailbox", opts.Mailbox, "folder", opts.Path(), "messages", len(msgs))

	if cmd.Bool("index") && len(msgs) > 0 {
		if err := a.store.SaveMessages(ctx, opts.Mailbox, opts.Path(), msgs); err != nil {
			return errors.Join(readErr, fmt.Errorf("failed to index messages: %w", err))
		}
	}

	if msgs == nil {
		msgs = []email.InboundMessage{}
	}
	if err := writeOutput(a.out, cmd.String("output"), msgs); err != nil {
		return errors.Join(readErr, err)
	}
	return readErr
}

func (a *app) foldersCommand() *cli.Command {
	return &cli.Command{
		Name:  "folders",
		Usage: "List mail folders under the mailbox root or a parent folder",
		Flags: []cli.Flag{
			mailboxFlag(),
			folderFlag("parent folder path (default: mailbox root)"),
		},
		Action: a.foldersAction,
	}
}

func (a *app) foldersAction(ctx context.Context, cmd *cli.Command) error {
	gp, err := a.graphProvider()
	if err != nil {
		return err
	}
	reader := gp.Reader()
	mailbox := cmd.String("mailbox")

	parentID := ""
	if path := cmd.String("folder"); path != "" {
		parent, err := reader.ResolveFolder(ctx, mailbox, path)
		if err != nil {
			return err
		}
		parentID = parent.ID
	}

	folders, err := reader.ListFolders(ctx, mailbox, parentID)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMESSAGES\tSUBFOLDERS\tID")
	for _, f := range folders {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", f.DisplayName, f.TotalItemCount, f.ChildFolderCount, f.ID)
	}
	return tw.Flush()
}

func (a *app) indexCommand() *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Show messages recorded in the local store by read --index",
		Flags: []cli.Flag{
			mailboxFlag(),
			folderFlag("folder path as given to read (default: Inbox)"),
			outputFlag(),
		},
		Action: a.indexAction,
	}
}

func (a *app) indexAction(ctx context.Context, cmd *cli.Command) error {
	if a.store == nil {
		return errNoStore
	}

	folder := email.ReadOptions{FolderPath: cmd.String("folder")}.Path()
	msgs, err := a.store.Messages(ctx, cmd.String("mailbox"), folder)
	if err != nil {
		return err
	}
	return writeOutput(a.out, cmd.String("output"), msgs)
}

// writeOutput encodes v as indented JSON or YAML.
func writeOutput(w io.Writer, format string, v any) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
