package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/shineum/m365-mail/internal/archive"
	"github.com/shineum/m365-mail/internal/email"
)

func (a *app) exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export every message of a folder to an mbox file",
		Flags: []cli.Flag{
			mailboxFlag(),
			folderFlag(`folder path such as "Archive/2025" (default: Inbox)`),
			&cli.StringFlag{
				Name:     "mbox",
				Usage:    `destination file, or "-" for stdout`,
				Required: true,
			},
		},
		Action: a.exportAction,
	}
}

func (a *app) exportAction(ctx context.Context, cmd *cli.Command) error {
	gp, err := a.graphProvider()
	if err != nil {
		return err
	}

	mailbox := cmd.String("mailbox")
	folder := email.ReadOptions{FolderPath: cmd.String("folder")}.Path()
	dest := cmd.String("mbox")

	var w io.Writer = a.out
	var f *os.File
	if dest != "-" {
		f, err = os.Create(dest)
		if err != nil {
			return fmt.Errorf("failed to create mbox file: %w", err)
		}
		w = f
	}

	n, exportErr := archive.Export(ctx, gp.Reader(), mailbox, folder, w)
	if f != nil {
		if err := f.Close(); err != nil {
			exportErr = errors.Join(exportErr, fmt.Errorf("failed to close mbox file: %w", err))
		}
	}

	slog.Info("exported folder", "mailbox", mailbox, "folder", folder, "messages", n, "mbox", dest)
	return exportErr
}
