package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/shineum/m365-mail/internal/parser"
	"github.com/shineum/m365-mail/internal/provider"
	"github.com/shineum/m365-mail/internal/provider/stdout"
)

func (a *app) sendCommand() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send an RFC 5322 message read from a file or stdin",
		ArgsUsage: "[FILE|-]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "provider",
				Usage: "graph, ses or stdout (overrides PROVIDER)",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "print the parsed message instead of sending it",
			},
		},
		Action: a.sendAction,
	}
}

func (a *app) sendAction(ctx context.Context, cmd *cli.Command) error {
	raw, err := a.readMessage(cmd.Args().First())
	if err != nil {
		return err
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	var prov provider.Provider
	if cmd.Bool("dry-run") {
		prov = stdout.NewWithWriter(a.out)
	} else {
		if v := cmd.String("provider"); v != "" {
			a.cfg.Provider = strings.ToLower(v)
		}
		prov, err = provider.New(ctx, a.cfg, a.providerOptions())
		if err != nil {
			return err
		}
	}

	slog.Info("sending message",
		"provider", prov.Name(),
		"subject", msg.Subject,
		"recipients", len(msg.To)+len(msg.Cc)+len(msg.Bcc),
		"attachments", len(msg.Attachments),
	)

	if err := prov.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send via %s: %w", prov.Name(), err)
	}

	slog.Info("message sent", "provider", prov.Name(), "message_id", msg.MessageID)
	return nil
}

// readMessage reads the message from path, or from stdin for "" and "-".
func (a *app) readMessage(path string) ([]byte, error) {
	if path == "" || path == "-" {
		raw, err := io.ReadAll(a.in)
		if err != nil {
			return nil, fmt.Errorf("failed to read message from stdin: %w", err)
		}
		return raw, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return raw, nil
}
