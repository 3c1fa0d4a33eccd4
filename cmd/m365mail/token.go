package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

func (a *app) tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Acquire a Graph access token to check the app registration",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "refresh",
				Usage: "discard any cached token first",
			},
			&cli.BoolFlag{
				Name:  "show",
				Usage: "print the access token",
			},
		},
		Action: a.tokenAction,
	}
}

func (a *app) tokenAction(ctx context.Context, cmd *cli.Command) error {
	gp, err := a.graphProvider()
	if err != nil {
		return err
	}

	var tok string
	if cmd.Bool("refresh") {
		tok, err = gp.Tokens().ForceRefresh(ctx)
	} else {
		tok, err = gp.Tokens().Token(ctx)
	}
	if err != nil {
		return err
	}

	if cmd.Bool("show") {
		fmt.Fprintln(a.out, tok)
		return nil
	}
	fmt.Fprintf(a.out, "access token acquired for tenant %s, client %s\n", a.cfg.Graph.TenantID, a.cfg.Graph.ClientID)
	return nil
}

func (a *app) secretCommand() *cli.Command {
	appFlags := []cli.Flag{
		&cli.StringFlag{
			Name:  "tenant",
			Usage: "tenant id (default: GRAPH_TENANT_ID)",
		},
		&cli.StringFlag{
			Name:  "client",
			Usage: "client id (default: GRAPH_CLIENT_ID)",
		},
	}

	return &cli.Command{
		Name:  "secret",
		Usage: "Manage the Graph client secret stored in the system keyring",
		Commands: []*cli.Command{
			{
				Name:   "set",
				Usage:  "Prompt for the client secret and store it",
				Flags:  appFlags,
				Action: a.secretSetAction,
			},
			{
				Name:   "delete",
				Usage:  "Remove the stored client secret",
				Flags:  appFlags,
				Action: a.secretDeleteAction,
			},
		},
	}
}

// appRegistration returns the tenant and client ids from flags or config.
func (a *app) appRegistration(cmd *cli.Command) (string, string, error) {
	tenant, client := cmd.String("tenant"), cmd.String("client")
	if tenant == "" {
		tenant = a.cfg.Graph.TenantID
	}
	if client == "" {
		client = a.cfg.Graph.ClientID
	}
	if tenant == "" || client == "" {
		return "", "", errors.New("tenant and client ids are required (--tenant/--client or GRAPH_TENANT_ID/GRAPH_CLIENT_ID)")
	}
	return tenant, client, nil
}

func (a *app) secretSetAction(_ context.Context, cmd *cli.Command) error {
	tenant, client, err := a.appRegistration(cmd)
	if err != nil {
		return err
	}

	secret, err := a.promptSecret("Client secret: ")
	if err != nil {
		return fmt.Errorf("failed to read secret: %w", err)
	}

	secrets, err := a.openSecrets()
	if err != nil {
		return err
	}
	if err := secrets.SetClientSecret(tenant, client, secret); err != nil {
		return err
	}

	slog.Info("client secret stored", "tenant_id", tenant, "client_id", client)
	return nil
}

func (a *app) secretDeleteAction(_ context.Context, cmd *cli.Command) error {
	tenant, client, err := a.appRegistration(cmd)
	if err != nil {
		return err
	}

	secrets, err := a.openSecrets()
	if err != nil {
		return err
	}
	if err := secrets.DeleteClientSecret(tenant, client); err != nil {
		return err
	}

	slog.Info("client secret deleted", "tenant_id", tenant, "client_id", client)
	return nil
}

// promptSecret reads a secret without echo when input is a terminal, or a
// single line otherwise.
func (a *app) promptSecret(prompt string) (string, error) {
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(a.errOut, prompt)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
