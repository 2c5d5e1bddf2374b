package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/cuerpobomberos/inventa/internal/apiclient"
	"github.com/cuerpobomberos/inventa/internal/app"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in and store the session",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "account name (prompted when omitted)",
			},
		},
		Action: withApp(loginAction),
	}
}

func loginAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	in := bufio.NewReader(os.Stdin)
	out := stdout(cmd)

	username := cmd.String("username")
	if username == "" {
		var err error
		if username, err = prompt(in, out, "Username: "); err != nil {
			return err
		}
	}
	password, err := promptPassword(in, out, "Password: ")
	if err != nil {
		return err
	}

	if err := a.Client().SignIn(ctx, username, password); err != nil {
		if errors.Is(err, apiclient.ErrInvalidCredentials) {
			return errors.New("invalid username or password")
		}
		return err
	}

	fmt.Fprintf(out, "Signed in as %s\n", username)
	return nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "sign out and delete stored credentials",
		Action: withApp(logoutAction),
	}
}

func logoutAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	if err := a.Client().SignOut(ctx); err != nil {
		return err
	}
	fmt.Fprintln(stdout(cmd), "Signed out")
	return nil
}

func refreshCommand() *cli.Command {
	return &cli.Command{
		Name:   "refresh",
		Usage:  "exchange the refresh token for a new access token",
		Action: withApp(refreshAction),
	}
}

func refreshAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	if _, err := a.Client().Refresh(ctx); err != nil {
		return err
	}
	out := stdout(cmd)
	fmt.Fprintln(out, "Access token refreshed")
	if claims, ok := a.Client().Session().Claims(); ok && !claims.Expiry().IsZero() {
		fmt.Fprintf(out, "Expires: %s\n", claims.Expiry().Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

func unlockCommand() *cli.Command {
	return &cli.Command{
		Name:   "unlock",
		Usage:  "resume the stored session when biometric unlock is enabled",
		Action: withApp(unlockAction),
	}
}

func unlockAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	unlocked, err := a.Client().Unlock(ctx)
	if err != nil {
		return err
	}
	if !unlocked {
		return errors.New("biometric unlock is disabled, run inventa login")
	}
	fmt.Fprintln(stdout(cmd), "Session unlocked")
	return nil
}

func biometricCommand() *cli.Command {
	set := func(enabled bool) cli.ActionFunc {
		return withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			if err := a.Client().Session().SetBiometricEnabled(ctx, enabled); err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			fmt.Fprintf(stdout(cmd), "Biometric unlock %s\n", state)
			return nil
		})
	}

	return &cli.Command{
		Name:  "biometric",
		Usage: "manage the biometric unlock preference",
		Commands: []*cli.Command{
			{Name: "enable", Action: set(true)},
			{Name: "disable", Action: set(false)},
		},
	}
}

func resetPasswordCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset-password",
		Usage: "request a password reset e-mail",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "email",
				Usage:    "account e-mail address",
				Required: true,
			},
		},
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			if err := a.Client().RequestPasswordReset(ctx, cmd.String("email")); err != nil {
				return err
			}
			fmt.Fprintln(stdout(cmd), "Password reset requested, check your e-mail")
			return nil
		}),
	}
}

func prompt(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fmt.Fprint(out, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// promptPassword reads without echo from a terminal and falls back to a
// plain line read when stdin is piped.
func promptPassword(in *bufio.Reader, out io.Writer, label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return prompt(in, out, label)
	}

	fmt.Fprint(out, label)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}
