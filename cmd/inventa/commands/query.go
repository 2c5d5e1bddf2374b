package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/cuerpobomberos/inventa/internal/apiclient"
	"github.com/cuerpobomberos/inventa/internal/app"
	"github.com/cuerpobomberos/inventa/internal/inventory"
)

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "show the stored session",
		Action: withApp(statusAction),
	}
}

func statusAction(ctx context.Context, cmd *cli.Command, a *app.App) error {
	out := stdout(cmd)
	sess := a.Client().Session()

	if !sess.Authenticated() {
		fmt.Fprintln(out, "Not signed in")
		return nil
	}

	fmt.Fprintln(out, "Signed in")
	if claims, ok := sess.Claims(); ok {
		if claims.UserID != "" {
			fmt.Fprintf(out, "User ID: %s\n", claims.UserID)
		}
		if claims.Email != "" {
			fmt.Fprintf(out, "Email: %s\n", claims.Email)
		}
		if exp := claims.Expiry(); !exp.IsZero() {
			fmt.Fprintf(out, "Access token expires: %s\n", exp.Local().Format("2006-01-02 15:04:05"))
		}
	}
	if tok, ok := sess.OAuth2Token(); ok && !tok.Expiry.IsZero() && !tok.Valid() {
		fmt.Fprintln(out, "Access token expired, it will be refreshed on the next request")
	}
	if perms := sess.Profile().Permissions; len(perms) > 0 {
		fmt.Fprintf(out, "Permissions: %s\n", strings.Join(perms, ", "))
	}

	biometric, err := sess.BiometricEnabled(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Biometric unlock: %t\n", biometric)
	return nil
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "fetch the signed-in user's profile from the backend",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			profile, err := a.Client().Me(ctx)
			if err != nil {
				return describe(err)
			}
			return printJSON(stdout(cmd), profile)
		}),
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "authenticated GET of a backend path, printed as-is",
		ArgsUsage: "<path>",
		Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			path := cmd.Args().First()
			if path == "" {
				return errors.New("path argument required")
			}

			req, err := a.Client().NewRequest(ctx, http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			resp, err := a.Client().Do(req)
			if err != nil {
				return describe(err)
			}
			defer func() { _ = resp.Body.Close() }()

			if _, err := io.Copy(stdout(cmd), resp.Body); err != nil {
				return fmt.Errorf("reading response: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return fmt.Errorf("backend returned %s", resp.Status)
			}
			return nil
		}),
	}
}

func inventoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "inventory",
		Usage: "query inventory resources",
		Commands: []*cli.Command{
			{
				Name:  "stations",
				Usage: "list fire stations",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					items, err := a.Inventory().Stations(ctx)
					if err != nil {
						return describe(err)
					}
					return printJSON(stdout(cmd), items)
				}),
			},
			{
				Name:      "catalog",
				Usage:     "search the stock catalog",
				ArgsUsage: "[search]",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					items, err := a.Inventory().SearchCatalogStock(ctx, strings.Join(cmd.Args().Slice(), " "))
					if err != nil {
						return describe(err)
					}
					return printJSON(stdout(cmd), items)
				}),
			},
			{
				Name:      "item",
				Usage:     "look up a stock item by code",
				ArgsUsage: "<code>",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					item, err := a.Inventory().ItemByCode(ctx, cmd.Args().First())
					if err != nil {
						return describe(err)
					}
					return printJSON(stdout(cmd), item)
				}),
			},
			{
				Name:      "stock",
				Usage:     "list stock entries of a product",
				ArgsUsage: "<product-id>",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					id, err := strconv.Atoi(cmd.Args().First())
					if err != nil {
						return fmt.Errorf("invalid product id %q", cmd.Args().First())
					}
					items, err := a.Inventory().StockByProduct(ctx, id)
					if err != nil {
						return describe(err)
					}
					return printJSON(stdout(cmd), items)
				}),
			},
			{
				Name:      "loans",
				Usage:     "list loans",
				ArgsUsage: "[search]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "include returned loans"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					items, err := a.Inventory().LoanHistory(ctx, cmd.Bool("all"), strings.Join(cmd.Args().Slice(), " "))
					if err != nil {
						return describe(err)
					}
					return printJSON(stdout(cmd), items)
				}),
			},
		},
	}
}

func personnelCommand() *cli.Command {
	record := func(fetch func(*inventory.Volunteers, context.Context, string) (json.RawMessage, error)) cli.ActionFunc {
		return withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one volunteer id")
			}
			raw, err := fetch(a.Volunteers(), ctx, cmd.Args().First())
			if err != nil {
				return describe(err)
			}
			return printJSON(stdout(cmd), raw)
		})
	}

	return &cli.Command{
		Name:  "personnel",
		Usage: "query volunteer records",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "search the volunteer directory",
				ArgsUsage: "[search]",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, a *app.App) error {
					items, err := a.Volunteers().List(ctx, strings.Join(cmd.Args().Slice(), " "))
					if err != nil {
						return describe(err)
					}
					return printJSON(stdout(cmd), items)
				}),
			},
			{
				Name:      "show",
				Usage:     "show a volunteer's profile",
				ArgsUsage: "<id>",
				Action:    record((*inventory.Volunteers).Detail),
			},
			{
				Name:      "service-record",
				Usage:     "show a volunteer's hoja de vida",
				ArgsUsage: "<id>",
				Action:    record((*inventory.Volunteers).ServiceRecord),
			},
			{
				Name:      "medical-record",
				Usage:     "show a volunteer's ficha medica",
				ArgsUsage: "<id>",
				Action:    record((*inventory.Volunteers).MedicalRecord),
			},
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the local gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "gateway--host",
				Usage: "gateway host",
				Value: app.DefaultConfigGatewayHost,
			},
			&cli.IntFlag{
				Name:  "gateway--port",
				Usage: "gateway port",
				Value: int(app.DefaultConfigGatewayPort),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rt, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			if err := rt.app.Start(ctx); err != nil {
				return fmt.Errorf("app failed to start: %w", err)
			}
			return nil
		},
	}
}

// describe turns pipeline errors into messages for the terminal.
func describe(err error) error {
	var connErr *apiclient.ConnectivityError
	var statusErr *apiclient.StatusError
	switch {
	case errors.Is(err, inventory.ErrMedicalRecordForbidden):
		return errors.New("you do not have permission to view this medical record")
	case errors.Is(err, inventory.ErrVolunteerNotFound):
		return err
	case errors.Is(err, apiclient.ErrUnauthenticated):
		return fmt.Errorf("not signed in or session expired, run inventa login: %w", err)
	case errors.As(err, &connErr):
		return fmt.Errorf("backend unreachable: %w", err)
	case errors.As(err, &statusErr):
		return fmt.Errorf("backend returned %d: %s", statusErr.StatusCode, strings.TrimSpace(string(statusErr.Body)))
	default:
		return err
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
