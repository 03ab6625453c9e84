package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"agendasync/internal/caldav"
	"agendasync/internal/clients"
	"agendasync/internal/gateway"
	"agendasync/internal/google"
	"agendasync/internal/reconciler"
	"agendasync/internal/store"
	"agendasync/internal/tools"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "agendasync",
		Usage: "Calendar/CRM engine keeping an external calendar and the local record store in sync.",
		Commands: []*cli.Command{
			authCommand(),
			createCommand(),
			listCommand(),
			updateCommand(),
			deleteCommand(),
			syncCommand(),
			resetCommand(),
			toolCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			config, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(config, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			if err := google.SaveToken("token.json", token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", "token.json")
			return nil
		},
	}
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create an event in the external calendar and the local store.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "summary", Required: true, Usage: "Event title."},
			&cli.StringFlag{Name: "start", Required: true, Usage: "Start time, ISO-8601 with timezone."},
			&cli.StringFlag{Name: "end", Required: true, Usage: "End time, ISO-8601 with timezone."},
			&cli.StringFlag{Name: "description", Usage: "Event description."},
			&cli.StringFlag{Name: "company", Usage: "Company name for client resolution."},
			&cli.StringFlag{Name: "person", Usage: "Person name for client resolution."},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			result, err := env.engine.Create(c.Context, reconciler.EventData{
				Summary:     c.String("summary"),
				Description: c.String("description"),
				StartISO:    c.String("start"),
				EndISO:      c.String("end"),
				CompanyName: c.String("company"),
				PersonName:  c.String("person"),
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List locally stored events with flexible filters.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "summary", Usage: "Partial summary match."},
			&cli.StringFlag{Name: "company", Usage: "Partial company name match."},
			&cli.StringFlag{Name: "person", Usage: "Partial person name match."},
			&cli.StringFlag{Name: "time-min", Usage: "Earliest start time, ISO-8601."},
			&cli.StringFlag{Name: "time-max", Usage: "Latest start time, ISO-8601."},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			events, err := env.store.ListEvents(c.Context, store.EventFilter{
				Summary:     c.String("summary"),
				CompanyName: c.String("company"),
				PersonName:  c.String("person"),
				TimeMin:     c.String("time-min"),
				TimeMax:     c.String("time-max"),
			})
			if err != nil {
				return err
			}
			return printJSON(events)
		},
	}
}

func updateCommand() *cli.Command {
	return &cli.Command{
		Name:  "update",
		Usage: "Update an event by its textual event_id in both stores.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event-id", Required: true, Usage: "Textual event id."},
			&cli.StringFlag{Name: "updates", Required: true, Usage: "JSON object of fields to change."},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			var updates map[string]any
			if err := json.Unmarshal([]byte(c.String("updates")), &updates); err != nil {
				return fmt.Errorf("invalid --updates JSON: %w", err)
			}
			result, err := env.engine.Update(c.Context, c.String("event-id"), updates)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Delete an event by its textual event_id.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "event-id", Required: true, Usage: "Textual event id."},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			result, err := env.engine.Delete(c.Context, c.String("event-id"))
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Promote local-only events into the external calendar.",
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			result, err := env.engine.BackfillSync(c.Context)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Clear the cached external-calendar failure state.",
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			env.engine.ResetConnection()
			fmt.Println("External calendar connection state reset.")
			return nil
		},
	}
}

func toolCommand() *cli.Command {
	return &cli.Command{
		Name:      "tool",
		Usage:     "Invoke a registered tool by name with JSON arguments, as an orchestration layer would.",
		ArgsUsage: "NAME [JSON_ARGS]",
		Action: func(c *cli.Context) error {
			env, err := setup(c)
			if err != nil {
				return err
			}
			name := c.Args().First()
			if name == "" {
				fmt.Println("Available tools:")
				for _, n := range env.registry.Names() {
					fmt.Printf("  %s\n", n)
				}
				return nil
			}
			out, err := env.registry.Invoke(c.Context, name, json.RawMessage(c.Args().Get(1)))
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

// env bundles the wired components behind the CLI commands.
type env struct {
	logger   *slog.Logger
	store    *store.Store
	engine   *reconciler.Engine
	registry *tools.Registry
}

// setup wires store, gateway, resolver, engine and tool registry from the
// environment.
func setup(c *cli.Context) (*env, error) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := setupLogger(logLevel)

	dsn := os.Getenv("SUPABASE_DB_URL")
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		return nil, fmt.Errorf("SUPABASE_DB_URL environment variable not set")
	}

	s, err := store.Open(dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	var gw gateway.Gateway
	calendarID := "primary"
	switch backend := os.Getenv("CALENDAR_BACKEND"); backend {
	case "", "google":
		gw = google.NewClient(logger, os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"), "token.json", calendarID)
	case "caldav":
		calendarID = os.Getenv("CALDAV_CALENDAR_NAME")
		if calendarID == "" {
			calendarID = "caldav"
		}
		gw = caldav.NewClient(logger, os.Getenv("CALDAV_ENDPOINT"), os.Getenv("CALDAV_USERNAME"), os.Getenv("CALDAV_APP_SPECIFIC_PASSWORD"), os.Getenv("CALDAV_CALENDAR_NAME"))
	default:
		return nil, fmt.Errorf("unknown CALENDAR_BACKEND '%s'", backend)
	}

	tzStr := os.Getenv("PRIMARY_TIMEZONE")
	if tzStr == "" {
		tzStr = reconciler.DefaultTimezone
	}
	loc, err := time.LoadLocation(tzStr)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", tzStr, err)
	}

	resolver := clients.NewResolver(s, logger)
	engine := reconciler.NewEngine(logger, s, resolver, gw, loc, calendarID)

	registry := tools.NewRegistry(logger)
	tools.RegisterCalendarTools(registry, engine, s)
	tools.RegisterCRMTools(registry, s, resolver)

	return &env{logger: logger, store: s, engine: engine, registry: registry}, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
