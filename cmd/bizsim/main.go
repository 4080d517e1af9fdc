package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	cl "bizsim/internal/cli"
	"bizsim/internal/config"
	"bizsim/internal/game"
	"bizsim/internal/syncq"
)

type globals struct {
	apiBase  string
	adminKey string
	game     string
	company  string
}

func main() {
	cfg, err := config.LoadCLI(config.DefaultCLIConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	g := &globals{apiBase: cfg.APIBaseURL, adminKey: cfg.AdminKey}

	root := &cobra.Command{
		Use:          "bizsim",
		Short:        "Quarterly business simulation client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.apiBase, "api", g.apiBase, "API base URL")
	root.PersistentFlags().StringVar(&g.game, "game", "", "game id (defaults to the joined profile)")
	root.PersistentFlags().StringVar(&g.company, "company", "", "company id (defaults to the joined profile)")

	root.AddCommand(
		newJoinCmd(g),
		newTemplateCmd(g),
		newSubmitCmd(g),
		newStatusCmd(g),
		newReportCmd(g),
		newLogCmd(g),
		newWatchCmd(g),
		newSyncCmd(g),
		newAdminCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *globals) client() *cl.Client {
	c := cl.NewClient(strings.TrimRight(strings.TrimSpace(g.apiBase), "/"))
	c.AdminKey = g.adminKey
	return c
}

// seat resolves the game and company from flags, falling back to the saved
// profile.
func (g *globals) seat() (cl.Profile, error) {
	p, err := cl.LoadProfile()
	if err != nil {
		p = cl.Profile{}
	}
	if g.game != "" {
		p.GameID = g.game
	}
	if g.company != "" {
		p.CompanyID = g.company
	}
	if p.GameID == "" || p.CompanyID == "" {
		return p, fmt.Errorf("no game/company selected: run `bizsim join` or pass --game and --company")
	}
	return p, nil
}

func newJoinCmd(g *globals) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "join <game> <company>",
		Short: "Join a game as a company and remember the choice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, companyID := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := g.client().Join(ctx, gameID, companyID, name)
			if err != nil {
				return err
			}
			if err := cl.SaveProfile(cl.Profile{GameID: gameID, CompanyID: companyID, CompanyName: name}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Joined %s as %s. Quarter %d is open.", gameID, companyID, view.Quarter))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the company")
	return cmd
}

func newTemplateCmd(g *globals) *cobra.Command {
	var out string
	var offline bool
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write a starting decisions file",
		RunE: func(cmd *cobra.Command, args []string) error {
			d := game.DefaultDecisions()
			if !offline {
				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				defer cancel()
				remote, err := g.client().DecisionTemplate(ctx)
				if err == nil {
					d = remote
				} else {
					printWarn("Server unavailable, using built-in template.")
				}
			}
			raw, err := json.MarshalIndent(d, "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Println(string(raw))
				return nil
			}
			if err := os.WriteFile(out, append(raw, '\n'), 0o644); err != nil {
				return err
			}
			printSuccess("Wrote " + out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the server and use the built-in template")
	return cmd
}

func readDecisions(path string) (game.Decisions, error) {
	var d game.Decisions
	raw, err := os.ReadFile(path)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return d, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := game.ValidateDecisions(&d); err != nil {
		return d, err
	}
	return d, nil
}

func newSubmitCmd(g *globals) *cobra.Command {
	var (
		file    string
		quarter int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit decisions for the open quarter",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.seat()
			if err != nil {
				return err
			}
			d, err := readDecisions(file)
			if err != nil {
				return err
			}
			client := g.client()
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if quarter == 0 {
				view, err := client.Status(ctx, p.GameID, p.CompanyID)
				if err != nil {
					return fmt.Errorf("could not look up the open quarter (pass --quarter to queue offline): %w", err)
				}
				quarter = view.Quarter
			}
			sub := cl.Submission{
				GameID:         p.GameID,
				CompanyID:      p.CompanyID,
				CompanyName:    p.CompanyName,
				Quarter:        quarter,
				Decisions:      d,
				IdempotencyKey: uuid.NewString(),
			}
			res, err := client.Submit(ctx, sub)
			if err != nil {
				return queueOnNetworkError(err, sub)
			}
			renderSubmitResult(res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "decisions.json", "decisions JSON file")
	cmd.Flags().IntVarP(&quarter, "quarter", "q", 0, "quarter being decided (looked up when 0)")
	return cmd
}

func queueOnNetworkError(err error, sub cl.Submission) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	qerr := syncq.Push(syncq.Entry{
		GameID:         sub.GameID,
		CompanyID:      sub.CompanyID,
		CompanyName:    sub.CompanyName,
		Quarter:        sub.Quarter,
		Decisions:      sub.Decisions,
		IdempotencyKey: sub.IdempotencyKey,
		QueuedAt:       time.Now().UTC(),
	})
	if qerr != nil {
		return fmt.Errorf("request failed (%v) and could not be queued: %w", err, qerr)
	}
	printWarn(fmt.Sprintf("Server unreachable (%v). Submission queued; run `bizsim sync` later.", err))
	return nil
}

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the barrier state of the current quarter",
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID, companyID := g.game, g.company
			if p, err := g.seat(); err == nil {
				gameID, companyID = p.GameID, p.CompanyID
			}
			if gameID == "" {
				return fmt.Errorf("no game selected: run `bizsim join` or pass --game")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, err := g.client().Status(ctx, gameID, companyID)
			if err != nil {
				return err
			}
			renderStatus(view)
			return nil
		},
	}
}

func newReportCmd(g *globals) *cobra.Command {
	var quarter int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the financial report for a closed quarter",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.seat()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			ledger, err := g.client().Company(ctx, p.GameID, p.CompanyID)
			if err != nil {
				return err
			}
			if len(ledger.History) == 0 {
				printInfo("No quarters closed yet.")
				return nil
			}
			result := ledger.History[len(ledger.History)-1]
			if quarter > 0 {
				found := false
				for _, r := range ledger.History {
					if r.Quarter == quarter {
						result, found = r, true
					}
				}
				if !found {
					return fmt.Errorf("no report for quarter %d", quarter)
				}
			}
			renderReport(ledger, result)
			return nil
		},
	}
	cmd.Flags().IntVarP(&quarter, "quarter", "q", 0, "quarter to show (latest when 0)")
	return cmd
}

func newLogCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "Show the game activity log",
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID := g.game
			if p, err := g.seat(); err == nil {
				gameID = p.GameID
			}
			if gameID == "" {
				return fmt.Errorf("no game selected: run `bizsim join` or pass --game")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			entries, err := g.client().Log(ctx, gameID)
			if err != nil {
				return err
			}
			renderLog(entries)
			return nil
		},
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream live game events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			gameID := g.game
			if p, err := g.seat(); err == nil {
				gameID = p.GameID
			}
			if gameID == "" {
				return fmt.Errorf("no game selected: run `bizsim join` or pass --game")
			}
			u, err := url.Parse(strings.TrimRight(g.apiBase, "/") + "/v1/games/" + url.PathEscape(gameID) + "/ws")
			if err != nil {
				return err
			}
			switch u.Scheme {
			case "https":
				u.Scheme = "wss"
			default:
				u.Scheme = "ws"
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
			if err != nil {
				return err
			}
			defer conn.Close()
			go func() {
				<-ctx.Done()
				_ = conn.Close()
			}()

			printInfo(fmt.Sprintf("Watching %s. Ctrl-C to stop.", gameID))
			var filter cl.EventFilter
			for {
				_, raw, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				var ev game.Event
				if err := json.Unmarshal(raw, &ev); err != nil {
					continue
				}
				if !filter.Accept(ev) {
					continue
				}
				renderEvent(ev)
			}
		},
	}
}

func renderEvent(ev game.Event) {
	stamp := ev.At.Local().Format("15:04:05")
	switch ev.Type {
	case game.EventQuarterCompleted:
		accent.Printf("%s quarter %d closed\n", stamp, ev.Quarter)
		for _, msg := range ev.Messages {
			printWarn("! " + msg)
		}
		renderLeague(ev.Results)
	case game.EventDecisionsStaged:
		fmt.Printf("%s %s submitted (%d/%d)\n", stamp, ev.CompanyID, ev.Submitted, ev.Total)
	default:
		fmt.Printf("%s %s %s\n", stamp, ev.Type, ev.CompanyID)
	}
}

func newSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay submissions queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			remaining, outcomes := cl.Replay(ctx, g.client(), queue)
			for _, o := range outcomes {
				label := fmt.Sprintf("%s/%s Q%d", o.Entry.GameID, o.Entry.CompanyID, o.Entry.Quarter)
				switch {
				case o.Err == nil:
					printSuccess(fmt.Sprintf("%s: %s", label, o.Result.Status))
				case cl.IsAPIError(o.Err):
					printError(fmt.Sprintf("%s dropped: %v", label, o.Err))
				default:
					printWarn(fmt.Sprintf("%s still queued: %v", label, o.Err))
				}
			}
			if err := syncq.Save(remaining); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d remaining=%d", len(queue)-len(remaining), len(remaining)))
			return nil
		},
	}
}

func newAdminCmd(g *globals) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands (need BIZSIM_ADMIN_KEY)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.adminKey != "" {
				return nil
			}
			key, err := promptSecret("Admin key")
			if err != nil {
				return err
			}
			g.adminKey = key
			return nil
		},
	}

	admin.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List every game session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			games, err := g.client().ListGames(ctx)
			if err != nil {
				return err
			}
			renderSessions(games)
			return nil
		},
	})

	admin.AddCommand(&cobra.Command{
		Use:   "reset <game>",
		Short: "Reset a game to quarter 1",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := g.client().Reset(ctx, args[0])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Game %s reset to quarter %d (%d companies).", res.GameID, res.Quarter, res.CompaniesReset))
			return nil
		},
	})

	for _, locked := range []bool{true, false} {
		use, short := "unlock <game> <company>", "Let a locked company play again"
		if locked {
			use, short = "lock <game> <company>", "Freeze a company so it no longer blocks the quarter"
		}
		admin.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
				defer cancel()
				res, err := g.client().SetLock(ctx, args[0], args[1], locked)
				if err != nil {
					return err
				}
				renderSubmitResult(res)
				return nil
			},
		})
	}

	var name, strategy string
	competitor := &cobra.Command{
		Use:   "competitor <game> <company>",
		Short: "Seat an AI competitor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			client := g.client()
			_, err := client.AddCompetitor(ctx, args[0], args[1], name, strategy)
			if err != nil {
				var apiErr *cl.APIError
				if errors.As(err, &apiErr) && strategy != "" {
					if names, lerr := client.Strategies(ctx); lerr == nil {
						printInfo("Available strategies: " + strings.Join(names, ", "))
					}
				}
				return err
			}
			printSuccess(fmt.Sprintf("AI competitor %s seated in %s.", args[1], args[0]))
			return nil
		},
	}
	competitor.Flags().StringVar(&name, "name", "", "display name")
	competitor.Flags().StringVar(&strategy, "strategy", "", "strategy name (server default when empty)")
	admin.AddCommand(competitor)

	return admin
}
