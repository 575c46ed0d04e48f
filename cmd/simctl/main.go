package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	cl "stocksim/internal/cli"
	"stocksim/internal/config"
	"stocksim/internal/model"
	"stocksim/internal/trade"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:           "simctl",
		Short:         "Stock simulation client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newActivateCmd(&apiBase),
		newMeCmd(&apiBase),
		newPortfolioCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newQuoteCmd(&apiBase),
		newWatchCmd(&apiBase),
		newTradeCmd(&apiBase, model.SideBuy),
		newTradeCmd(&apiBase, model.SideSell),
		newLimitCmd(&apiBase),
		newOrdersCmd(&apiBase),
		newCancelCmd(&apiBase),
		newTxCmd(&apiBase),
		newRankingsCmd(&apiBase),
		newSeasonsCmd(&apiBase),
		newHallOfFameCmd(&apiBase),
		newDebatesCmd(&apiBase),
		newVoteCmd(&apiBase),
		newQuestsCmd(&apiBase),
		newQuizCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		if !cl.IsAPIError(err) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		var apiErr *cl.APIError
		_ = errors.As(err, &apiErr)
		if apiErr.Status == http.StatusUnauthorized {
			printWarn("Session rejected. Run `simctl login` again.")
		}
		printError(apiErr.Message)
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// authed runs fn with the saved session, refreshed if needed, and a bounded
// context.
func authed(cmd *cobra.Command, apiBase *string, fn func(ctx context.Context, c *cl.Client, token string) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	c := newClient(apiBase)
	sess, err := cl.ActiveSession(ctx, c, time.Now())
	if err != nil {
		return err
	}
	return fn(ctx, c, sess.AccessToken)
}

func newSignupCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			nickname, err := promptOptional("Nickname (optional)")
			if err != nil {
				return err
			}
			group, err := promptOptional("School or group (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, nickname, group)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `simctl login` and `simctl activate`.")
				return nil
			}
			if err := cl.SaveSession(cl.NewSession(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved. Run `simctl activate` once your email is verified.")
			return nil
		},
	}
}

func newLoginCmd(apiBase *string) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in, or store an existing access token with --token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token != "" {
				if err := cl.SaveSession(cl.Session{AccessToken: token}); err != nil {
					return err
				}
				printSuccess("Token saved.")
				return nil
			}
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptRequired("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.NewSession(session, time.Now())); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "access token issued by the identity provider")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear local session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newActivateCmd(apiBase *string) *cobra.Command {
	var nickname, group string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate your account and receive the starting capital",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				acct, err := c.Activate(ctx, token, nickname, group)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Account %s is %s with %s KRW.", acct.Nickname, acct.Status, formatMoney(acct.Cash)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&nickname, "nickname", "", "display name")
	cmd.Flags().StringVar(&group, "group", "", "school or group name")
	return cmd
}

func newMeCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show your account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				me, err := c.Me(ctx, token)
				if err != nil {
					return err
				}
				renderMe(me)
				return nil
			})
		},
	}
}

func newPortfolioCmd(apiBase *string) *cobra.Command {
	var season int64
	cmd := &cobra.Command{
		Use:     "portfolio",
		Aliases: []string{"pf"},
		Short:   "Value your portfolio at live prices, or a past season's final state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				v, err := c.Portfolio(ctx, token, season)
				if err != nil {
					return err
				}
				renderPortfolio(v, season)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "past season id")
	return cmd
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	var season int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded portfolio values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				points, err := c.PortfolioHistory(ctx, token, season)
				if err != nil {
					return err
				}
				renderHistory(points)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "season id (default: current)")
	return cmd
}

func newQuoteCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quote [symbol]",
		Short: "Show the live price of a symbol in KRW",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				q, err := c.Quote(ctx, token, symbol)
				if err != nil {
					return err
				}
				fmt.Printf("%s  %s %s  %s\n", accent.Sprint(q.Symbol), formatMoney(q.Price), q.Currency, colorizePercent(q.ChangePercent))
				return nil
			})
		},
	}
}

func newWatchCmd(apiBase *string) *cobra.Command {
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Manage your watchlist",
	}
	var name string
	add := &cobra.Command{
		Use:   "add [symbol]",
		Short: "Add a symbol to the watchlist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				f, err := c.AddFavorite(ctx, token, symbol, name)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("%s added to watchlist.", f.Symbol))
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name (default: the symbol)")

	watch.AddCommand(add, &cobra.Command{
		Use:     "rm <symbol>",
		Aliases: []string{"remove"},
		Short:   "Remove a symbol from the watchlist",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := model.NormalizeSymbol(args[0])
			if err != nil {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				if err := c.RemoveFavorite(ctx, token, symbol); err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("%s removed from watchlist.", symbol))
				return nil
			})
		},
	}, &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "Show watched symbols with live prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				w, err := c.Watchlist(ctx, token)
				if err != nil {
					return err
				}
				renderWatchlist(w)
				return nil
			})
		},
	})
	return watch
}

func newTradeCmd(apiBase *string, side model.Side) *cobra.Command {
	var qty, amount string
	cmd := &cobra.Command{
		Use:   string(side) + " [symbol]",
		Short: fmt.Sprintf("Place a market %s order by --qty or --amount (KRW)", side),
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol, err := symbolFromArgsOrPrompt(args)
			if err != nil {
				return err
			}
			in := trade.MarketOrderInput{Symbol: symbol, Side: side}
			switch {
			case qty != "" && amount != "":
				return fmt.Errorf("use either --qty or --amount")
			case amount != "":
				if in.Amount, err = cl.ParseDecimal(amount); err != nil {
					return err
				}
			case qty != "":
				if in.Quantity, err = cl.ParseDecimal(qty); err != nil {
					return err
				}
			default:
				if in.Quantity, err = promptDecimal("Quantity"); err != nil {
					return err
				}
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				res, err := c.MarketOrder(ctx, token, in)
				if err != nil {
					return err
				}
				renderTrade(res)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&qty, "qty", "", "number of shares")
	cmd.Flags().StringVar(&amount, "amount", "", "order value in KRW, fee excluded")
	return cmd
}

func newLimitCmd(apiBase *string) *cobra.Command {
	var price, qty string
	cmd := &cobra.Command{
		Use:   "limit <buy|sell> <symbol>",
		Short: "Place a limit order that fills when the price reaches --price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			side, err := model.ParseSide(args[0])
			if err != nil {
				return err
			}
			symbol, err := model.NormalizeSymbol(args[1])
			if err != nil {
				return err
			}
			in := trade.LimitOrderInput{Symbol: symbol, Side: side}
			if in.LimitPrice, err = cl.ParseDecimal(price); err != nil {
				return err
			}
			if in.Quantity, err = cl.ParseDecimal(qty); err != nil {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				o, err := c.PlaceLimitOrder(ctx, token, in)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Limit %s %s x%s @ %s placed (id %s).", o.Side, o.Symbol, o.Quantity, formatMoney(o.LimitPrice), o.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&price, "price", "", "limit price in KRW")
	cmd.Flags().StringVar(&qty, "qty", "", "number of shares")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newOrdersCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List your open limit orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				orders, err := c.OpenOrders(ctx, token)
				if err != nil {
					return err
				}
				renderOrders(orders)
				return nil
			})
		},
	}
}

func newCancelCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an open limit order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				o, err := c.CancelOrder(ctx, token, args[0])
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Order %s %s.", o.ID, o.Status))
				return nil
			})
		},
	}
}

func newTxCmd(apiBase *string) *cobra.Command {
	var season int64
	var allTime bool
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "List your trades",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				txs, err := c.Transactions(ctx, token, season, allTime)
				if err != nil {
					return err
				}
				renderTransactions(txs)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&season, "season", 0, "season id (default: current)")
	cmd.Flags().BoolVar(&allTime, "all-time", false, "read the permanent history")
	return cmd
}

func newRankingsCmd(apiBase *string) *cobra.Command {
	var groups bool
	cmd := &cobra.Command{
		Use:     "rankings",
		Aliases: []string{"rank"},
		Short:   "Show the latest leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				snap, err := c.Rankings(ctx, token)
				if err != nil {
					return err
				}
				renderRankings(snap, groups)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&groups, "groups", false, "show the group leaderboard")
	return cmd
}

func newSeasonsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "seasons",
		Short: "Show the current season and past seasons",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				s, err := c.Seasons(ctx, token)
				if err != nil {
					return err
				}
				renderSeasons(s)
				return nil
			})
		},
	}
}

func newHallOfFameCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hall-of-fame <season-id>",
		Short: "Show the top rankers of a closed season",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("season id must be a number")
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				a, err := c.HallOfFame(ctx, token, id)
				if err != nil {
					return err
				}
				renderHallOfFame(a)
				return nil
			})
		},
	}
}

func newDebatesCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "debates",
		Short: "List prediction debates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				debates, err := c.Debates(ctx, token)
				if err != nil {
					return err
				}
				renderDebates(debates)
				return nil
			})
		},
	}
}

func newVoteCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <debate-id> <O|X>",
		Short: "Vote on a debate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := model.ParseChoice(args[1])
			if err != nil {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				d, err := c.Vote(ctx, token, args[0], choice)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Voted %s on %q (O %d / X %d).", d.MyVote, d.Topic, d.OVotes, d.XVotes))
				return nil
			})
		},
	}
}

func newQuestsCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quests",
		Short: "Show quest progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				q, err := c.Quests(ctx, token)
				if err != nil {
					return err
				}
				renderQuests(q)
				return nil
			})
		},
	}
}

func newQuizCmd(apiBase *string) *cobra.Command {
	root := &cobra.Command{
		Use:   "quiz",
		Short: "Answer quizzes for a capped reward each season",
	}
	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List quizzes and your remaining reward tries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				quizzes, err := c.Quizzes(ctx, token)
				if err != nil {
					return err
				}
				el, err := c.QuizEligibility(ctx, token)
				if err != nil {
					return err
				}
				renderQuizzes(quizzes, el)
				return nil
			})
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "answer <quiz-id> <choice-number>",
		Short: "Submit an answer (choices are numbered from 1)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("choice must be a number from 1")
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				res, err := c.SubmitQuiz(ctx, token, args[0], n-1)
				if err != nil {
					return err
				}
				if !res.Correct {
					printWarn("Not quite. Try another quiz.")
					return nil
				}
				printSuccess(fmt.Sprintf("Correct! +%s KRW, cash now %s.", formatMoney(res.Rewarded), formatMoney(res.Cash)))
				return nil
			})
		},
	})
	return root
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}

	season := &cobra.Command{Use: "season", Short: "Season lifecycle"}
	season.AddCommand(&cobra.Command{
		Use:   "end",
		Short: "Close the running season, archive it and reset every account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := promptConfirm("End the current season for every account?"); err != nil || !ok {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				id, err := c.EndSeason(ctx, token)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Season %d closed.", id))
				return nil
			})
		},
	})
	season.AddCommand(&cobra.Command{
		Use:   "delete <season-id>",
		Short: "Delete a past season and renumber the later ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("season id must be a number")
			}
			if ok, err := promptConfirm(fmt.Sprintf("Delete season %d and renumber later seasons?", id)); err != nil || !ok {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				if err := c.DeleteSeason(ctx, token, id); err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Season %d deleted.", id))
				return nil
			})
		},
	})

	debate := &cobra.Command{Use: "debate", Short: "Debate management"}
	debate.AddCommand(&cobra.Command{
		Use:   "create <topic>",
		Short: "Open a new O/X debate",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				d, err := c.CreateDebate(ctx, token, strings.Join(args, " "))
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Debate %s opened.", d.ID))
				return nil
			})
		},
	})
	debate.AddCommand(&cobra.Command{
		Use:   "close <debate-id> <O|X>",
		Short: "Close a debate and reward the correct voters",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			correct, err := model.ParseChoice(args[1])
			if err != nil {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				res, err := c.CloseDebate(ctx, token, args[0], correct)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Closed. winners=%d rewarded=%d", res.Winners, res.Rewarded))
				if len(res.Failed) > 0 {
					printError("Not rewarded: " + strings.Join(res.Failed, ", "))
				}
				return nil
			})
		},
	})

	debate.AddCommand(&cobra.Command{
		Use:   "delete <debate-id>",
		Short: "Delete a debate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				if err := c.DeleteDebate(ctx, token, args[0]); err != nil {
					return err
				}
				printSuccess("Debate deleted.")
				return nil
			})
		},
	})

	quizCmd := &cobra.Command{Use: "quiz", Short: "Quiz management"}
	quizCmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Add a multiple-choice quiz",
		RunE: func(cmd *cobra.Command, args []string) error {
			question, err := promptRequired("Question")
			if err != nil {
				return err
			}
			var choices []string
			for {
				choice, err := promptOptional(fmt.Sprintf("Choice %d (blank to finish)", len(choices)+1))
				if err != nil {
					return err
				}
				if choice == "" {
					if len(choices) >= 2 {
						break
					}
					printWarn("Enter at least two choices.")
					continue
				}
				choices = append(choices, choice)
			}
			answer, err := promptInt64("Correct choice number", 1)
			if err != nil {
				return err
			}
			if int(answer) > len(choices) {
				return fmt.Errorf("choice %d does not exist", answer)
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				q, err := c.CreateQuiz(ctx, token, question, choices, int(answer)-1)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Quiz %s created.", q.ID))
				return nil
			})
		},
	})

	quizCmd.AddCommand(&cobra.Command{
		Use:   "delete <quiz-id>",
		Short: "Delete a quiz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, err := promptConfirm(fmt.Sprintf("Delete quiz %s?", args[0])); err != nil || !ok {
				return err
			}
			return authed(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				if err := c.DeleteQuiz(ctx, token, args[0]); err != nil {
					return err
				}
				printSuccess("Quiz deleted.")
				return nil
			})
		},
	})

	admin.AddCommand(season, debate, quizCmd)
	return admin
}

func symbolFromArgsOrPrompt(args []string) (string, error) {
	if len(args) > 0 {
		return model.NormalizeSymbol(args[0])
	}
	return promptSymbol("Symbol")
}

func promptDecimal(label string) (decimal.Decimal, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return decimal.Zero, err
		}
		d, err := cl.ParseDecimal(text)
		if err != nil || !d.IsPositive() {
			printWarn("Enter a positive number.")
			continue
		}
		return d, nil
	}
}
