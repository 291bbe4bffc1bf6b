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

	"cashforge/internal/catalog"
	cl "cashforge/internal/cli"
	"cashforge/internal/config"
	"cashforge/internal/economy"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.LoadCLIFromEnv()
	apiBase := cfg.APIBaseURL

	root := &cobra.Command{
		Use:          "cf",
		Short:        "CashForge command line client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&apiBase, "api", apiBase, "API base URL")

	root.AddCommand(
		newSignupCmd(&apiBase),
		newLoginCmd(&apiBase),
		newLogoutCmd(),
		newDashCmd(&apiBase),
		newHistoryCmd(&apiBase),
		newCatalogCmd(&apiBase),
		newDepositCmd(&apiBase),
		newWithdrawCmd(&apiBase),
		newPackageCmd(&apiBase),
		newTasksCmd(&apiBase),
		newTradeCmd(&apiBase),
		newSpinCmd(&apiBase),
		newReferralsCmd(&apiBase),
		newSalaryCmd(&apiBase),
		newAdminCmd(&apiBase),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

func newClient(apiBase *string) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(*apiBase), "/"))
}

// withSession runs fn with the saved session. An expired access token is
// refreshed once and the call retried.
func withSession(cmd *cobra.Command, apiBase *string, fn func(ctx context.Context, c *cl.Client, token string) error) error {
	sess, err := cl.LoadSession()
	if err != nil {
		return fmt.Errorf("login required: %w", err)
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	client := newClient(apiBase)

	err = fn(ctx, client, sess.AccessToken)
	var apiErr *cl.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || sess.RefreshToken == "" {
		return err
	}
	fresh, rerr := client.Refresh(ctx, sess.RefreshToken)
	if rerr != nil || fresh.AccessToken == "" {
		return fmt.Errorf("session expired, run `cf login`: %w", err)
	}
	sess.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		sess.RefreshToken = fresh.RefreshToken
	}
	if err := cl.SaveSession(sess); err != nil {
		return err
	}
	return fn(ctx, client, sess.AccessToken)
}

func saveAuthSession(access, refresh, email, id string) error {
	return cl.SaveSession(cl.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		Email:        email,
		AccountID:    id,
	})
}

func newSignupCmd(apiBase *string) *cobra.Command {
	var invite string
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create a CashForge account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			username, err := promptOptional("Username (optional)")
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Signup(ctx, email, password, username, invite)
			if err != nil {
				return err
			}
			if strings.TrimSpace(session.AccessToken) == "" {
				printWarn("Signup created. Verify your email, then run `cf login`.")
				return nil
			}
			if err := saveAuthSession(session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Signup complete. Session saved.")
			return nil
		},
	}
	cmd.Flags().StringVar(&invite, "invite", "", "invite code of the member who referred you")
	return cmd
}

func newLoginCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Login to CashForge",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, err := promptRequired("Email")
			if err != nil {
				return err
			}
			password, err := promptPassword("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			session, err := newClient(apiBase).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := saveAuthSession(session.AccessToken, session.RefreshToken, session.User.Email, session.User.ID); err != nil {
				return err
			}
			printSuccess("Login successful.")
			return nil
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newDashCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:     "dash",
		Short:   "Show balance, package, keys and the open trade",
		Aliases: []string{"account"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				d, err := c.Account(ctx, token)
				if err != nil {
					return err
				}
				renderDashboard(d)
				return nil
			})
		},
	}
}

func newHistoryCmd(apiBase *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				txs, err := c.Transactions(ctx, token, limit)
				if err != nil {
					return err
				}
				renderTransactions(txs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of transactions to show")
	return cmd
}

func newCatalogCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show packages, trade tiers, salary tiers and wheels",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			raw, err := newClient(apiBase).Catalog(ctx)
			if err != nil {
				return err
			}
			c, err := decodeInto[catalog.Catalog](raw)
			if err != nil {
				return err
			}
			renderCatalog(c)
			return nil
		},
	}
}

func newDepositCmd(apiBase *string) *cobra.Command {
	var proofArg string
	cmd := &cobra.Command{
		Use:   "deposit [pkr-amount]",
		Short: "Deposit PKR with a payment screenshot",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimalFromArgOrPrompt(args, 0, "PKR amount")
			if err != nil {
				return err
			}
			if strings.TrimSpace(proofArg) == "" {
				if proofArg, err = promptRequired("Proof file or URL"); err != nil {
					return err
				}
			}
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				proofURL := proofArg
				if _, statErr := os.Stat(proofArg); statErr == nil {
					if proofURL, err = c.UploadProof(ctx, token, proofArg); err != nil {
						return err
					}
					printInfo("Proof uploaded: " + proofURL)
				}
				out, err := c.Deposit(ctx, token, amount, proofURL)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Deposit of PKR %s submitted for review, %s will be credited once approved.",
					money(amount), money(out.Deposit.Credit)))
				printInfo("Reference: " + out.Deposit.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&proofArg, "proof", "", "payment screenshot path or an already uploaded URL")
	return cmd
}

func newWithdrawCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw [amount] [destination]",
		Short: "Request a withdrawal; the platform fee is deducted from the payout",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimalFromArgOrPrompt(args, 0, "Amount")
			if err != nil {
				return err
			}
			dest := ""
			if len(args) > 1 {
				dest = args[1]
			} else if dest, err = promptRequired("Destination account"); err != nil {
				return err
			}
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				out, err := c.Withdraw(ctx, token, amount, dest)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Withdrawal of %s requested: you receive %s after a %s fee. Status: %s.",
					money(amount), money(out.Net), money(out.Fee), out.Transaction.Status))
				return nil
			})
		},
	}
}

func newPackageCmd(apiBase *string) *cobra.Command {
	pkg := &cobra.Command{
		Use:     "package",
		Short:   "VIP package commands",
		Aliases: []string{"pkg", "vip"},
	}

	var yes bool
	buy := &cobra.Command{
		Use:   "buy <package-id>",
		Short: "Buy or upgrade to a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.ToLower(strings.TrimSpace(args[0]))
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				if !yes {
					q, err := c.Quote(ctx, token, id)
					if err != nil {
						return err
					}
					ok, err := promptConfirm(fmt.Sprintf("Pay %v for %s (credit %v)?", q["payable"], id, q["credit"]))
					if err != nil || !ok {
						return err
					}
				}
				out, err := c.Purchase(ctx, token, id)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Now on %s (VIP %d). Paid %s, balance %s.",
					out.Package.Name, out.Package.Level, money(out.Quote.Payable), money(out.Account.Balance)))
				return nil
			})
		},
	}
	buy.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	quote := &cobra.Command{
		Use:   "quote <package-id>",
		Short: "Show what buying a package would cost you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				q, err := c.Quote(ctx, token, strings.ToLower(strings.TrimSpace(args[0])))
				if err != nil {
					return err
				}
				fmt.Printf("Payable: %v  (credit from current package: %v)\n", q["payable"], q["credit"])
				return nil
			})
		},
	}

	pkg.AddCommand(buy, quote)
	return pkg
}

func newTasksCmd(apiBase *string) *cobra.Command {
	tasks := &cobra.Command{
		Use:   "tasks",
		Short: "Show today's task board",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				board, err := c.Tasks(ctx, token)
				if err != nil {
					return err
				}
				renderTaskBoard(board)
				return nil
			})
		},
	}

	start := &cobra.Command{
		Use:   "start <index>",
		Short: "Start a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := intArg(args[0], "task index")
			if err != nil {
				return err
			}
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				board, err := c.StartTask(ctx, token, index)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Task %d started.", index))
				renderTaskBoard(board)
				return nil
			})
		},
	}

	claim := &cobra.Command{
		Use:   "claim <index>",
		Short: "Claim a finished task's reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := intArg(args[0], "task index")
			if err != nil {
				return err
			}
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				out, err := c.ClaimTask(ctx, token, index)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Claimed %s. Balance %s.", money(out.Reward), money(out.Account.Balance)))
				return nil
			})
		},
	}

	watch := &cobra.Command{
		Use:   "watch",
		Short: "Live countdown of the task board",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := cl.LoadSession()
			if err != nil {
				return fmt.Errorf("login required: %w", err)
			}
			client := newClient(apiBase)
			fetch := func(ctx context.Context) (boardSnapshot, error) {
				board, err := client.Tasks(ctx, sess.AccessToken)
				return boardSnapshot{Board: board, FetchedAt: time.Now()}, err
			}
			_, err = tea.NewProgram(newWatchModel(cmd.Context(), fetch)).Run()
			return err
		},
	}

	tasks.AddCommand(start, claim, watch)
	return tasks
}

func newTradeCmd(apiBase *string) *cobra.Command {
	trade := &cobra.Command{
		Use:   "trade",
		Short: "Show the open trade",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				v, err := c.Trade(ctx, token)
				if err != nil {
					return err
				}
				renderTrade(v)
				return nil
			})
		},
	}

	open := &cobra.Command{
		Use:   "open <tier> [amount]",
		Short: "Lock an amount into a day, weekly or monthly trade",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimalFromArgOrPrompt(args, 1, "Amount")
			if err != nil {
				return err
			}
			tier := strings.ToLower(strings.TrimSpace(args[0]))
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				out, err := c.StartTrade(ctx, token, tier, amount)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Trade opened. Balance %s.", money(out.Account.Balance)))
				renderTrade(out.Trade)
				return nil
			})
		},
	}

	claim := &cobra.Command{
		Use:   "claim",
		Short: "Collect a matured trade",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				out, err := c.ClaimTrade(ctx, token)
				if err != nil {
					return err
				}
				paid := "0"
				if out.Transaction != nil {
					paid = money(out.Transaction.Amount)
				}
				printSuccess(fmt.Sprintf("Trade paid %s. Balance %s.", paid, money(out.Account.Balance)))
				return nil
			})
		},
	}

	trade.AddCommand(open, claim)
	return trade
}

func newSpinCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "spin <bronze|gold|diamond>",
		Short: "Spend a key on a reward wheel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := economy.ParseKeyTier(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				out, err := c.Spin(ctx, token, string(tier))
				if err != nil {
					return err
				}
				renderSpin(out)
				return nil
			})
		},
	}
}

func newReferralsCmd(apiBase *string) *cobra.Command {
	refs := &cobra.Command{
		Use:     "referrals",
		Short:   "Show your invite code and salary tier progress",
		Aliases: []string{"refs"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				sum, err := c.Referrals(ctx, token)
				if err != nil {
					return err
				}
				renderReferrals(sum)
				return nil
			})
		},
	}

	redeem := &cobra.Command{
		Use:   "redeem [invite-code]",
		Short: "Record the member who invited you",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := ""
			if len(args) > 0 {
				code = args[0]
			} else {
				var err error
				if code, err = promptRequired("Invite code"); err != nil {
					return err
				}
			}
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				if _, err := c.RedeemInvite(ctx, token, strings.ToUpper(strings.TrimSpace(code))); err != nil {
					return err
				}
				printSuccess("Invite recorded.")
				return nil
			})
		},
	}

	refs.AddCommand(redeem)
	return refs
}

func newSalaryCmd(apiBase *string) *cobra.Command {
	salary := &cobra.Command{
		Use:   "salary",
		Short: "Referral salary commands",
	}
	salary.AddCommand(&cobra.Command{
		Use:   "claim <level>",
		Short: "Claim this month's salary for an unlocked tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := intArg(args[0], "level")
			if err != nil {
				return err
			}
			return withSession(cmd, apiBase, func(ctx context.Context, c *cl.Client, token string) error {
				out, err := c.ClaimSalary(ctx, token, level)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Tier %d salary paid. Balance %s.", level, money(out.Account.Balance)))
				return nil
			})
		},
	})
	return salary
}

func newAdminCmd(apiBase *string) *cobra.Command {
	admin := &cobra.Command{
		Use:    "admin",
		Short:  "Operator commands",
		Hidden: true,
	}
	admin.AddCommand(&cobra.Command{
		Use:   "grant-keys <account-id> <tier> <count>",
		Short: "Give wheel keys to an account",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			tier, err := economy.ParseKeyTier(args[1])
			if err != nil {
				return err
			}
			count, err := intArg(args[2], "count")
			if err != nil {
				return err
			}
			token, err := adminToken()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).GrantKeys(ctx, token, args[0], string(tier), count)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Keys now: %v", out["keys"]))
			return nil
		},
	})

	var reject bool
	settle := &cobra.Command{
		Use:   "settle-deposit <account-id> <deposit-id>",
		Short: "Approve (default) or reject a pending deposit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminToken()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := newClient(apiBase).SettleDeposit(ctx, token, args[0], args[1], !reject)
			if err != nil {
				return err
			}
			if reject {
				printWarn("Deposit rejected.")
				return nil
			}
			printSuccess(fmt.Sprintf("Deposit approved. Balance %s.", money(out.Account.Balance)))
			return nil
		},
	}
	settle.Flags().BoolVar(&reject, "reject", false, "reject instead of approving")
	admin.AddCommand(settle)
	return admin
}

func adminToken() (string, error) {
	if token := strings.TrimSpace(os.Getenv("CASHFORGE_ADMIN_TOKEN")); token != "" {
		return token, nil
	}
	return promptPassword("Admin token")
}

func intArg(s, label string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", label, s)
	}
	return v, nil
}
