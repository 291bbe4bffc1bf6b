package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"cashforge/internal/catalog"
	"cashforge/internal/economy"
	"cashforge/internal/game"
	"cashforge/internal/ledger"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Fprintln(os.Stderr, msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword hides input on a terminal and falls back to a plain read
// when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptConfirm(label string) (bool, error) {
	text, err := promptOptional(label + " [y/N]")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(text) {
	case "y", "yes":
		return true, nil
	default:
		printInfo("Cancelled.")
		return false, nil
	}
}

func promptDecimal(label string) (decimal.Decimal, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return decimal.Zero, err
		}
		v, err := economy.ParseAmount(strings.ReplaceAll(text, ",", ""))
		if err != nil || !v.IsPositive() {
			printWarn("Enter a positive amount with at most two decimals.")
			continue
		}
		return v, nil
	}
}

func decimalFromArgOrPrompt(args []string, idx int, label string) (decimal.Decimal, error) {
	if len(args) > idx {
		v, err := economy.ParseAmount(strings.ReplaceAll(args[idx], ",", ""))
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid %s: %w", strings.ToLower(label), err)
		}
		return v, nil
	}
	return promptDecimal(label)
}

func renderDashboard(d game.Dashboard) {
	a := d.Account
	accent.Printf("\n== %s ==\n", a.Username)
	fmt.Printf("Balance:        %s\n", money(a.Balance))
	fmt.Printf("VIP level:      %d\n", a.VIPLevel)
	if d.Package != nil {
		fmt.Printf("Package:        %s (daily income %s)\n", d.Package.Name, money(d.Package.DailyIncome))
	} else {
		printInfo("Package:        none yet, see `cf catalog`")
	}
	fmt.Printf("Invite code:    %s (%d referrals)\n", a.InviteCode, a.ReferralCount)

	keys := make([]string, 0, len(economy.KeyTiers))
	for _, tier := range economy.KeyTiers {
		keys = append(keys, fmt.Sprintf("%s %d", tier, a.Keys[tier]))
	}
	fmt.Printf("Keys:           %s\n", strings.Join(keys, ", "))
	for _, dep := range a.PendingDeposits {
		warn.Printf("Pending:        deposit of PKR %s (%s) awaiting review\n", money(dep.PKRAmount), money(dep.Credit))
	}

	fmt.Println()
	renderTrade(d.Trade)
	fmt.Println()
}

func renderTransactions(txs []ledger.Transaction) {
	if len(txs) == 0 {
		printInfo("No transactions yet.")
		return
	}
	fmt.Printf("%-19s %-13s %14s %14s %-10s %s\n", "WHEN", "TYPE", "AMOUNT", "BALANCE", "STATUS", "NOTE")
	for _, tx := range txs {
		fmt.Printf("%-19s %-13s %14s %14s %-10s %s\n",
			tx.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			tx.Type,
			colorizeAmount(tx.Amount),
			money(tx.BalanceAfter),
			tx.Status,
			truncate(tx.Note, 40),
		)
	}
}

func renderCatalog(c catalog.Catalog) {
	accent.Println("\nPackages")
	fmt.Printf("%-6s %-4s %-16s %12s %12s %6s\n", "ID", "VIP", "NAME", "COST", "DAILY", "TASKS")
	for _, p := range c.Packages {
		fmt.Printf("%-6s %-4d %-16s %12s %12s %6d\n", p.ID, p.Level, truncate(p.Name, 16), money(p.InvestmentCost), money(p.DailyIncome), len(p.Tasks))
	}

	accent.Println("\nTrades")
	fmt.Printf("%-8s %-14s %12s %12s %8s %8s\n", "ID", "NAME", "MIN", "MAX", "HOURS", "RETURN")
	for _, t := range c.TradeTiers {
		fmt.Printf("%-8s %-14s %12s %12s %8d %7s%%\n", t.ID, truncate(t.Name, 14), money(t.Min), money(t.Max), t.DurationHours, t.ReturnFraction.Mul(decimal.NewFromInt(100)).StringFixed(1))
	}

	accent.Println("\nReferral salaries")
	for _, s := range c.SalaryTiers {
		fmt.Printf("Tier %d: %4d referrals -> %s / month\n", s.Level, s.RequiredReferrals, money(s.Salary))
	}

	accent.Println("\nWheels")
	for _, w := range c.Wheels {
		prizes := make([]string, len(w.Prizes))
		for i, p := range w.Prizes {
			prizes[i] = money(p)
		}
		fmt.Printf("%-8s %s\n", w.Tier, strings.Join(prizes, " | "))
	}
	fmt.Println()
}

func renderTaskBoard(b game.TaskBoardView) {
	accent.Printf("\nTasks for %s (%s)\n", b.Day, b.PackageID)
	fmt.Printf("%-3s %-32s %-10s %10s %10s\n", "#", "TASK", "STATUS", "REWARD", "LEFT")
	for i, t := range b.Tasks {
		left := ""
		if t.EffectiveStatus == economy.TaskRunning {
			left = formatSeconds(t.RemainingSeconds)
		}
		fmt.Printf("%-3d %-32s %-10s %10s %10s\n", i, truncate(t.Description, 32), statusLabel(t.EffectiveStatus), money(t.Reward), left)
	}
	fmt.Println()
}

func renderTrade(v game.TradeView) {
	if v.Trade == nil {
		printInfo("No open trade.")
		return
	}
	t := v.Trade
	fmt.Printf("Trade:          %s, principal %s, pays %s\n", t.TierID, money(t.Principal), money(t.Payout()))
	switch v.Status {
	case economy.TradeClaimable:
		success.Println("Status:         matured, run `cf trade claim`")
	default:
		fmt.Printf("Status:         running, %s left (ends %s)\n", formatSeconds(v.RemainingSeconds), t.EndTime.Local().Format(time.RFC822))
	}
}

func renderSpin(out game.SpinOutcome) {
	accent.Printf("The %s wheel stops at %.0f degrees...\n", out.Tier, out.Spin.Angle)
	success.Printf("You won %s!\n", money(out.Spin.Prize))
	fmt.Printf("%s keys left: %d. Balance %s.\n", out.Tier, out.KeysLeft, money(out.Account.Balance))
}

func renderReferrals(s game.ReferralSummary) {
	fmt.Printf("Invite code:    %s\n", s.InviteCode)
	fmt.Printf("Referrals:      %d\n", s.ReferralCount)
	if s.Next != nil {
		fmt.Printf("Next tier:      %d at %d referrals (%.0f%% there)\n", s.Next.Level, s.Next.RequiredReferrals, s.Progress)
	} else {
		success.Println("Every salary tier unlocked.")
	}
	for _, t := range s.Unlocked {
		state := warn.Sprint("claimable")
		if s.Claimed[t.Level] == s.Period {
			state = neutral.Sprint("paid for " + s.Period)
		}
		fmt.Printf("Tier %d salary %s: %s\n", t.Level, money(t.Salary), state)
	}
}

func statusLabel(s economy.TaskStatus) string {
	switch s {
	case economy.TaskRunning:
		return warn.Sprint("running")
	case economy.TaskClaimable:
		return success.Sprint("ready")
	case economy.TaskCompleted:
		return neutral.Sprint("done")
	default:
		return "idle"
	}
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

func colorizeAmount(v decimal.Decimal) string {
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + money(v))
	case -1:
		return danger.Sprint(money(v))
	default:
		return neutral.Sprint(money(v))
	}
}

// money renders an amount with two decimals and thousands separators.
func money(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	s := v.StringFixed(economy.CentsPlaces)
	whole, frac, _ := strings.Cut(s, ".")
	return sign + comma(whole) + "." + frac
}

func comma(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatSeconds(secs int64) string {
	if secs <= 0 {
		return "0s"
	}
	return (time.Duration(secs) * time.Second).String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
