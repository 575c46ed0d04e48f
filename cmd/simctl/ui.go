package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	cl "stocksim/internal/cli"
	"stocksim/internal/model"
	"stocksim/internal/quiz"
	"stocksim/internal/trade"
	"stocksim/internal/valuation"
	"stocksim/internal/watchlist"
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
	danger.Println(msg)
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

func promptConfirm(label string) (bool, error) {
	fmt.Printf("%s (y/N): ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true, nil
	}
	printInfo("Aborted.")
	return false, nil
}

func promptInt64(label string, min int64) (int64, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			printWarn("Enter a whole number.")
			continue
		}
		if v < min {
			printWarn(fmt.Sprintf("Value must be >= %d", min))
			continue
		}
		return v, nil
	}
}

func promptSymbol(label string) (string, error) {
	for {
		text, err := promptRequired(label)
		if err != nil {
			return "", err
		}
		symbol, err := model.NormalizeSymbol(text)
		if err != nil {
			printWarn(err.Error())
			continue
		}
		return symbol, nil
	}
}

func renderMe(me cl.Me) {
	a := me.Account
	accent.Println("\n== ACCOUNT ==")
	fmt.Printf("Nickname:  %s\n", a.Nickname)
	fmt.Printf("Email:     %s\n", me.Email)
	fmt.Printf("Group:     %s\n", orDash(a.Group))
	fmt.Printf("Status:    %s\n", colorizeStatus(a.Status))
	fmt.Printf("Cash:      %s KRW\n", formatMoney(a.Cash))
	fmt.Printf("Quiz tries:%d\n", a.QuizTries)
	if me.IsAdmin {
		warn.Println("Administrator")
	}
	fmt.Println()
}

func renderPortfolio(v valuation.Valuation, season int64) {
	if season > 0 {
		accent.Printf("\n== PORTFOLIO (Season %d) ==\n", season)
	} else {
		accent.Println("\n== PORTFOLIO ==")
	}
	fmt.Printf("Cash:        %s KRW\n", formatMoney(v.Cash))
	fmt.Printf("Total Asset: %s KRW\n", formatMoney(v.TotalAsset))
	fmt.Printf("P/L:         %s KRW\n", colorizeMoney(v.ProfitLoss))
	fmt.Printf("Return:      %s\n", colorizePercent(v.ProfitRate))
	if v.Partial {
		printWarn("Some prices were unavailable: " + v.UnresolvedSummary())
	}

	fmt.Println()
	accent.Println("Holdings")
	if len(v.Holdings) == 0 {
		printInfo("No holdings yet.")
		fmt.Println()
		return
	}
	fmt.Printf("%-12s %12s %14s %14s %16s %16s %9s\n", "SYMBOL", "QTY", "AVG", "NOW", "VALUE", "P/L", "P/L%")
	for _, h := range v.Holdings {
		now := formatMoney(h.CurrentPrice)
		if !h.Resolved {
			now = warn.Sprint("n/a")
		}
		fmt.Printf("%-12s %12s %14s %14s %16s %16s %9s\n",
			truncate(h.Symbol, 12),
			h.Quantity.String(),
			formatMoney(h.AvgBuyPrice),
			now,
			formatMoney(h.CurrentValue),
			colorizeMoney(h.ProfitLoss),
			colorizePercent(h.ProfitRate),
		)
	}
	fmt.Println()
}

func renderHistory(points []model.PortfolioPoint) {
	accent.Println("\n== PORTFOLIO HISTORY ==")
	if len(points) == 0 {
		printInfo("No recorded values yet.")
		return
	}
	fmt.Printf("%-20s %16s %9s\n", "TIME", "TOTAL", "RETURN")
	for _, p := range points {
		fmt.Printf("%-20s %16s %9s\n", p.RecordedAt.Local().Format("2006-01-02 15:04"), formatMoney(p.TotalAsset), colorizePercent(p.ProfitRate))
	}
	fmt.Println()
}

func renderTrade(res trade.TradeResult) {
	accent.Printf("\n== ORDER %s ==\n", strings.ToUpper(string(res.Side)))
	fmt.Printf("Symbol:   %s\n", res.Symbol)
	fmt.Printf("Shares:   %s\n", res.Quantity.String())
	fmt.Printf("Price:    %s KRW\n", formatMoney(res.Price))
	fmt.Printf("Notional: %s KRW\n", formatMoney(res.Notional))
	fmt.Printf("Fee:      %s KRW\n", formatMoney(res.Fee))
	fmt.Printf("Cash:     %s KRW\n", formatMoney(res.Cash))
	if res.Message != "" {
		printInfo(res.Message)
	}
	fmt.Println()
}

func renderOrders(orders []model.LimitOrder) {
	accent.Println("\n== OPEN LIMIT ORDERS ==")
	if len(orders) == 0 {
		printInfo("No open orders.")
		return
	}
	fmt.Printf("%-36s %-5s %-12s %12s %14s %-20s\n", "ID", "SIDE", "SYMBOL", "QTY", "LIMIT", "PLACED")
	for _, o := range orders {
		fmt.Printf("%-36s %-5s %-12s %12s %14s %-20s\n",
			o.ID, o.Side, truncate(o.Symbol, 12), o.Quantity.String(), formatMoney(o.LimitPrice),
			o.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Println()
}

func renderTransactions(txs []model.Transaction) {
	accent.Println("\n== TRADES ==")
	if len(txs) == 0 {
		printInfo("No trades found.")
		return
	}
	fmt.Printf("%-20s %-5s %-6s %-12s %12s %14s %12s\n", "TIME", "SIDE", "KIND", "SYMBOL", "QTY", "PRICE", "FEE")
	for _, t := range txs {
		side := success.Sprintf("%-5s", t.Side)
		if t.Side == model.SideSell {
			side = danger.Sprintf("%-5s", t.Side)
		}
		fmt.Printf("%-20s %s %-6s %-12s %12s %14s %12s\n",
			t.CreatedAt.Local().Format("2006-01-02 15:04"), side, t.Kind, truncate(t.Symbol, 12),
			t.Quantity.String(), formatMoney(t.Price), formatMoney(t.Fee))
	}
	fmt.Println()
}

func renderRankings(snap model.RankingSnapshot, groups bool) {
	if snap.UpdatedAt.IsZero() {
		printInfo("Rankings have not been computed yet.")
		return
	}
	if groups {
		accent.Println("\n== GROUP RANKING ==")
		fmt.Printf("%-5s %-24s %8s %10s\n", "RANK", "GROUP", "MEMBERS", "AVG")
		for _, g := range snap.Groups {
			fmt.Printf("%-5d %-24s %8d %10s\n", g.Rank, truncate(g.Group, 24), g.MemberCount, colorizePercent(g.AvgProfitRate))
		}
	} else {
		accent.Println("\n== RANKING ==")
		renderRankers(snap.Personal)
	}
	printInfo("Updated " + snap.UpdatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Println()
}

func renderRankers(rows []model.PersonalRank) {
	fmt.Printf("%-5s %-20s %-16s %16s %10s\n", "RANK", "NICKNAME", "GROUP", "TOTAL", "RETURN")
	for _, r := range rows {
		fmt.Printf("%-5d %-20s %-16s %16s %10s\n", r.Rank, truncate(r.Nickname, 20), truncate(orDash(r.Group), 16), formatMoney(r.TotalAsset), colorizePercent(r.ProfitRate))
	}
}

func renderSeasons(s cl.Seasons) {
	accent.Println("\n== SEASONS ==")
	fmt.Printf("Current: Season %d (started %s)\n", s.Current.CurrentID, s.Current.StartDate.Local().Format("2006-01-02"))
	if s.Current.DeletingID != 0 {
		printWarn(fmt.Sprintf("Deletion of season %d is in progress.", s.Current.DeletingID))
	}
	if len(s.Archives) == 0 {
		printInfo("No closed seasons yet.")
		return
	}
	fmt.Println()
	for _, a := range s.Archives {
		line := a.Name
		if a.Status == model.ArchiveClosing {
			line += warn.Sprint(" [closing]")
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func renderHallOfFame(a model.SeasonArchive) {
	accent.Printf("\n== HALL OF FAME: %s ==\n", a.Name)
	if len(a.TopRankers) == 0 {
		printInfo("Nobody ranked this season.")
		return
	}
	renderRankers(a.TopRankers)
	fmt.Println()
}

func renderDebates(debates []cl.Debate) {
	accent.Println("\n== DEBATES ==")
	if len(debates) == 0 {
		printInfo("No debates yet.")
		return
	}
	for _, d := range debates {
		status := success.Sprint(d.Status)
		if d.Status == model.DebateClosed {
			status = neutral.Sprintf("%s, answer %s", d.Status, d.CorrectAnswer)
		}
		fmt.Printf("%s  %s\n", accent.Sprint(d.ID), d.Topic)
		fmt.Printf("    O %d / X %d  (%s)", d.OVotes, d.XVotes, status)
		if d.MyVote != "" {
			fmt.Printf("  you voted %s", d.MyVote)
		}
		fmt.Println()
	}
	fmt.Println()
}

func renderQuests(q model.QuestProgress) {
	accent.Println("\n== QUESTS ==")
	fmt.Printf("Beginner:     %s  (hold 3 different symbols)\n", colorizeQuest(q.BeginnerStatus))
	fmt.Printf("Intermediate: %s  (reach a 10%% return)\n", colorizeQuest(q.IntermediateStatus))
	fmt.Printf("Advanced:     %s  (answer 5 debates correctly, %d so far)\n", colorizeQuest(q.AdvancedStatus), q.OXCorrectAnswers)
	if q.Badge != "" {
		success.Printf("Badge: %s\n", q.Badge)
	}
	fmt.Println()
}

func renderWatchlist(w watchlist.Watchlist) {
	accent.Println("\n== WATCHLIST ==")
	if len(w.Entries) == 0 {
		printInfo("Nothing watched yet. Add one with `simctl watch add <symbol>`.")
		return
	}
	fmt.Printf("%-12s %-24s %16s %10s\n", "SYMBOL", "NAME", "PRICE (KRW)", "CHANGE")
	for _, e := range w.Entries {
		if !e.Resolved {
			fmt.Printf("%-12s %-24s %16s %10s\n", truncate(e.Symbol, 12), truncate(e.Name, 24), "-", "-")
			continue
		}
		fmt.Printf("%-12s %-24s %16s %10s\n", truncate(e.Symbol, 12), truncate(e.Name, 24), formatMoney(e.Price), colorizePercent(e.ChangePercent))
	}
	if w.Partial {
		printWarn("Some quotes are unavailable right now.")
	}
	fmt.Println()
}

func renderQuizzes(quizzes []model.Quiz, el quiz.Eligibility) {
	accent.Println("\n== QUIZ ==")
	if el.Eligible {
		fmt.Printf("Reward %s KRW per correct answer, %d tries left this season.\n", formatMoney(el.Reward), el.TriesLeft)
	} else {
		printWarn("No reward tries left this season.")
	}
	if len(quizzes) == 0 {
		printInfo("No quizzes yet.")
		return
	}
	for _, q := range quizzes {
		fmt.Printf("\n%s  %s\n", accent.Sprint(q.ID), q.Question)
		for i, c := range q.Choices {
			fmt.Printf("    %d) %s\n", i+1, c)
		}
	}
	fmt.Println()
}

func colorizeStatus(s model.AccountStatus) string {
	switch s {
	case model.AccountActive:
		return success.Sprint(s)
	case model.AccountSuspended:
		return danger.Sprint(s)
	default:
		return warn.Sprint(s)
	}
}

func colorizeQuest(s model.QuestStatus) string {
	switch s {
	case model.QuestCompleted:
		return success.Sprint(s)
	case model.QuestInProgress:
		return warn.Sprint(s)
	default:
		return neutral.Sprint(s)
	}
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizePercent(v decimal.Decimal) string {
	text := v.StringFixed(2) + "%"
	switch v.Sign() {
	case 1:
		return success.Sprint("+" + text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

// formatMoney renders whole won with thousands separators.
func formatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	return sign + comma(v.Round(0).String())
}

func comma(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
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

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
