package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"bizsim/internal/game"
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

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
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
		text := strings.TrimSpace(string(raw))
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderStatus(v game.StatusView) {
	accent.Printf("Game %s\n", v.GameID)
	if !v.Exists {
		printInfo("No session yet. The first join or submission creates it at quarter 1.")
		return
	}
	fmt.Printf("Quarter:   %d\n", v.Quarter)
	fmt.Printf("Submitted: %d/%d\n", v.SubmittedCount, v.TotalCount)
	if v.Market != nil {
		fmt.Printf("Market:    demand %s  gdp x%.3f  rate %s  material %s\n",
			comma(int64(v.Market.TotalDemand)), v.Market.GDPGrowth,
			percent(v.Market.InterestRate), formatMoney(v.Market.MaterialCost))
	}
	fmt.Println()
	fmt.Printf("%-20s %-24s %-6s %-10s\n", "COMPANY", "NAME", "SEAT", "STATUS")
	for _, c := range v.Companies {
		fmt.Printf("%-20s %-24s %-6s %s\n", truncate(c.CompanyID, 20), truncate(c.Name, 24), c.Kind, colorizeStatus(c.Status))
	}
	if v.Company != nil && !v.Company.Known {
		printWarn(fmt.Sprintf("Company %s has not joined this game.", v.Company.CompanyID))
	}
	if v.AllSubmitted {
		printSuccess("Everyone is in; the quarter will close on the next submission check.")
	}
}

func renderSubmitResult(res game.SubmitResult) {
	if res.Status == game.BarrierWaiting {
		printSuccess(fmt.Sprintf("Decisions staged for quarter %d (%d/%d submitted).", res.Quarter, res.SubmittedCount, res.TotalCount))
		if len(res.PendingCompanyIDs) > 0 {
			printInfo("Waiting on: " + strings.Join(res.PendingCompanyIDs, ", "))
		}
		return
	}
	printSuccess(fmt.Sprintf("Quarter %d closed. Now playing quarter %d.", res.Quarter, res.NextQuarter))
	for _, msg := range res.MarketEvents {
		printWarn("! " + msg)
	}
	renderLeague(res.Results)
}

func renderLeague(results map[string]game.QuarterResult) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := results[ids[i]].Financials.NetProfit, results[ids[j]].Financials.NetProfit
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return ids[i] < ids[j]
	})
	fmt.Printf("%-4s %-20s %14s %10s %8s %10s\n", "#", "COMPANY", "NET PROFIT", "SOLD", "SHARE", "PRICE")
	for i, id := range ids {
		r := results[id]
		fmt.Printf("%-4d %-20s %14s %10s %7.2f%% %10s\n",
			i+1, truncate(id, 20), colorizeMoney(r.Financials.NetProfit),
			comma(r.Metrics.UnitsSold), r.Metrics.MarketShare, formatMoney(r.Metrics.SharePrice))
	}
}

func renderReport(ledger game.CompanyLedger, r game.QuarterResult) {
	accent.Printf("%s (%s) quarter %d\n", ledger.Name, ledger.CompanyID, r.Quarter)
	f := r.Financials
	rows := []struct {
		label string
		value decimal.Decimal
	}{
		{"Revenue", f.Revenue},
		{"Cost of goods", f.COGS.Neg()},
		{"Gross profit", f.GrossProfit},
		{"Marketing", f.Expenses.Marketing.Neg()},
		{"Personnel", f.Expenses.Personnel.Neg()},
		{"Maintenance", f.Expenses.Maintenance.Neg()},
		{"Depreciation", f.Expenses.Depreciation.Neg()},
		{"Interest", f.Expenses.Interest.Neg()},
		{"Sales force", f.Expenses.Salesforce.Neg()},
		{"EBIT", f.EBIT},
		{"Tax", f.Expenses.Tax.Neg()},
		{"Net profit", f.NetProfit},
	}
	for _, row := range rows {
		fmt.Printf("  %-16s %16s\n", row.label, colorizeMoney(row.value))
	}
	fmt.Println()
	fmt.Printf("  %-10s %10s %10s %10s %10s %14s\n", "PRODUCT", "PRODUCED", "DEMAND", "SOLD", "STOCK", "REVENUE")
	for _, ps := range r.SalesByProduct {
		fmt.Printf("  %-10s %10s %10s %10s %10s %14s\n", ps.Product,
			comma(ps.UnitsProduced), comma(ps.UnitsDemanded), comma(ps.UnitsSold), comma(ps.ClosingStock), formatMoney(ps.Revenue))
	}
	fmt.Println()
	m := r.Metrics
	fmt.Printf("  Capacity %s  fulfilment %.0f%%  share %.2f%%  morale %.1f  productivity %.2f\n",
		comma(int64(m.Capacity)), m.FulfillmentRatio*100, m.MarketShare, m.Morale, m.Productivity)
	fmt.Printf("  Cash %s  loans %s  net worth %s  share price %s  EPS %s\n",
		formatMoney(f.Balance.Cash), formatMoney(f.Balance.Loans), formatMoney(f.Balance.NetWorth),
		formatMoney(m.SharePrice), m.EPS.StringFixed(4))
	for _, note := range r.Notes {
		printWarn("  " + note)
	}
}

func renderLog(entries []game.LogEntry) {
	if len(entries) == 0 {
		printInfo("Log is empty.")
		return
	}
	for _, e := range entries {
		who := ""
		if e.CompanyID != "" {
			who = " [" + e.CompanyID + "]"
		}
		fmt.Printf("%s Q%-3d %-12s%s %s\n", e.At.Local().Format("2006-01-02 15:04"), e.Quarter, e.Kind, who, e.Message)
	}
}

func renderSessions(games []game.SessionSummary) {
	if len(games) == 0 {
		printInfo("No sessions.")
		return
	}
	fmt.Printf("%-24s %8s %10s %s\n", "GAME", "QUARTER", "COMPANIES", "READY")
	for _, g := range games {
		ready := neutral.Sprint("no")
		if g.AllSubmitted {
			ready = success.Sprint("yes")
		}
		fmt.Printf("%-24s %8d %10d %s\n", truncate(g.GameID, 24), g.Quarter, g.CompanyCount, ready)
	}
}

func colorizeStatus(s game.CompanyStatus) string {
	switch s {
	case game.StatusSubmitted:
		return success.Sprint(s)
	case game.StatusLocked:
		return danger.Sprint(s)
	default:
		return warn.Sprint(s)
	}
}

func colorizeMoney(v decimal.Decimal) string {
	text := formatMoney(v)
	switch v.Sign() {
	case 1:
		return success.Sprint(text)
	case -1:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func formatMoney(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	whole := v.Truncate(0)
	frac := v.Sub(whole).Shift(2).Round(0).IntPart()
	if frac == 100 {
		whole = whole.Add(decimal.NewFromInt(1))
		frac = 0
	}
	return fmt.Sprintf("%s%s.%02d", sign, comma(whole.IntPart()), frac)
}

func percent(v decimal.Decimal) string {
	return v.Shift(2).StringFixed(2) + "%"
}

func comma(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) > 3 {
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
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
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
