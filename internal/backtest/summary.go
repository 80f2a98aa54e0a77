package backtest

import (
	"fmt"
	"strings"
)

// ClosedTrades returns the trades that were exited before the last bar.
func (r *Result) ClosedTrades() []Trade {
	var out []Trade
	for _, t := range r.Trades {
		if !t.Open {
			out = append(out, t)
		}
	}
	return out
}

// Summary renders the headline metrics as a fixed-width box.
func (r *Result) Summary(title string) string {
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "║  %-18s %-17s ║\n", label+":", value)
	}
	b.WriteString("╔══════════════════════════════════════╗\n")
	fmt.Fprintf(&b, "║  %-35s ║\n", title)
	b.WriteString("╠══════════════════════════════════════╣\n")
	line("Strategy Return", fmt.Sprintf("%.2f%%", r.TotalReturn))
	line("Buy & Hold Return", fmt.Sprintf("%.2f%%", r.BenchmarkReturn))
	line("Alpha", fmt.Sprintf("%.2f%%", r.Alpha))
	line("Sharpe Ratio", fmt.Sprintf("%.2f", r.Sharpe))
	line("Max Drawdown", fmt.Sprintf("%.2f%%", r.MaxDrawdown*100))
	line("Win Rate", fmt.Sprintf("%.1f%%", r.WinRate*100))
	line("# Trades", fmt.Sprintf("%g", r.TradeCount))
	line("Final Equity", fmt.Sprintf("$%.2f", r.FinalEquity))
	b.WriteString("╚══════════════════════════════════════╝\n")
	return b.String()
}
