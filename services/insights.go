package services

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/jbvcollective/Kozi-sub000/models"
)

var (
	titleColor  = color.New(color.FgMagenta, color.Bold)
	headerColor = color.New(color.FgYellow, color.Bold)
	valueColor  = color.New(color.FgGreen, color.Bold)
)

// maxPrintRows caps each printed table; the full sets go to the sink.
const maxPrintRows = 10

// Print renders a console summary of a. Output is written to w.
func (s *AnalyticsService) Print(w io.Writer, a *models.MarketAnalytics) {
	sep := strings.Repeat("═", 64)
	thin := strings.Repeat("─", 64)

	titleColor.Fprintf(w, "\n%s\n", sep)
	titleColor.Fprintf(w, "  MARKET ANALYTICS  (%s)\n", a.ComputedAt.Format("2006-01-02 15:04 MST"))
	titleColor.Fprintf(w, "%s\n\n", sep)

	headerColor.Fprintf(w, "  List-to-sale ratio by area\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(a.ByArea) == 0 {
		fmt.Fprintf(w, "  No sold listings with list and close prices\n")
	}
	for i, r := range a.ByArea {
		if i == maxPrintRows {
			fmt.Fprintf(w, "  ... %d more\n", len(a.ByArea)-maxPrintRows)
			break
		}
		fmt.Fprintf(w, "  %-32s %s  (n=%d)\n", truncate(r.Area, 30), valueColor.Sprintf("%.4f", r.Ratio), r.SampleSize)
	}
	fmt.Fprintln(w)

	headerColor.Fprintf(w, "  Monthly activity\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  %-8s %6s %6s %14s %8s %8s\n", "month", "new", "sold", "median sold", "avg dom", "active")
	start := 0
	if len(a.ByMonth) > maxPrintRows {
		start = len(a.ByMonth) - maxPrintRows
	}
	for _, m := range a.ByMonth[start:] {
		fmt.Fprintf(w, "  %-8s %6d %6d %14.2f %8.2f %8d\n",
			m.Month, m.NewListings, m.Sold, m.MedianSoldPrice, m.AvgDOM, m.ActiveEstimate)
	}
	fmt.Fprintln(w)

	headerColor.Fprintf(w, "  Region health\n")
	fmt.Fprintf(w, "  %s\n", thin)
	printed := 0
	for _, h := range a.AreaHealth {
		if h.AreaType != "region" {
			continue
		}
		if printed == maxPrintRows {
			fmt.Fprintf(w, "  ...\n")
			break
		}
		printed++
		mos := "n/a"
		if h.MonthsOfSupply != nil {
			mos = fmt.Sprintf("%.2f", *h.MonthsOfSupply)
		}
		fmt.Fprintf(w, "  %-26s active %-5d mos %-6s %-8s trend %s\n",
			truncate(h.Area, 24), h.ActiveCount, mos, indicatorColor(h.MarketIndicator), trendLabel(h))
	}
	if printed == 0 {
		fmt.Fprintf(w, "  No region data\n")
	}

	titleColor.Fprintf(w, "\n%s\n\n", sep)
}

func indicatorColor(indicator string) string {
	switch indicator {
	case "seller":
		return color.RedString(indicator)
	case "buyer":
		return color.CyanString(indicator)
	case "neutral":
		return color.YellowString(indicator)
	}
	return indicator
}

func trendLabel(h models.AreaHealth) string {
	if h.PriceTrend == "unknown" {
		return h.PriceTrend
	}
	return fmt.Sprintf("%s %+.2f%%", h.PriceTrend, h.PriceTrendPct)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
