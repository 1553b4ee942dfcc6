package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"retail-pricing/decision/integration"
	"retail-pricing/decision/pipeline"
	"retail-pricing/decision/recommendation"
	records "retail-pricing/pkg/api"
)

// =============================================================================
// OUTPUT FORMATTERS
// =============================================================================

const (
	boxTop    = "╔══════════════════════════════════════════════════════════════════════════╗"
	boxMid    = "╠══════════════════════════════════════════════════════════════════════════╣"
	boxBottom = "╚══════════════════════════════════════════════════════════════════════════╝"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStage(w io.Writer, r pipeline.StageReport) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, boxTop)
	fmt.Fprintf(w, "║  STAGE: %-64s ║\n", r.Stage)
	fmt.Fprintln(w, boxMid)

	tables := make([]string, 0, len(r.Loaded))
	for t := range r.Loaded {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	for _, t := range tables {
		fmt.Fprintf(w, "║  Loaded  %-20s %43d ║\n", t, r.Loaded[t])
	}
	for _, o := range r.Outputs {
		fmt.Fprintf(w, "║  Wrote   %-20s %43d ║\n", o.Table, o.Rows)
		fmt.Fprintf(w, "║    %-69s ║\n", truncate(o.Path, 69))
	}
	if r.Warnings > 0 {
		fmt.Fprintf(w, "║  Parse warnings %56d ║\n", r.Warnings)
	}
	fmt.Fprintf(w, "║  Elapsed %63s ║\n", r.Duration.String())
	fmt.Fprintln(w, boxBottom)
}

func printJoinStats(w io.Writer, s integration.IntegrationStats) {
	pct := func(n int) string {
		if s.Sales == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f%%", float64(n)*100/float64(s.Sales))
	}
	fmt.Fprintln(w, boxTop)
	fmt.Fprintf(w, "║  %-50s %20s ║\n", "Sales with catalog match", pct(s.CatalogMatched))
	fmt.Fprintf(w, "║  %-50s %20s ║\n", "Sales with inventory match", pct(s.InventoryMatched))
	fmt.Fprintf(w, "║  %-50s %20s ║\n", "Sales with competitor match", pct(s.CompetitorMatched))
	if s.DuplicateCompetitors > 0 {
		fmt.Fprintf(w, "║  %-50s %20d ║\n", "Duplicate competitor skus ignored", s.DuplicateCompetitors)
	}
	fmt.Fprintln(w, boxBottom)
}

func printRecommendations(w io.Writer, recs []records.RecommendationRecord, counts map[records.Justification]int, limit int) {
	fmt.Fprintln(w, boxTop)
	fmt.Fprintf(w, "║  %-10s %6s %10s %10s %6s  %-24s ║\n", "SKU", "STORE", "CURRENT", "NEW", "STOCK", "JUSTIFICATION")
	fmt.Fprintln(w, boxMid)
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}
	for _, r := range recs[:limit] {
		stock := "-"
		if r.CurrentStock != nil {
			stock = fmt.Sprint(*r.CurrentStock)
		}
		fmt.Fprintf(w, "║  %-10s %6d %10s %10s %6s  %-24s ║\n",
			truncate(r.SKU, 10), r.StoreID, r.CurrentPrice.StringFixed(2), r.RecommendedPrice.StringFixed(2),
			stock, truncate(string(r.Justification), 24))
	}
	if limit < len(recs) {
		fmt.Fprintf(w, "║  ... %-67s ║\n", fmt.Sprintf("%d more", len(recs)-limit))
	}
	fmt.Fprintln(w, boxMid)

	reasons := make([]string, 0, len(counts))
	for j := range counts {
		reasons = append(reasons, string(j))
	}
	sort.Strings(reasons)
	for _, j := range reasons {
		fmt.Fprintf(w, "║  %-50s %20d ║\n", j, counts[records.Justification(j)])
	}
	fmt.Fprintln(w, boxBottom)
}

func printRun(w io.Writer, r *pipeline.RunReport) {
	fmt.Fprintf(w, "\nRun %s\n", r.ID)
	if r.Generate != nil {
		printStage(w, r.Generate.StageReport)
	}
	printStage(w, r.Integrate.StageReport)
	printJoinStats(w, r.Integrate.Stats)
	printStage(w, r.Recommend.StageReport)
	printRecommendations(w, r.Recommend.Records, r.Recommend.ByJustification, 10)
}

func printRules(w io.Writer, rules []recommendation.Rule) {
	fmt.Fprintln(w, boxTop)
	fmt.Fprintf(w, "║  %-71s ║\n", "Rules run top to bottom; the last matching rule sets the price.")
	fmt.Fprintln(w, boxMid)
	for i, r := range rules {
		fmt.Fprintf(w, "║  %d. %-16s %-51s ║\n", i+1, r.ID, truncate(string(r.Justification), 51))
		fmt.Fprintf(w, "║     %-68s ║\n", truncate(r.Description, 68))
	}
	fmt.Fprintln(w, boxBottom)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
