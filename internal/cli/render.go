package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Veraticus/bookkeeper/internal/engine"
	"github.com/Veraticus/bookkeeper/internal/eval"
	"github.com/Veraticus/bookkeeper/internal/learning"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// RenderDecision renders one engine result for review.
func RenderDecision(r engine.Result) string {
	t := r.Transaction
	d := r.Decision

	var b strings.Builder
	fmt.Fprintf(&b, "%s Details:\n", InfoIcon)
	fmt.Fprintf(&b, "  Date: %s\n", t.Date.Format("Jan 2, 2006"))
	fmt.Fprintf(&b, "  Amount: $%.2f\n", t.Amount)
	if t.AccountName != "" {
		fmt.Fprintf(&b, "  Account: %s\n", t.AccountName)
	}
	if t.Memo != "" {
		fmt.Fprintf(&b, "  Memo: %s\n", t.Memo)
	}
	b.WriteString("\n")

	if d.HasSuggestion() {
		fmt.Fprintf(&b, "Suggestion: %s %s\n",
			confidenceStyle(d.Confidence).Render(d.Category),
			SubtleStyle.Render(fmt.Sprintf("(%.0f%% confidence, %s)", d.Confidence*100, d.Agreement)))
	} else {
		b.WriteString(WarningStyle.Render("No suggestion") + "\n")
	}

	for _, c := range d.Contributions {
		style := SourceStyle(c.Source)
		fmt.Fprintf(&b, "  • %s %s (%.2f)\n",
			style.Render(fmt.Sprintf("%-12s", c.Source)), style.Render(c.Category), c.Confidence)
	}
	for _, f := range d.Failures {
		fmt.Fprintf(&b, "  %s %-12s %s\n", ErrorIcon, f.Source, SubtleStyle.Render(f.Reason))
	}
	if d.Rationale != "" {
		b.WriteString("\n" + SubtleStyle.Render(d.Rationale))
	}

	return RenderBox("Transaction Review: "+t.Payee, strings.TrimRight(b.String(), "\n"))
}

// RenderDecisionLine is the one-line form used for auto-accepted and dry-run output.
func RenderDecisionLine(r engine.Result) string {
	t := r.Transaction
	d := r.Decision
	label := WarningStyle.Render("(no suggestion)")
	if d.HasSuggestion() {
		label = confidenceStyle(d.Confidence).Render(fmt.Sprintf("%s %.0f%%", d.Category, d.Confidence*100))
	}
	return fmt.Sprintf("%s  %-28s %10.2f  %s",
		t.Date.Format("2006-01-02"), truncate(t.Payee, 28), t.Amount, label)
}

// RenderBatchSummary renders the totals of a classify run.
func RenderBatchSummary(s engine.BatchClassificationSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  • Transactions: %d\n", s.TotalTransactions)
	fmt.Fprintf(&b, "  • Suggested: %d\n", s.SuggestedCount)
	fmt.Fprintf(&b, "  • Auto-accepted: %d\n", s.AutoAcceptedCount)
	fmt.Fprintf(&b, "  • No suggestion: %d\n", s.NoSuggestionCount)
	fmt.Fprintf(&b, "  • Conflicts: %d\n", s.ConflictCount)
	if s.SkippedCount > 0 {
		fmt.Fprintf(&b, "  • Skipped (malformed): %d\n", s.SkippedCount)
	}
	for _, source := range sortedSources(s.SourceFailures) {
		fmt.Fprintf(&b, "  • %s failures: %d\n", source, s.SourceFailures[source])
	}
	fmt.Fprintf(&b, "  • Time taken: %s", s.ProcessingTime.Round(time.Millisecond))
	return RenderBox(ChartIcon+" Classification Summary", b.String())
}

// RenderReport renders an evaluation report as a per-category table.
func RenderReport(r *eval.Report) string {
	width := len("Category")
	for _, m := range r.Categories {
		width = max(width, lipgloss.Width(m.Category))
	}

	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%-*s %8s %9s %7s %7s", width, "Category", "Support", "Precision", "Recall", "F1")))
	b.WriteString("\n")
	for _, m := range r.Categories {
		fmt.Fprintf(&b, "%-*s %8d %9.3f %7.3f %7.3f\n", width, m.Category, m.Support, m.Precision, m.Recall, m.F1)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Source: %s\n", r.Source)
	fmt.Fprintf(&b, "Accuracy: %s (%d/%d)\n", BoldStyle.Render(fmt.Sprintf("%.1f%%", r.Accuracy*100)), r.Correct, r.Evaluated)
	fmt.Fprintf(&b, "Coverage: %.1f%%\n", r.Coverage*100)
	fmt.Fprintf(&b, "Abstained: %d  Failed: %d  Skipped: %d", r.Abstained, r.Failed, r.Skipped)

	return RenderBox(ChartIcon+" Evaluation Report", b.String())
}

// RenderSummary renders correction-log accuracy and the most recent retrains.
func RenderSummary(s learning.Summary, runs []service.RetrainRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reviewed transactions: %d\n", s.Total)
	fmt.Fprintf(&b, "Accepted: %d  Overridden: %d  Unsuggested: %d\n", s.Accepted, s.Overridden, s.Unsuggested)
	fmt.Fprintf(&b, "Suggestion accuracy: %s\n", BoldStyle.Render(fmt.Sprintf("%.1f%%", s.Accuracy*100)))

	categories := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	if len(categories) > 0 {
		b.WriteString("\n")
		for _, c := range categories {
			cs := s.ByCategory[c]
			fmt.Fprintf(&b, "  • %s: %d/%d accepted\n", c, cs.Accepted, cs.Suggested)
		}
	}

	if len(runs) > 0 {
		b.WriteString("\nRecent retrains:\n")
		for _, run := range runs {
			fmt.Fprintf(&b, "  • %s %-9s %d examples, %d categories\n",
				run.CreatedAt.Local().Format("2006-01-02 15:04"), run.Result, run.Examples, run.Categories)
		}
	}

	return RenderBox(ChartIcon+" Learning Summary", strings.TrimRight(b.String(), "\n"))
}

func confidenceStyle(confidence float64) lipgloss.Style {
	switch {
	case confidence >= 0.85:
		return SuccessStyle
	case confidence >= 0.6:
		return InfoStyle
	default:
		return WarningStyle
	}
}

func sortedSources(m map[model.Source]int) []model.Source {
	out := make([]model.Source, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
