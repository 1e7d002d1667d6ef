package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/Veraticus/bookkeeper/internal/engine"
	"github.com/Veraticus/bookkeeper/internal/model"
)

// Action is what the operator did with a decision.
type Action string

// Review actions.
const (
	ActionAccept  Action = "accept"
	ActionCorrect Action = "correct"
	ActionSkip    Action = "skip"
)

// Verdict is the operator's answer for one transaction. Category is empty for skips.
type Verdict struct {
	Category     string
	Action       Action
	AutoAccepted bool
}

// ReviewStats counts verdicts over a session.
type ReviewStats struct {
	Reviewed     int
	Accepted     int
	Corrected    int
	Skipped      int
	AutoAccepted int
	Duration     time.Duration
}

// Reviewer walks the operator through ensemble decisions one at a time.
type Reviewer struct {
	startTime   time.Time
	writer      io.Writer
	reader      *LineReader
	taxonomy    *model.Taxonomy
	progressBar *progressbar.ProgressBar
	recent      []string
	stats       ReviewStats
	mu          sync.Mutex
}

// NewReviewer creates a reviewer reading answers from r and writing to w. Custom categories
// are checked against taxonomy when it is non-empty.
func NewReviewer(r io.Reader, w io.Writer, taxonomy *model.Taxonomy) *Reviewer {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &Reviewer{
		reader:    NewLineReader(r),
		writer:    w,
		taxonomy:  taxonomy,
		startTime: time.Now(),
	}
}

// Start shows a progress bar over total decisions.
func (p *Reviewer) Start(total int) {
	p.progressBar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.writer),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[green][bold]Reviewing...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// Review asks the operator about one result. Auto-accepted results are confirmed without a
// prompt.
func (p *Reviewer) Review(ctx context.Context, result engine.Result) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	defer p.advance()

	if result.AutoAccepted && result.Decision.HasSuggestion() {
		if _, err := fmt.Fprintln(p.writer, FormatSuccess(RenderDecisionLine(result))); err != nil {
			slog.Warn("Failed to write auto-accepted decision", "error", err)
		}
		p.count(Verdict{Action: ActionAccept, AutoAccepted: true})
		return Verdict{Category: result.Decision.Category, Action: ActionAccept, AutoAccepted: true}, nil
	}

	if _, err := fmt.Fprintln(p.writer, RenderDecision(result)); err != nil {
		return Verdict{}, fmt.Errorf("failed to write decision: %w", err)
	}

	choices := []string{"c", "s"}
	if result.Decision.HasSuggestion() {
		choices = append([]string{"a"}, choices...)
		if _, err := fmt.Fprintf(p.writer, "  [A] Accept suggestion: %s\n", SuccessStyle.Render(result.Decision.Category)); err != nil {
			return Verdict{}, fmt.Errorf("failed to write accept option: %w", err)
		}
	}
	if _, err := fmt.Fprint(p.writer, "  [C] Choose a category\n  [S] Skip this transaction\n\n"); err != nil {
		return Verdict{}, fmt.Errorf("failed to write options: %w", err)
	}

	choice, err := p.promptChoice(ctx, "Choice", choices)
	if err != nil {
		return Verdict{}, err
	}

	var verdict Verdict
	switch choice {
	case "a":
		verdict = Verdict{Category: result.Decision.Category, Action: ActionAccept}
	case "c":
		category, err := p.promptCategory(ctx)
		if err != nil {
			return Verdict{}, err
		}
		verdict = Verdict{Category: category, Action: ActionCorrect}
		if model.SameCategory(category, result.Decision.Category) {
			verdict.Action = ActionAccept
		}
	default:
		verdict = Verdict{Action: ActionSkip}
	}

	if verdict.Category != "" {
		p.remember(verdict.Category)
	}
	p.count(verdict)
	return verdict, nil
}

// Stats returns the counts so far.
func (p *Reviewer) Stats() ReviewStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Duration = time.Since(p.startTime)
	return s
}

// ShowCompletion prints the session summary.
func (p *Reviewer) ShowCompletion() {
	if p.progressBar != nil {
		if err := p.progressBar.Finish(); err != nil {
			slog.Warn("Failed to finish progress bar", "error", err)
		}
	}

	s := p.Stats()
	summary := fmt.Sprintf("%s Review complete\n\n", LedgerIcon) +
		fmt.Sprintf("  • Reviewed: %d\n", s.Reviewed) +
		fmt.Sprintf("  • Auto-accepted: %d\n", s.AutoAccepted) +
		fmt.Sprintf("  • Accepted: %d\n", s.Accepted-s.AutoAccepted) +
		fmt.Sprintf("  • Corrected: %d\n", s.Corrected) +
		fmt.Sprintf("  • Skipped: %d\n", s.Skipped) +
		fmt.Sprintf("  • Time taken: %s", s.Duration.Round(time.Second))

	if _, err := fmt.Fprintln(p.writer, RenderBox("Review Summary", summary)); err != nil {
		slog.Warn("Failed to write completion box", "error", err)
	}
}

func (p *Reviewer) advance() {
	if p.progressBar == nil {
		return
	}
	if err := p.progressBar.Add(1); err != nil {
		slog.Warn("Failed to update progress bar", "error", err)
	}
}

func (p *Reviewer) count(v Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Reviewed++
	switch v.Action {
	case ActionAccept:
		p.stats.Accepted++
		if v.AutoAccepted {
			p.stats.AutoAccepted++
		}
	case ActionCorrect:
		p.stats.Corrected++
	case ActionSkip:
		p.stats.Skipped++
	}
}

func (p *Reviewer) remember(category string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append([]string{category}, p.recent...)
	if len(p.recent) > 10 {
		p.recent = p.recent[:10]
	}
}

func (p *Reviewer) promptChoice(ctx context.Context, prompt string, validChoices []string) (string, error) {
	for {
		if _, err := fmt.Fprint(p.writer, FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			return "", err
		}

		choice := strings.ToLower(input)
		for _, valid := range validChoices {
			if choice == valid {
				return choice, nil
			}
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please try again.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

func (p *Reviewer) promptCategory(ctx context.Context) (string, error) {
	p.mu.Lock()
	recent := dedupe(p.recent)
	p.mu.Unlock()

	if len(recent) > 0 {
		if _, err := fmt.Fprintln(p.writer, FormatInfo("Recent categories: "+strings.Join(recent, ", "))); err != nil {
			slog.Warn("Failed to write recent categories", "error", err)
		}
	}

	for {
		if _, err := fmt.Fprint(p.writer, FormatPrompt("Category")); err != nil {
			return "", fmt.Errorf("failed to write category prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			return "", err
		}
		if input == "" {
			if _, err := fmt.Fprintln(p.writer, FormatError("Category cannot be empty. Please try again.")); err != nil {
				slog.Warn("Failed to write empty category error", "error", err)
			}
			continue
		}

		if p.taxonomy == nil || p.taxonomy.Len() == 0 {
			return input, nil
		}
		if canonical, ok := p.taxonomy.Canonical(input); ok {
			return canonical, nil
		}
		if _, err := fmt.Fprintln(p.writer, FormatError(fmt.Sprintf("Unknown category %q. Please try again.", input))); err != nil {
			slog.Warn("Failed to write unknown category error", "error", err)
		}
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		key := model.CategoryKey(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
