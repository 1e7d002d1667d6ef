package eval

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/bookkeeper/internal/model"
)

const dateLayout = "2006-01-02"

// labeledRow is one line of a benchmark CSV.
type labeledRow struct {
	ID      string          `csv:"id"`
	Date    string          `csv:"date"`
	Payee   string          `csv:"payee"`
	Memo    string          `csv:"memo"`
	Account string          `csv:"account"`
	Label   string          `csv:"label"`
	Amount  decimal.Decimal `csv:"amount"`
}

// reportRow is one line of a report CSV.
type reportRow struct {
	Category       string `csv:"category"`
	Support        int    `csv:"support"`
	TruePositives  int    `csv:"true_positives"`
	FalsePositives int    `csv:"false_positives"`
	FalseNegatives int    `csv:"false_negatives"`
	Precision      string `csv:"precision"`
	Recall         string `csv:"recall"`
	F1             string `csv:"f1"`
}

// LoadLabeledCSV reads a benchmark set with columns id, date (YYYY-MM-DD), payee, amount,
// label and optionally memo and account.
func LoadLabeledCSV(r io.Reader) ([]LabeledExample, error) {
	var rows []labeledRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse labeled CSV: %w", err)
	}

	examples := make([]LabeledExample, 0, len(rows))
	for i, row := range rows {
		date, err := time.Parse(dateLayout, row.Date)
		if err != nil {
			return nil, fmt.Errorf("row %d (%s): invalid date %q: %w", i+1, row.ID, row.Date, err)
		}
		if model.CategoryKey(row.Label) == "" {
			return nil, fmt.Errorf("row %d (%s): label is required", i+1, row.ID)
		}
		examples = append(examples, LabeledExample{
			Label: row.Label,
			Transaction: model.Transaction{
				ID:          row.ID,
				Date:        date,
				Payee:       row.Payee,
				Memo:        row.Memo,
				AccountName: row.Account,
				AccountID:   row.Account,
				Amount:      row.Amount.InexactFloat64(),
			},
		})
	}
	return examples, nil
}

// LoadLabeledFile reads a benchmark CSV from path.
func LoadLabeledFile(path string) ([]LabeledExample, error) {
	f, err := os.Open(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open labeled set: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadLabeledCSV(f)
}

// WriteReportCSV writes the per-category metrics followed by an overall row.
func WriteReportCSV(w io.Writer, report *Report) error {
	rows := make([]reportRow, 0, len(report.Categories)+1)
	for _, m := range report.Categories {
		rows = append(rows, reportRow{
			Category:       m.Category,
			Support:        m.Support,
			TruePositives:  m.TruePositives,
			FalsePositives: m.FalsePositives,
			FalseNegatives: m.FalseNegatives,
			Precision:      fmt.Sprintf("%.4f", m.Precision),
			Recall:         fmt.Sprintf("%.4f", m.Recall),
			F1:             fmt.Sprintf("%.4f", m.F1),
		})
	}
	rows = append(rows, reportRow{
		Category:      "(overall)",
		Support:       report.Evaluated,
		TruePositives: report.Correct,
		Precision:     fmt.Sprintf("%.4f", report.Accuracy),
		Recall:        fmt.Sprintf("%.4f", report.Accuracy),
		F1:            fmt.Sprintf("%.4f", report.Accuracy),
	})

	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to write report CSV: %w", err)
	}
	return nil
}
