// Package ofx reads transactions from OFX/QFX statement downloads.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"

	"github.com/Veraticus/bookkeeper/internal/common"
	"github.com/Veraticus/bookkeeper/internal/model"
	"github.com/Veraticus/bookkeeper/internal/service"
)

// AccountCreditCard is the account type given to credit card statement lines. Bank statements
// carry their own ACCTTYPE.
const AccountCreditCard = "CREDITCARD"

var (
	severityRegex = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagRegex  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	leadingDate   = regexp.MustCompile(`^\d{2}/\d{2}\s+`)

	// Card processors prepend these to the merchant name.
	processorPrefixes = []string{
		"PURCHASE AUTHORIZED ON ",
		"DEBIT CARD PURCHASE ",
		"POS PURCHASE ",
		"VISA PURCHASE ",
		"MC PURCHASE ",
		"DEBIT PURCHASE ",
		"CHECK CARD ",
		"ACH DEBIT ",
	}

	// Names that say nothing about the merchant; MEMO is used instead when present.
	placeholderNames = map[string]bool{
		"DEBIT":           true,
		"CREDIT":          true,
		"PURCHASE":        true,
		"PAYMENT":         true,
		"CARD PURCHASE":   true,
		"POS TRANSACTION": true,
	}
)

// Parser converts statement downloads into transactions.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a parser.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{logger: common.OrDefault(logger)}
}

// ParseFile parses one OFX/QFX document. Transactions come back in statement order with
// debits negative; a FITID repeated within the document is kept once.
func (p *Parser) ParseFile(ctx context.Context, r io.Reader) ([]model.Transaction, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	resp, err := ofxgo.ParseResponse(strings.NewReader(normalize(string(raw))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	c := collector{seen: make(map[string]bool)}
	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		c.statements++
		acct := stmt.BankAcctFrom
		if err := c.add(ctx, stmt.BankTranList.Transactions, string(acct.AcctID), acct.AcctType.String()); err != nil {
			return nil, err
		}
	}
	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		c.statements++
		if err := c.add(ctx, stmt.BankTranList.Transactions, string(stmt.CCAcctFrom.AcctID), AccountCreditCard); err != nil {
			return nil, err
		}
	}

	p.logger.Debug("Parsed OFX file",
		"transactions", len(c.out),
		"statements", c.statements,
		"duplicates", c.duplicates)
	return c.out, nil
}

type collector struct {
	out        []model.Transaction
	seen       map[string]bool
	statements int
	duplicates int
}

func (c *collector) add(ctx context.Context, lines []ofxgo.Transaction, accountID, accountType string) error {
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		txn := toTransaction(line, accountID, accountType)
		if c.seen[txn.ID] {
			c.duplicates++
			continue
		}
		c.seen[txn.ID] = true
		c.out = append(c.out, txn)
	}
	return nil
}

// normalize repairs the two defects banks most often ship: lower-case SEVERITY values and
// SGML opening tags missing their closing bracket.
func normalize(doc string) string {
	doc = strings.TrimLeft(doc, " \t\r\n")
	doc = severityRegex.ReplaceAllStringFunc(doc, strings.ToUpper)
	return openTagRegex.ReplaceAllString(doc, "$1>")
}

func toTransaction(line ofxgo.Transaction, accountID, accountType string) model.Transaction {
	amount, _ := line.TrnAmt.Float64()
	txn := model.Transaction{
		ID:          string(line.FiTID),
		Date:        line.DtPosted.Time,
		Payee:       merchant(line),
		Memo:        strings.TrimSpace(string(line.Memo)),
		AccountID:   accountID,
		AccountName: accountType,
		CheckNumber: string(line.CheckNum),
		Reference:   string(line.RefNum),
		Amount:      amount,
	}
	if txn.ID == "" {
		// Some exports omit FITID; the content fingerprint is stable across re-downloads.
		txn.ID = txn.Fingerprint()[:16]
	}
	return txn
}

// merchant picks the most specific payee text the line offers and strips processor noise.
func merchant(line ofxgo.Transaction) string {
	if line.Payee != nil && line.Payee.Name != "" {
		return string(line.Payee.Name)
	}

	name := strings.TrimSpace(string(line.Name))
	if line.Memo != "" && placeholderNames[strings.ToUpper(name)] {
		name = strings.TrimSpace(string(line.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range processorPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(leadingDate.ReplaceAllString(name, ""))
}

// FileSource reads one or more OFX files as a transaction source.
type FileSource struct {
	parser *Parser
	paths  []string
}

var _ service.TransactionSource = (*FileSource)(nil)

// NewFileSource creates a source over paths.
func NewFileSource(parser *Parser, paths ...string) *FileSource {
	return &FileSource{parser: parser, paths: paths}
}

// ReadTransactions parses every file and applies filter. Transactions appearing in more
// than one file are returned once.
func (s *FileSource) ReadTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	var out []model.Transaction
	seen := make(map[string]bool)

	for _, path := range s.paths {
		txns, err := s.readFile(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, txn := range txns {
			if seen[txn.ID] || !matches(txn, filter) {
				continue
			}
			seen[txn.ID] = true
			out = append(out, txn)
		}
	}
	return out, nil
}

func (s *FileSource) readFile(ctx context.Context, path string) ([]model.Transaction, error) {
	f, err := os.Open(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	txns, err := s.parser.ParseFile(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return txns, nil
}

// Categories returns nothing: statement downloads carry no taxonomy.
func (s *FileSource) Categories(context.Context) ([]string, error) {
	return nil, nil
}

func matches(txn model.Transaction, filter service.TransactionFilter) bool {
	if filter.StartDate != nil && txn.Date.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && txn.Date.After(*filter.EndDate) {
		return false
	}
	if len(filter.AccountTypes) == 0 {
		return true
	}
	for _, t := range filter.AccountTypes {
		if strings.EqualFold(t, txn.AccountName) {
			return true
		}
	}
	return false
}
