package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"saldo/internal/core"
	"saldo/internal/log"
	ports "saldo/internal/sheets"
)

// DefaultSheetName is used when Options.SheetName is empty.
const DefaultSheetName = "Ledger"

// Options configures the Sheets mirror.
type Options struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsJSON or CredentialsFile hold a service account key. When
	// both are empty GOOGLE_APPLICATION_CREDENTIALS is used.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *log.Logger

	// serializes find-then-write so two events for one id never race
	mu sync.Mutex
}

// Ensure interface conformance
var (
	_ ports.LedgerMirror = (*Client)(nil)
	_ ports.LedgerLister = (*Client)(nil)
)

// New creates a Sheets mirror authenticated with a service account.
func New(ctx context.Context, opts Options, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.Discard()
	}
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetName := strings.TrimSpace(opts.SheetName)
	if sheetName == "" {
		sheetName = DefaultSheetName
	}

	creds, err := loadCredentials(opts)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger = logger.WithComponent(log.ComponentSheets)
	logger.InfoContext(ctx, "Google Sheets mirror ready", "sheet", sheetName)
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName, logger: logger}, nil
}

func loadCredentials(opts Options) ([]byte, error) {
	if js := strings.TrimSpace(opts.CredentialsJSON); js != "" {
		return []byte(js), nil
	}
	path := strings.TrimSpace(opts.CredentialsFile)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return data, nil
}

// UpsertTransaction writes t over its existing row or appends a new one. A
// row already holding a newer version is left alone.
func (c *Client) UpsertTransaction(ctx context.Context, t core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if t.ID == "" {
		return "", errors.New("transaction without id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.readAll(ctx)
	if err != nil {
		return "", err
	}
	row := ports.RowFromTransaction(t)
	vr := &gsheet.ValueRange{Values: [][]any{row.Values()}}

	if n, cells := findRow(values, t.ID); n > 0 {
		ref := c.rowRange(n)
		if existing := ports.RowVersion(cells); existing > t.Version {
			c.logger.DebugContext(ctx, "Skipping stale mirror write",
				log.FieldTransactionID, t.ID, "row_version", existing, "event_version", t.Version)
			return ref, nil
		}
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("update %s: %w", ref, err)
		}
		return ref, nil
	}

	if len(values) == 0 {
		header := make([]any, len(ports.Header))
		for i, h := range ports.Header {
			header[i] = h
		}
		vr.Values = append([][]any{header}, vr.Values...)
	}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.sheetName+"!A:I", vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", c.sheetName, err)
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return c.sheetName, nil
}

// RemoveTransaction clears the row of id. A missing row is not an error.
func (c *Client) RemoveTransaction(ctx context.Context, id string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	values, err := c.readAll(ctx)
	if err != nil {
		return err
	}
	n, _ := findRow(values, id)
	if n == 0 {
		return nil
	}
	ref := c.rowRange(n)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, ref, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", ref, err)
	}
	return nil
}

// ListRows returns every parseable mirrored row. Unreadable rows are logged
// and skipped.
func (c *Client) ListRows(ctx context.Context) ([]ports.Row, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	values, err := c.readAll(ctx)
	if err != nil {
		return nil, err
	}
	return parseRows(ctx, c.logger, values), nil
}

func (c *Client) readAll(ctx context.Context) ([][]any, error) {
	rng := c.sheetName + "!A:I"
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

func (c *Client) rowRange(n int) string {
	return fmt.Sprintf("%s!A%d:I%d", c.sheetName, n, n)
}

// findRow returns the 1-based sheet row holding id, or 0.
func findRow(values [][]any, id string) (int, []any) {
	for i, cells := range values {
		if ports.RowID(cells) == id {
			return i + 1, cells
		}
	}
	return 0, nil
}

func parseRows(ctx context.Context, logger *log.Logger, values [][]any) []ports.Row {
	out := make([]ports.Row, 0, len(values))
	for i, cells := range values {
		row, ok, err := ports.ParseRow(cells)
		if err != nil {
			logger.WarnContext(ctx, "Skipping unreadable mirror row", "row", i+1, log.FieldError, err)
			continue
		}
		if ok {
			out = append(out, row)
		}
	}
	return out
}
