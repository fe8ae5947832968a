package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/orbit-erp/orbit/internal/fx"
)

// FXImportMode enumerates supported execution strategies.
type FXImportMode string

const (
	// FXImportModeDry previews the changes without writing them.
	FXImportModeDry FXImportMode = "dry"
	// FXImportModeApply persists rates after confirmation.
	FXImportModeApply FXImportMode = "apply"
)

// Row statuses reported by the import.
const (
	FXRowNew       = "new"
	FXRowChanged   = "changed"
	FXRowUnchanged = "unchanged"
)

// RateStore reads and writes dated currency rates.
type RateStore interface {
	ListRates(ctx context.Context, base, quote string, from, to time.Time) ([]fx.Rate, error)
	UpsertRate(ctx context.Context, rate fx.Rate) error
}

// RateCache drops cached rates of a pair.
type RateCache interface {
	Invalidate(ctx context.Context, from, to string) error
}

// FXCLI offers operational helpers to manage the rates used for conversions.
type FXCLI struct {
	store RateStore
	cache RateCache
}

// NewFXCLI constructs the helper. cache may be nil.
func NewFXCLI(store RateStore, cache RateCache) (*FXCLI, error) {
	if store == nil {
		return nil, errors.New("fx cli: rate store required")
	}
	return &FXCLI{store: store, cache: cache}, nil
}

// FXImportOptions configures the import command execution.
type FXImportOptions struct {
	Source       string
	SourceReader io.Reader
	Mode         FXImportMode
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// FXImportRow is one rate read from the source.
type FXImportRow struct {
	Date     string `json:"date"`
	Base     string `json:"base"`
	Quote    string `json:"quote"`
	Rate     string `json:"rate"`
	Previous string `json:"previous,omitempty"`
	Status   string `json:"status"`

	rate fx.Rate
}

// FXImportSummary captures the structured reporting outcome.
type FXImportSummary struct {
	Mode    FXImportMode  `json:"mode"`
	Rows    []FXImportRow `json:"rows"`
	Pending int           `json:"pending"`
	Applied int           `json:"applied"`
}

// ImportCommand loads dated rates from a CSV source with the columns date,
// base, quote and rate. A dry run exits with 10 when rates would change.
func (c *FXCLI) ImportCommand(ctx context.Context, opts FXImportOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Mode == "" {
		opts.Mode = FXImportModeDry
	}
	mode := FXImportMode(strings.ToLower(string(opts.Mode)))
	switch mode {
	case FXImportModeDry, FXImportModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "fx import: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return 1
	}

	rows, err := loadImportRows(opts)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	summary := FXImportSummary{Mode: mode, Rows: rows}
	for i := range summary.Rows {
		row := &summary.Rows[i]
		existing, err := c.store.ListRates(ctx, row.Base, row.Quote, row.rate.Date, row.rate.Date)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: lookup %s/%s %s: %v\n", row.Base, row.Quote, row.Date, err)
			return 1
		}
		row.Status = FXRowNew
		if len(existing) > 0 {
			row.Previous = existing[0].Rate.String()
			row.Status = FXRowChanged
			if existing[0].Rate.Equal(row.rate.Rate) {
				row.Status = FXRowUnchanged
			}
		}
		if row.Status != FXRowUnchanged {
			summary.Pending++
		}
	}

	if mode == FXImportModeDry || summary.Pending == 0 {
		if err := writeImportOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
			return 1
		}
		if mode == FXImportModeDry && summary.Pending > 0 {
			return 10
		}
		return 0
	}

	confirm := opts.Confirm
	if confirm == nil {
		confirm = defaultImportConfirm
	}
	ok, err := confirm(opts.Stdin, opts.Stdout)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: confirmation failed: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(opts.Stderr, "fx import: cancelled by user")
		return 1
	}
	pairs := map[[2]string]struct{}{}
	for _, row := range summary.Rows {
		if row.Status == FXRowUnchanged {
			continue
		}
		if err := c.store.UpsertRate(ctx, row.rate); err != nil {
			fmt.Fprintf(opts.Stderr, "fx import: apply %s/%s %s: %v\n", row.Base, row.Quote, row.Date, err)
			return 1
		}
		summary.Applied++
		pairs[[2]string{row.Base, row.Quote}] = struct{}{}
	}
	if c.cache != nil {
		for pair := range pairs {
			if err := c.cache.Invalidate(ctx, pair[0], pair[1]); err != nil {
				fmt.Fprintf(opts.Stderr, "fx import: invalidate %s/%s: %v\n", pair[0], pair[1], err)
			}
		}
	}
	if err := writeImportOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "fx import: %v\n", err)
		return 1
	}
	return 0
}

func loadImportRows(opts FXImportOptions) ([]FXImportRow, error) {
	var data []byte
	var err error
	switch {
	case opts.SourceReader != nil:
		data, err = io.ReadAll(opts.SourceReader)
	case opts.Source == "-":
		data, err = io.ReadAll(opts.Stdin)
	case strings.TrimSpace(opts.Source) == "":
		return nil, errors.New("--source is required")
	default:
		data, err = os.ReadFile(opts.Source)
	}
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	reader := csv.NewReader(bytes.NewReader(data))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := nextNonEmptyRecord(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	indexes := map[string]int{"date": -1, "base": -1, "quote": -1, "rate": -1}
	for i, col := range header {
		key := strings.ToLower(strings.TrimSpace(col))
		if _, ok := indexes[key]; ok {
			indexes[key] = i
		}
	}
	for _, col := range []string{"date", "base", "quote", "rate"} {
		if indexes[col] < 0 {
			return nil, errors.New("missing required columns in source (need date, base, quote, rate)")
		}
	}

	byKey := map[string]FXImportRow{}
	for line := 2; ; line++ {
		record, err := nextNonEmptyRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		field := func(name string) string {
			if indexes[name] >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[indexes[name]])
		}
		day, err := time.Parse(time.DateOnly, field("date"))
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid date %q", line, field("date"))
		}
		base := strings.ToUpper(field("base"))
		quote := strings.ToUpper(field("quote"))
		if len(base) != 3 || len(quote) != 3 || base == quote {
			return nil, fmt.Errorf("record %d: invalid pair %q/%q", line, base, quote)
		}
		rate, err := decimal.NewFromString(field("rate"))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("record %d: invalid rate %q", line, field("rate"))
		}
		row := FXImportRow{
			Date:  day.Format(time.DateOnly),
			Base:  base,
			Quote: quote,
			Rate:  rate.String(),
			rate:  fx.Rate{From: base, To: quote, Date: day, Rate: rate},
		}
		byKey[row.Base+row.Quote+row.Date] = row
	}
	rows := make([]FXImportRow, 0, len(byKey))
	for _, row := range byKey {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Base+rows[i].Quote != rows[j].Base+rows[j].Quote {
			return rows[i].Base+rows[i].Quote < rows[j].Base+rows[j].Quote
		}
		return rows[i].Date < rows[j].Date
	})
	return rows, nil
}

func nextNonEmptyRecord(r *csv.Reader) ([]string, error) {
	for {
		record, err := r.Read()
		if err != nil {
			return nil, err
		}
		for _, field := range record {
			trimmed := strings.TrimSpace(field)
			if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				return record, nil
			}
		}
	}
}

func writeImportOutput(opts FXImportOptions, summary FXImportSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderImportHuman(opts.Stdout, summary)
	return nil
}

func renderImportHuman(out io.Writer, summary FXImportSummary) {
	fmt.Fprintf(out, "FX import (%s): %d row(s), %d pending\n", summary.Mode, len(summary.Rows), summary.Pending)
	for _, row := range summary.Rows {
		switch row.Status {
		case FXRowChanged:
			fmt.Fprintf(out, " - %s %s/%s %s (was %s)\n", row.Date, row.Base, row.Quote, row.Rate, row.Previous)
		default:
			fmt.Fprintf(out, " - %s %s/%s %s %s\n", row.Date, row.Base, row.Quote, row.Rate, row.Status)
		}
	}
	if summary.Applied > 0 {
		fmt.Fprintf(out, "Applied %d rate(s).\n", summary.Applied)
	}
}

func defaultImportConfirm(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply FX import? Type YES to confirm: ")
	reader := bufio.NewReader(r)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
