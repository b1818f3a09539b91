// Package export writes fetch results to CSV, JSON or SQLite and sends run summaries.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/devblac/chain-statement/internal/fetcher"
	"github.com/devblac/chain-statement/internal/storage"
	"github.com/devblac/chain-statement/internal/transfer"
)

// Format selects the output encoding.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatJSON   Format = "json"
	FormatSQLite Format = "sqlite"
	FormatPDF    Format = "pdf"
)

// ParseFormat accepts csv, json, sqlite (or db) and pdf, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv", "":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "sqlite", "db":
		return FormatSQLite, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Ext is the file extension used for the format.
func (f Format) Ext() string {
	if f == FormatSQLite {
		return "db"
	}
	return string(f)
}

// DefaultPath is <dir>/<wallet>_transaction_history.<ext>.
func DefaultPath(dir, wallet string, f Format) string {
	return filepath.Join(dir, wallet+"_transaction_history."+f.Ext())
}

// CategoryReport is the outcome of one category.
type CategoryReport struct {
	Category transfer.Category `json:"category"`
	Provider string            `json:"provider,omitempty"`
	Records  int               `json:"records"`
	Error    string            `json:"error,omitempty"`
}

// Report is one completed fetch run.
type Report struct {
	RunID      string
	Wallet     string
	StartedAt  time.Time
	FinishedAt time.Time
	Records    []transfer.Record
	Categories []CategoryReport
}

// NewReport turns an orchestrator result into a report with a fresh run ID.
func NewReport(res fetcher.Result, started, finished time.Time) Report {
	cats := make([]CategoryReport, len(res.Statuses))
	for i, s := range res.Statuses {
		cats[i] = CategoryReport{Category: s.Category, Provider: s.Provider, Records: s.Records}
		if s.Err != nil {
			cats[i].Error = s.Err.Error()
		}
	}
	return Report{
		RunID:      uuid.NewString(),
		Wallet:     res.Wallet,
		StartedAt:  started,
		FinishedAt: finished,
		Records:    res.Records,
		Categories: cats,
	}
}

// Failed counts the categories that produced no result.
func (r Report) Failed() int {
	n := 0
	for _, c := range r.Categories {
		if c.Error != "" {
			n++
		}
	}
	return n
}

// Summary is the data exposed to webhook templates.
type Summary struct {
	RunID      string
	Wallet     string
	Records    int
	Failed     int
	Path       string
	Duration   time.Duration
	Categories []CategoryReport
}

// Summary condenses the report; path is where the export was written, if anywhere.
func (r Report) Summary(path string) Summary {
	return Summary{
		RunID:      r.RunID,
		Wallet:     r.Wallet,
		Records:    len(r.Records),
		Failed:     r.Failed(),
		Path:       path,
		Duration:   r.FinishedAt.Sub(r.StartedAt),
		Categories: r.Categories,
	}
}

// csvRow carries the statement columns.
type csvRow struct {
	TransactionHash string `csv:"Transaction Hash"`
	BlockHash       string `csv:"Block Hash"`
	BlockNumber     string `csv:"Block Number"`
	Timestamp       string `csv:"Timestamp"`
	From            string `csv:"From"`
	To              string `csv:"To"`
	Amount          string `csv:"Token Amount"`
	Fee             string `csv:"Fee"`
	Type            string `csv:"Transaction Type"`
	Contract        string `csv:"Asset Contract Address"`
	Metadata        string `csv:"Asset Metadata"`
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []transfer.Record) error {
	rows := make([]*csvRow, 0, len(records))
	for _, r := range records {
		meta, err := metadataJSON(r.Metadata)
		if err != nil {
			return err
		}
		amount := r.AmountString()
		if amount == "" {
			amount = "0"
		}
		rows = append(rows, &csvRow{
			TransactionHash: r.TransactionHash,
			BlockHash:       r.BlockHash,
			BlockNumber:     r.BlockNumberString(),
			Timestamp:       r.Timestamp,
			From:            r.From,
			To:              r.To,
			Amount:          amount,
			Fee:             r.Fee,
			Type:            string(r.Category),
			Contract:        r.AssetContractAddress,
			Metadata:        meta,
		})
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func metadataJSON(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	out, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(out), nil
}

// JSONRecord is the JSON shape of a record. Big integers are strings.
type JSONRecord struct {
	TransactionHash      string            `json:"transactionHash"`
	BlockHash            string            `json:"blockHash,omitempty"`
	BlockNumber          string            `json:"blockNumber,omitempty"`
	Timestamp            string            `json:"timestamp,omitempty"`
	From                 string            `json:"from"`
	To                   string            `json:"to"`
	LogIndex             *uint             `json:"logIndex,omitempty"`
	Amount               string            `json:"amount,omitempty"`
	DisplayAmount        string            `json:"displayAmount,omitempty"`
	Fee                  string            `json:"fee,omitempty"`
	Type                 transfer.Category `json:"type"`
	AssetContractAddress string            `json:"assetContractAddress"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// NewJSONRecord converts a record for JSON output.
func NewJSONRecord(r transfer.Record) JSONRecord {
	return JSONRecord{
		TransactionHash:      r.TransactionHash,
		BlockHash:            r.BlockHash,
		BlockNumber:          r.BlockNumberString(),
		Timestamp:            r.Timestamp,
		From:                 r.From,
		To:                   r.To,
		LogIndex:             r.LogIndex,
		Amount:               r.AmountString(),
		DisplayAmount:        DisplayAmount(r),
		Fee:                  r.Fee,
		Type:                 r.Category,
		AssetContractAddress: r.AssetContractAddress,
		Metadata:             r.Metadata,
	}
}

// DisplayAmount scales a native or fungible amount by the decimals in its
// metadata. It returns "" when either is unknown.
func DisplayAmount(r transfer.Record) string {
	if r.Amount == nil || (r.Category != transfer.Native && r.Category != transfer.FungibleToken) {
		return ""
	}
	d, err := strconv.ParseUint(r.Metadata["decimals"], 10, 8)
	if err != nil {
		return ""
	}
	return decimal.NewFromBigInt(r.Amount, -int32(d)).String()
}

// JSONRecords converts every record, never returning nil.
func JSONRecords(records []transfer.Record) []JSONRecord {
	out := make([]JSONRecord, len(records))
	for i, r := range records {
		out[i] = NewJSONRecord(r)
	}
	return out
}

type jsonDocument struct {
	RunID      string           `json:"runId"`
	Wallet     string           `json:"wallet"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Categories []CategoryReport `json:"categories"`
	Transfers  []JSONRecord     `json:"transfers"`
}

// WriteJSON writes the whole report as one indented document.
func WriteJSON(w io.Writer, r Report) error {
	doc := jsonDocument{
		RunID:      r.RunID,
		Wallet:     r.Wallet,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
		Categories: r.Categories,
		Transfers:  JSONRecords(r.Records),
	}
	if doc.Categories == nil {
		doc.Categories = []CategoryReport{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// SaveSQLite appends the report to the SQLite database at path.
func SaveSQLite(ctx context.Context, path string, r Report) error {
	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	outcomes := make([]storage.CategoryOutcome, len(r.Categories))
	for i, c := range r.Categories {
		outcomes[i] = storage.CategoryOutcome{Category: c.Category, Provider: c.Provider, Records: c.Records, Error: c.Error}
	}
	_, err = store.SaveRun(ctx, storage.Run{
		ID:         r.RunID,
		Wallet:     r.Wallet,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Failed:     r.Failed(),
	}, outcomes, r.Records)
	return err
}

// ToFile writes the report to path in the given format, creating the parent
// directory when needed.
func ToFile(ctx context.Context, f Format, path string, r Report) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}
	if f == FormatSQLite {
		return SaveSQLite(ctx, path, r)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	switch f {
	case FormatCSV:
		err = WriteCSV(out, r.Records)
	case FormatJSON:
		err = WriteJSON(out, r)
	case FormatPDF:
		err = WritePDF(out, r)
	default:
		err = fmt.Errorf("unsupported export format %q", f)
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close export file: %w", cerr)
	}
	return err
}
