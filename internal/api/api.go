// Package api serves wallet statements over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/devblac/chain-statement/internal/export"
	"github.com/devblac/chain-statement/internal/fetcher"
	"github.com/devblac/chain-statement/internal/filter"
	"github.com/devblac/chain-statement/internal/transfer"
)

// Fetcher runs a statement fetch. *fetcher.Orchestrator satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, wallet common.Address, categories ...transfer.Category) (fetcher.Result, error)
}

// EnrichFunc builds the metadata resolver for one request.
type EnrichFunc func(ctx context.Context) transfer.MetadataFunc

// Server handles GET /v1/wallets/{address}/transfers.
type Server struct {
	fetcher Fetcher
	enrich  EnrichFunc
	log     *slog.Logger
	timeout time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithEnricher enables metadata enrichment unless a request sets enrich=false.
func WithEnricher(fn EnrichFunc) Option {
	return func(s *Server) { s.enrich = fn }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTimeout bounds one statement fetch. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// New builds the API server.
func New(f Fetcher, opts ...Option) *Server {
	s := &Server{fetcher: f, log: slog.Default(), timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/wallets/{address}/transfers", s.handleTransfers)
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Response is the body of a successful or partially failed statement.
type Response struct {
	Wallet     string                  `json:"wallet"`
	Categories []export.CategoryReport `json:"categories"`
	Transfers  []export.JSONRecord     `json:"transfers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	if !common.IsHexAddress(address) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid wallet address"})
		return
	}
	wallet := common.HexToAddress(address)

	q := r.URL.Query()
	categories, err := transfer.ParseCategories(q["category"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	preds, err := filter.Compile(q["where"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.fetcher.Fetch(ctx, wallet, categories...)
	if err != nil && !errors.Is(err, transfer.ErrAllCategoriesFailed) {
		code := http.StatusInternalServerError
		if errors.Is(err, transfer.ErrUnsupportedCategory) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, errorResponse{Error: err.Error()})
		return
	}

	records := res.Records
	if s.enrich != nil && q.Get("enrich") != "false" {
		records = transfer.Enrich(records, s.enrich(ctx))
	}
	records = filter.Apply(records, preds)

	report := export.NewReport(res, time.Time{}, time.Time{})
	body := Response{
		Wallet:     res.Wallet,
		Categories: report.Categories,
		Transfers:  export.JSONRecords(records),
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusBadGateway
	}
	s.log.Info("statement served", "wallet", res.Wallet, "records", len(records), "failed_categories", report.Failed())
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
