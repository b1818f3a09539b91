package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/devblac/chain-statement/internal/chain"
	"github.com/devblac/chain-statement/internal/transfer"
)

const logScanName = "rpc-logs"

// LogSource is the part of *chain.Pool the log scanner needs.
type LogSource interface {
	QueryLogs(ctx context.Context, q chain.LogQuery) ([]types.Log, error)
	FetchBlock(ctx context.Context, height *big.Int) (*types.Header, error)
}

// LogScanConfig bounds the backward scan.
type LogScanConfig struct {
	TotalBlocks uint64
	SubWindow   uint64
	// ResolveTimestamps fetches each distinct block header to fill Timestamp.
	ResolveTimestamps bool
}

// LogScan finds ERC-20 transfers by filtering Transfer logs on the wallet.
type LogScan struct {
	src LogSource
	cfg LogScanConfig
	log *slog.Logger
}

// NewLogScan builds the RPC log-scan adapter.
func NewLogScan(src LogSource, cfg LogScanConfig, log *slog.Logger) *LogScan {
	if cfg.SubWindow == 0 {
		cfg.SubWindow = 1000
	}
	if log == nil {
		log = slog.Default()
	}
	return &LogScan{src: src, cfg: cfg, log: log}
}

func (s *LogScan) Name() string { return logScanName }

// Window is an inclusive block range.
type Window struct {
	From *big.Int
	To   *big.Int
}

// Windows splits the total blocks ending at latest into sub-windows, newest
// first. The last window is cut at latest-total+1 so the scan never exceeds
// total blocks, and every bound is clamped to zero.
func Windows(latest *big.Int, total, size uint64) []Window {
	if latest == nil || latest.Sign() < 0 || size == 0 || total == 0 {
		return nil
	}
	floor := new(big.Int).Sub(latest, new(big.Int).SetUint64(total-1))
	if floor.Sign() < 0 {
		floor.SetInt64(0)
	}
	var out []Window
	step := new(big.Int).SetUint64(size - 1)
	for i := uint64(0); i < total; i += size {
		to := new(big.Int).Sub(latest, new(big.Int).SetUint64(i))
		if to.Cmp(floor) < 0 {
			break
		}
		from := new(big.Int).Sub(to, step)
		if from.Cmp(floor) < 0 {
			from.Set(floor)
		}
		out = append(out, Window{From: from, To: to})
		if from.Cmp(floor) == 0 {
			break
		}
	}
	return out
}

// Fetch walks the windows sequentially. Any window that exhausts the pool
// aborts the scan so the fetcher can fall back to an explorer.
func (s *LogScan) Fetch(ctx context.Context, q Query) ([]transfer.Record, error) {
	latest, err := q.Head.LatestBlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest block: %w", err)
	}

	wallet := q.Wallet
	var records []transfer.Record
	for _, w := range Windows(latest, s.cfg.TotalBlocks, s.cfg.SubWindow) {
		// Outgoing before incoming keeps the output order deterministic.
		for _, lq := range []chain.LogQuery{
			{Topic: chain.TransferEvent.ID, From: w.From, To: w.To, Sender: &wallet},
			{Topic: chain.TransferEvent.ID, From: w.From, To: w.To, Recipient: &wallet},
		} {
			logs, err := s.src.QueryLogs(ctx, lq)
			if err != nil {
				return nil, fmt.Errorf("%s [%s, %s]: %w", logScanName, w.From, w.To, err)
			}
			records = append(records, s.decode(logs)...)
		}
	}
	records = transfer.Dedupe(records)

	if s.cfg.ResolveTimestamps {
		if err := s.resolveTimestamps(ctx, records); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *LogScan) decode(logs []types.Log) []transfer.Record {
	out := make([]transfer.Record, 0, len(logs))
	for _, lg := range logs {
		t, err := chain.DecodeTransfer(lg)
		if errors.Is(err, chain.ErrNotFungibleTransfer) {
			continue
		}
		if err != nil {
			s.log.Debug("skip undecodable log", "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		idx := lg.Index
		r := transfer.Record{
			TransactionHash:      lg.TxHash.Hex(),
			BlockHash:            lg.BlockHash.Hex(),
			BlockNumber:          new(big.Int).SetUint64(lg.BlockNumber),
			LogIndex:             &idx,
			Amount:               t.Value,
			Category:             transfer.FungibleToken,
			AssetContractAddress: lg.Address.Hex(),
		}
		if t.From != nil {
			r.From = t.From.Hex()
		}
		if t.To != nil {
			r.To = t.To.Hex()
		}
		out = append(out, r)
	}
	return out
}

// resolveTimestamps fills Timestamp from block headers, one request per block.
func (s *LogScan) resolveTimestamps(ctx context.Context, records []transfer.Record) error {
	times := map[string]string{}
	for i := range records {
		height := records[i].BlockNumber
		key := height.String()
		ts, ok := times[key]
		if !ok {
			h, err := s.src.FetchBlock(ctx, height)
			if err != nil {
				return fmt.Errorf("%s: block %s timestamp: %w", logScanName, key, err)
			}
			ts = strconv.FormatUint(h.Time, 10)
			times[key] = ts
		}
		records[i].Timestamp = ts
	}
	return nil
}
