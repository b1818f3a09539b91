package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/devblac/chain-statement/internal/metrics"
	"github.com/devblac/chain-statement/internal/transfer"
)

const (
	// DefaultRequestTimeout bounds every single endpoint call.
	DefaultRequestTimeout = 15 * time.Second

	providerLabel = "rpc"
)

// Endpoint is one RPC target in the pool.
type Endpoint struct {
	URL    string
	Client Client
}

// Pool tries endpoints strictly in configured order and returns the first success.
// There is no health scoring or re-ranking.
type Pool struct {
	endpoints  []Endpoint
	timeout    time.Duration
	attempts   uint
	retryDelay time.Duration
	log        *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Pool.
type Option func(*Pool)

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

// WithAttempts sets how many times a single endpoint is tried before falling back.
func WithAttempts(n uint) Option {
	return func(p *Pool) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithRetryDelay sets the base backoff between attempts on the same endpoint.
func WithRetryDelay(d time.Duration) Option {
	return func(p *Pool) { p.retryDelay = d }
}

// WithLogger sets the logger used for endpoint failures.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// NewPool builds a pool over already constructed clients.
func NewPool(endpoints []Endpoint, opts ...Option) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one rpc endpoint is required")
	}
	p := &Pool{
		endpoints:  append([]Endpoint(nil), endpoints...),
		timeout:    DefaultRequestTimeout,
		attempts:   1,
		retryDelay: 200 * time.Millisecond,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Dial connects to every URL (HTTP dials are lazy) and builds a pool in the same order.
func Dial(ctx context.Context, urls []string, opts ...Option) (*Pool, error) {
	endpoints := make([]Endpoint, 0, len(urls))
	for _, u := range urls {
		c, err := NewRPCClient(ctx, u)
		if err != nil {
			closeAll(endpoints)
			return nil, err
		}
		endpoints = append(endpoints, Endpoint{URL: u, Client: c})
	}
	return NewPool(endpoints, opts...)
}

// Close releases underlying RPC connections.
func (p *Pool) Close() {
	closeAll(p.endpoints)
}

func closeAll(endpoints []Endpoint) {
	for _, ep := range endpoints {
		if c, ok := ep.Client.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// Endpoints returns the redacted endpoint list in fallback order.
func (p *Pool) Endpoints() []string {
	out := make([]string, len(p.endpoints))
	for i, ep := range p.endpoints {
		out[i] = redactURL(ep.URL)
	}
	return out
}

// Do runs fn against each endpoint in order until one succeeds. Every failure is
// logged before advancing; exhaustion returns ErrAllProvidersFailed joined with
// each endpoint's error.
func (p *Pool) Do(ctx context.Context, op string, fn func(ctx context.Context, c Client) error) error {
	errs := make([]error, 0, len(p.endpoints)+1)
	errs = append(errs, transfer.ErrAllProvidersFailed)
	for i, ep := range p.endpoints {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		err := p.call(ctx, ep, fn)
		if err == nil {
			p.metrics.ProviderRequest(providerLabel, metrics.OutcomeOK)
			return nil
		}
		p.metrics.ProviderRequest(providerLabel, metrics.OutcomeError)
		p.log.Warn("rpc endpoint failed",
			"op", op,
			"endpoint", redactURL(ep.URL),
			"position", i+1,
			"remaining", len(p.endpoints)-i-1,
			"error", err,
		)
		errs = append(errs, fmt.Errorf("%s: %w", redactURL(ep.URL), err))
	}
	return fmt.Errorf("%s: %w", op, errors.Join(errs...))
}

func (p *Pool) call(ctx context.Context, ep Endpoint, fn func(ctx context.Context, c Client) error) error {
	return retry.Do(
		func() error {
			callCtx, cancel := p.withTimeout(ctx)
			defer cancel()
			return fn(callCtx, ep.Client)
		},
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

func (p *Pool) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// LatestBlockNumber asks the endpoints for the current head. It is not cached;
// use a Session for query-scoped caching.
func (p *Pool) LatestBlockNumber(ctx context.Context) (*big.Int, error) {
	var latest *big.Int
	err := p.Do(ctx, "latest block", func(ctx context.Context, c Client) error {
		h, err := c.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if h == nil || h.Number == nil {
			return fmt.Errorf("%w: empty header", transfer.ErrProviderUnavailable)
		}
		latest = new(big.Int).Set(h.Number)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// FetchBlock returns the header at height. Headers are used instead of full
// blocks so unknown transaction types on newer chains cannot break decoding.
func (p *Pool) FetchBlock(ctx context.Context, height *big.Int) (*types.Header, error) {
	if height == nil || height.Sign() < 0 {
		return nil, fmt.Errorf("invalid block height %v", height)
	}
	var header *types.Header
	err := p.Do(ctx, "block "+height.String(), func(ctx context.Context, c Client) error {
		h, err := c.HeaderByNumber(ctx, height)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("%w: block %s not found", transfer.ErrProviderUnavailable, height)
		}
		header = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return header, nil
}

// ReadContract calls a view function on contract through the fallback list.
func (p *Pool) ReadContract(ctx context.Context, contract common.Address, parsed *abi.ABI, method string, args ...any) ([]any, error) {
	if _, err := parsed.Pack(method, args...); err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	var out []any
	err := p.Do(ctx, "read "+method, func(ctx context.Context, c Client) error {
		res, err := Call(ctx, c, contract, parsed, method, args...)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LogQuery filters logs by event topic and optional indexed address arguments.
// Bounds are inclusive.
type LogQuery struct {
	Topic     common.Hash
	From      *big.Int
	To        *big.Int
	Sender    *common.Address
	Recipient *common.Address
}

// FilterQuery converts q into an ethereum.FilterQuery.
func (q LogQuery) FilterQuery() ethereum.FilterQuery {
	topics := [][]common.Hash{{q.Topic}}
	if q.Sender != nil || q.Recipient != nil {
		topics = append(topics, nil)
	}
	if q.Sender != nil {
		topics[1] = []common.Hash{AddressTopic(*q.Sender)}
	}
	if q.Recipient != nil {
		topics = append(topics, []common.Hash{AddressTopic(*q.Recipient)})
	}
	return ethereum.FilterQuery{
		FromBlock: q.From,
		ToBlock:   q.To,
		Topics:    topics,
	}
}

// QueryLogs runs a log filter through the fallback list.
func (p *Pool) QueryLogs(ctx context.Context, q LogQuery) ([]types.Log, error) {
	if q.From == nil || q.To == nil || q.From.Sign() < 0 || q.From.Cmp(q.To) > 0 {
		return nil, fmt.Errorf("invalid log range [%v, %v]", q.From, q.To)
	}
	fq := q.FilterQuery()
	var logs []types.Log
	err := p.Do(ctx, fmt.Sprintf("logs %s-%s", q.From, q.To), func(ctx context.Context, c Client) error {
		res, err := c.FilterLogs(ctx, fq)
		if err != nil {
			return err
		}
		logs = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// EndpointStatus is the result of pinging one endpoint.
type EndpointStatus struct {
	Endpoint string
	Err      error
}

// Ping checks every endpoint independently, in fallback order.
func (p *Pool) Ping(ctx context.Context) []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		callCtx, cancel := p.withTimeout(ctx)
		_, err := ep.Client.HeaderByNumber(callCtx, nil)
		cancel()
		out = append(out, EndpointStatus{Endpoint: redactURL(ep.URL), Err: err})
	}
	return out
}

// AddressTopic left-pads an address into an indexed topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}
