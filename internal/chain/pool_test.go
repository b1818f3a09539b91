package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/devblac/chain-statement/internal/chain/chaintest"
	"github.com/devblac/chain-statement/internal/transfer"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPool(t *testing.T, clients ...*chaintest.Client) *Pool {
	t.Helper()
	endpoints := make([]Endpoint, len(clients))
	for i, c := range clients {
		endpoints[i] = Endpoint{URL: "https://rpc" + string(rune('a'+i)) + ".example/key", Client: c}
	}
	p, err := NewPool(endpoints, WithLogger(quietLogger()), WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func TestNewPoolRequiresEndpoint(t *testing.T) {
	if _, err := NewPool(nil); err == nil {
		t.Fatalf("expected error for empty endpoint list")
	}
}

func TestPoolFallsBackInOrder(t *testing.T) {
	first := &chaintest.Client{Down: true}
	second := &chaintest.Client{Head: big.NewInt(1234)}
	third := &chaintest.Client{Head: big.NewInt(9999)}
	p := newTestPool(t, first, second, third)

	got, err := p.LatestBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Int64() != 1234 {
		t.Fatalf("expected head from second endpoint, got %s", got)
	}
	if first.Calls() != 1 || second.Calls() != 1 {
		t.Fatalf("unexpected call counts first=%d second=%d", first.Calls(), second.Calls())
	}
	if third.Calls() != 0 {
		t.Fatalf("third endpoint should not be called, got %d calls", third.Calls())
	}
}

func TestPoolExhaustion(t *testing.T) {
	a := &chaintest.Client{Down: true}
	b := &chaintest.Client{Down: true}
	p := newTestPool(t, a, b)

	_, err := p.LatestBlockNumber(context.Background())
	if !errors.Is(err, transfer.ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if !errors.Is(err, chaintest.ErrDown) {
		t.Fatalf("expected endpoint errors to be joined, got %v", err)
	}
	if a.Calls() != 1 || b.Calls() != 1 {
		t.Fatalf("each endpoint should be tried once, got %d and %d", a.Calls(), b.Calls())
	}
}

func TestPoolRetriesEndpointBeforeFallback(t *testing.T) {
	flaky := &chaintest.Client{Down: true}
	good := &chaintest.Client{Head: big.NewInt(7)}
	p, err := NewPool([]Endpoint{
		{URL: "https://flaky.example", Client: flaky},
		{URL: "https://good.example", Client: good},
	}, WithLogger(quietLogger()), WithAttempts(3), WithRetryDelay(time.Millisecond))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	if _, err := p.LatestBlockNumber(context.Background()); err != nil {
		t.Fatalf("latest: %v", err)
	}
	if flaky.Calls() != 3 {
		t.Fatalf("expected 3 attempts on first endpoint, got %d", flaky.Calls())
	}
}

func TestPoolTimeoutTriggersFallback(t *testing.T) {
	slow := &chaintest.Client{HeaderFn: func(ctx context.Context, _ *big.Int) (*types.Header, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	fast := &chaintest.Client{Head: big.NewInt(42)}
	p, err := NewPool([]Endpoint{
		{URL: "https://slow.example", Client: slow},
		{URL: "https://fast.example", Client: fast},
	}, WithLogger(quietLogger()), WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	got, err := p.LatestBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.Int64() != 42 {
		t.Fatalf("expected 42, got %s", got)
	}
}

func TestPoolStopsOnCancelledContext(t *testing.T) {
	c := &chaintest.Client{Head: big.NewInt(1)}
	p := newTestPool(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.LatestBlockNumber(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.Calls() != 0 {
		t.Fatalf("no endpoint should be called after cancel")
	}
}

func TestFetchBlockReturnsHeader(t *testing.T) {
	c := &chaintest.Client{Times: map[uint64]uint64{88: 1700000000}}
	p := newTestPool(t, c)

	h, err := p.FetchBlock(context.Background(), big.NewInt(88))
	if err != nil {
		t.Fatalf("fetch block: %v", err)
	}
	if h.Time != 1700000000 {
		t.Fatalf("unexpected time %d", h.Time)
	}
	if _, err := p.FetchBlock(context.Background(), big.NewInt(-1)); err == nil {
		t.Fatalf("expected error for negative height")
	}
}

func TestReadContractFallsBack(t *testing.T) {
	reverting := &chaintest.Client{}
	answering := &chaintest.Client{CallFn: chaintest.SupportsInterface([4]byte{0x80, 0xac, 0x58, 0xcd})}
	p := newTestPool(t, reverting, answering)

	out, err := p.ReadContract(context.Background(), common.HexToAddress("0x01"), ERC165ABI, "supportsInterface", [4]byte{0x80, 0xac, 0x58, 0xcd})
	if err != nil {
		t.Fatalf("read contract: %v", err)
	}
	if len(out) != 1 || out[0] != true {
		t.Fatalf("unexpected output %v", out)
	}
	if reverting.ContractCalls() != 1 {
		t.Fatalf("expected first endpoint to be tried once")
	}
}

func TestLogQueryTopics(t *testing.T) {
	wallet := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	topic := TransferEvent.ID

	out := LogQuery{Topic: topic, From: big.NewInt(1), To: big.NewInt(2), Sender: &wallet}.FilterQuery()
	if len(out.Topics) != 2 || out.Topics[1][0] != AddressTopic(wallet) {
		t.Fatalf("sender query topics wrong: %v", out.Topics)
	}

	in := LogQuery{Topic: topic, From: big.NewInt(1), To: big.NewInt(2), Recipient: &wallet}.FilterQuery()
	if len(in.Topics) != 3 {
		t.Fatalf("recipient query should have 3 topic slots, got %d", len(in.Topics))
	}
	if in.Topics[1] != nil {
		t.Fatalf("sender slot should be a wildcard, got %v", in.Topics[1])
	}
	if in.Topics[2][0] != AddressTopic(wallet) {
		t.Fatalf("recipient slot wrong: %v", in.Topics[2])
	}
}

func TestQueryLogsRejectsInvalidRange(t *testing.T) {
	c := &chaintest.Client{}
	p := newTestPool(t, c)

	_, err := p.QueryLogs(context.Background(), LogQuery{Topic: TransferEvent.ID, From: big.NewInt(10), To: big.NewInt(5)})
	if err == nil {
		t.Fatalf("expected range error")
	}
	if c.Calls() != 0 {
		t.Fatalf("invalid range should not reach the endpoint")
	}
}

func TestPingReportsEveryEndpoint(t *testing.T) {
	p := newTestPool(t, &chaintest.Client{Down: true}, &chaintest.Client{Head: big.NewInt(1)})

	statuses := p.Ping(context.Background())
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Err == nil || statuses[1].Err != nil {
		t.Fatalf("unexpected statuses %+v", statuses)
	}
	if statuses[0].Endpoint != "https://rpca.example" {
		t.Fatalf("endpoint should be redacted, got %s", statuses[0].Endpoint)
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://eth-mainnet.example/v2/secret-key"); got != "https://eth-mainnet.example" {
		t.Fatalf("unexpected redaction %q", got)
	}
	if got := redactURL("::"); got != "invalid-url" {
		t.Fatalf("unexpected redaction %q", got)
	}
}

func TestSessionCachesLatestBlock(t *testing.T) {
	c := &chaintest.Client{Head: big.NewInt(500)}
	p := newTestPool(t, c)
	s := p.NewSession()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.LatestBlockNumber(context.Background())
			if err != nil || n.Int64() != 500 {
				t.Errorf("latest = %v, %v", n, err)
			}
		}()
	}
	wg.Wait()

	n, _ := s.LatestBlockNumber(context.Background())
	n.SetInt64(0)
	again, _ := s.LatestBlockNumber(context.Background())
	if again.Int64() != 500 {
		t.Fatalf("cached value must not be shared with callers")
	}
	if c.HeaderCalls() != 1 {
		t.Fatalf("expected a single head request, got %d", c.HeaderCalls())
	}

	// A fresh session asks again.
	if _, err := p.NewSession().LatestBlockNumber(context.Background()); err != nil {
		t.Fatalf("latest: %v", err)
	}
	if c.HeaderCalls() != 2 {
		t.Fatalf("new session should refetch, got %d calls", c.HeaderCalls())
	}
}

func TestSessionDoesNotCacheFailure(t *testing.T) {
	c := &chaintest.Client{Down: true, Head: big.NewInt(9)}
	p := newTestPool(t, c)
	s := p.NewSession()

	if _, err := s.LatestBlockNumber(context.Background()); err == nil {
		t.Fatalf("expected failure")
	}
	c.Down = false
	n, err := s.LatestBlockNumber(context.Background())
	if err != nil || n.Int64() != 9 {
		t.Fatalf("expected recovery, got %v %v", n, err)
	}
}
