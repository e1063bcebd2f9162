package listing

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/zap"

	"voucherRelay/internal/contracts"
	"voucherRelay/internal/model"
)

var marketplace = common.HexToAddress("0x948B3c65b89DF0B4894ABE91E6D02FE579834F8F")

type fakeSource struct {
	mu            sync.Mutex
	latest        uint64
	history       []types.Log
	subscribeErrs []error
	subscribes    int

	live   chan types.Log
	active int32
}

func newFakeSource() *fakeSource {
	return &fakeSource{live: make(chan types.Log)}
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, fromBlock, toBlock uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, log := range f.history {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeFilterLogs(_ context.Context, _ []common.Address, _ []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.subscribes++
	if len(f.subscribeErrs) > 0 {
		err := f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	atomic.AddInt32(&f.active, 1)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer atomic.AddInt32(&f.active, -1)
		for {
			select {
			case <-quit:
				return nil
			case log := <-f.live:
				select {
				case ch <- log:
				case <-quit:
					return nil
				}
			}
		}
	}), nil
}

func (f *fakeSource) push(t *testing.T, log types.Log) {
	t.Helper()
	select {
	case f.live <- log:
	case <-time.After(2 * time.Second):
		t.Fatalf("live log not consumed")
	}
}

func listingLog(t *testing.T, id int64, block uint64, price *big.Int) types.Log {
	t.Helper()
	marketABI, err := contracts.MarketplaceABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	seller := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := marketABI.Events[contracts.ListingCreatedEvent].Inputs.NonIndexed().Pack(seller, price)
	if err != nil {
		t.Fatalf("pack listing: %v", err)
	}
	log := contracts.BuildListingLog(marketplace, big.NewInt(id), common.HexToAddress("0x1111111111111111111111111111111111111111"), big.NewInt(id*10), data)
	log.BlockNumber = block
	log.TxHash = common.BigToHash(big.NewInt(id))
	return log
}

func waitEvent(t *testing.T, ch <-chan model.ListingEvent) model.ListingEvent {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for listing")
	}
	return model.ListingEvent{}
}

func newTestSubscription(t *testing.T, cfg Config, source LogSource) *Subscription {
	t.Helper()
	cfg.Marketplace = marketplace
	sub, err := NewSubscription(cfg, source, zap.NewNop())
	if err != nil {
		t.Fatalf("new subscription: %v", err)
	}
	return sub
}

func TestSubscriptionReportsEtherPrice(t *testing.T) {
	source := newFakeSource()
	sub := newTestSubscription(t, Config{}, source)

	got := make(chan model.ListingEvent, 4)
	sub.Subscribe(func(event model.ListingEvent) { got <- event })

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sub.Stop()

	price, _ := new(big.Int).SetString("1000000000000000000", 10)
	source.push(t, listingLog(t, 1, 5, price))

	event := waitEvent(t, got)
	if event.PriceEther() != "1.0" {
		t.Fatalf("price mismatch: %s", event.PriceEther())
	}
	if event.ID.Int64() != 1 || event.TokenID.Int64() != 10 {
		t.Fatalf("ids mismatch: %+v", event)
	}
}

func TestSubscriptionStopReleasesTransport(t *testing.T) {
	source := newFakeSource()
	sub := newTestSubscription(t, Config{}, source)

	var calls int32
	got := make(chan model.ListingEvent, 4)
	sub.Subscribe(func(event model.ListingEvent) {
		atomic.AddInt32(&calls, 1)
		got <- event
	})

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	source.push(t, listingLog(t, 1, 5, big.NewInt(1)))
	waitEvent(t, got)

	sub.Stop()

	if n := atomic.LoadInt32(&source.active); n != 0 {
		t.Fatalf("transport subscription still active: %d", n)
	}
	select {
	case source.live <- listingLog(t, 2, 6, big.NewInt(1)):
		t.Fatalf("log consumed after stop")
	case <-time.After(50 * time.Millisecond):
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("handler calls mismatch: %d", n)
	}
}

func TestSubscriptionContextCancelStops(t *testing.T) {
	source := newFakeSource()
	sub := newTestSubscription(t, Config{}, source)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sub.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()
	sub.Stop()

	if n := atomic.LoadInt32(&source.active); n != 0 {
		t.Fatalf("transport subscription still active: %d", n)
	}
}

func TestSubscriptionUnsubscribe(t *testing.T) {
	source := newFakeSource()
	sub := newTestSubscription(t, Config{}, source)

	var removedCalls int32
	handle := sub.Subscribe(func(model.ListingEvent) { atomic.AddInt32(&removedCalls, 1) })
	got := make(chan model.ListingEvent, 4)
	sub.Subscribe(func(event model.ListingEvent) { got <- event })
	sub.Unsubscribe(handle)

	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sub.Stop()

	source.push(t, listingLog(t, 1, 5, big.NewInt(1)))
	waitEvent(t, got)
	if n := atomic.LoadInt32(&removedCalls); n != 0 {
		t.Fatalf("removed handler called %d times", n)
	}
}

func TestSubscriptionReconnects(t *testing.T) {
	source := newFakeSource()
	source.subscribeErrs = []error{errors.New("dial failed"), errors.New("dial failed")}
	sub := newTestSubscription(t, Config{ReconnectBackoff: time.Millisecond}, source)

	got := make(chan model.ListingEvent, 4)
	sub.Subscribe(func(event model.ListingEvent) { got <- event })
	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sub.Stop()

	source.push(t, listingLog(t, 1, 5, big.NewInt(1)))
	waitEvent(t, got)

	source.mu.Lock()
	subscribes := source.subscribes
	source.mu.Unlock()
	if subscribes != 3 {
		t.Fatalf("subscribe attempts mismatch: %d", subscribes)
	}
}

func TestSubscriptionBackfillDeduplicates(t *testing.T) {
	source := newFakeSource()
	historic := listingLog(t, 1, 12, big.NewInt(1))
	source.latest = 20
	source.history = []types.Log{historic, listingLog(t, 9, 3, big.NewInt(1))}

	sub := newTestSubscription(t, Config{FromBlock: 10, BatchSize: 5}, source)

	got := make(chan model.ListingEvent, 8)
	sub.Subscribe(func(event model.ListingEvent) { got <- event })
	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sub.Stop()

	first := waitEvent(t, got)
	if first.ID.Int64() != 1 {
		t.Fatalf("expected backfilled listing 1, got %s", first.ID)
	}

	source.push(t, historic)
	source.push(t, listingLog(t, 2, 21, big.NewInt(1)))

	second := waitEvent(t, got)
	if second.ID.Int64() != 2 {
		t.Fatalf("expected live listing 2, got %s", second.ID)
	}
	if len(got) != 0 {
		t.Fatalf("unexpected extra listings: %d", len(got))
	}
}

func TestSubscriptionSkipsRemovedAndUndecodable(t *testing.T) {
	source := newFakeSource()
	sub := newTestSubscription(t, Config{}, source)

	got := make(chan model.ListingEvent, 4)
	sub.Subscribe(func(event model.ListingEvent) { got <- event })
	if err := sub.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sub.Stop()

	removed := listingLog(t, 1, 5, big.NewInt(1))
	removed.Removed = true
	source.push(t, removed)

	bad := listingLog(t, 2, 5, big.NewInt(1))
	bad.Data = []byte{0x01}
	source.push(t, bad)

	source.push(t, listingLog(t, 3, 6, big.NewInt(1)))

	event := waitEvent(t, got)
	if event.ID.Int64() != 3 {
		t.Fatalf("expected listing 3, got %s", event.ID)
	}
}

func TestNewSubscriptionValidation(t *testing.T) {
	if _, err := NewSubscription(Config{Marketplace: marketplace}, nil, nil); err == nil {
		t.Fatalf("expected error for nil source")
	}
	if _, err := NewSubscription(Config{}, newFakeSource(), nil); err == nil {
		t.Fatalf("expected error for missing marketplace")
	}
}

type recordingSink struct {
	mu       sync.Mutex
	listings []model.ListingEvent
	err      error
}

func (r *recordingSink) PutListings(listings []model.ListingEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listings = append(r.listings, listings...)
	return r.err
}

func TestSinkHandlerExports(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	handler := SinkHandler(sink, zap.NewNop())

	handler(model.ListingEvent{ID: big.NewInt(7)})
	handler(model.ListingEvent{ID: big.NewInt(8)})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.listings) != 2 || sink.listings[1].ID.Int64() != 8 {
		t.Fatalf("unexpected exports: %+v", sink.listings)
	}
}
