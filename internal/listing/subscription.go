package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"voucherRelay/internal/contracts"
	"voucherRelay/internal/model"
	"voucherRelay/internal/retry"
)

const maxSeenLogs = 4096

var errSubscriptionClosed = errors.New("subscription closed by server")

// Handler receives decoded listing events.
type Handler func(model.ListingEvent)

// Handle identifies a registered handler.
type Handle uint64

// Config holds settings for the listing subscription.
type Config struct {
	Marketplace common.Address
	// FromBlock enables a historical replay from this block before live events.
	// Zero disables replay.
	FromBlock        uint64
	BatchSize        uint64
	MaxRetries       int
	RetryBackoff     time.Duration
	ReconnectBackoff time.Duration
}

type handlerEntry struct {
	handle  Handle
	handler Handler
}

// Subscription relays ListingCreated logs of the marketplace contract to registered
// handlers. Once Stop returns no handler is invoked again.
type Subscription struct {
	cfg    Config
	source LogSource
	logger *zap.Logger
	topic0 common.Hash

	mu         sync.Mutex
	handlers   []handlerEntry
	nextHandle Handle
	cancel     context.CancelFunc
	done       chan struct{}

	// owned by the run goroutine
	nextBlock uint64
	highest   uint64
	seen      map[string]uint64
}

// NewSubscription builds a subscription for the marketplace contract.
func NewSubscription(cfg Config, source LogSource, logger *zap.Logger) (*Subscription, error) {
	if source == nil {
		return nil, fmt.Errorf("log source is nil")
	}
	if cfg.Marketplace == (common.Address{}) {
		return nil, fmt.Errorf("marketplace address is required")
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topic0, err := contracts.ListingCreatedTopic()
	if err != nil {
		return nil, err
	}

	return &Subscription{
		cfg:       cfg,
		source:    source,
		logger:    logger.With(zap.String("marketplace", cfg.Marketplace.Hex())),
		topic0:    topic0,
		nextBlock: cfg.FromBlock,
		seen:      make(map[string]uint64),
	}, nil
}

// Subscribe registers handler and returns a handle for Unsubscribe.
func (s *Subscription) Subscribe(handler Handler) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	s.handlers = append(s.handlers, handlerEntry{handle: s.nextHandle, handler: handler})
	return s.nextHandle
}

// Unsubscribe removes a handler. Unknown handles are ignored.
func (s *Subscription) Unsubscribe(handle Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.handlers {
		if entry.handle == handle {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// Start begins relaying events in the background until ctx ends or Stop is called.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("subscription already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

// Stop releases the transport subscription and waits for the relay loop to exit.
func (s *Subscription) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Subscription) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	err := retry.Do(ctx, retry.Forever, s.cfg.ReconnectBackoff, s.listen)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("listing subscription ended", zap.Error(err))
	}
	s.logger.Info("listing subscription stopped")
}

// listen holds one transport subscription. It returns nil when ctx ends and an error
// when the subscription has to be re-established.
func (s *Subscription) listen(ctx context.Context) error {
	logs := make(chan types.Log, 128)
	sub, err := s.source.SubscribeFilterLogs(ctx, []common.Address{s.cfg.Marketplace}, []common.Hash{s.topic0}, logs)
	if err != nil {
		s.logger.Warn("subscribe listings failed", zap.Error(err))
		return err
	}
	defer sub.Unsubscribe()
	s.logger.Info("listing subscription established")

	if s.nextBlock > 0 {
		if err := s.backfill(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("listing backfill failed", zap.Error(err))
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			s.logger.Warn("listing subscription dropped", zap.Error(err))
			return err
		case log := <-logs:
			s.dispatch(ctx, log)
		}
	}
}

// backfill replays historical logs from nextBlock to the chain head.
func (s *Subscription) backfill(ctx context.Context) error {
	var latest uint64
	err := retry.Do(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = s.source.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}
	if s.nextBlock > latest {
		return nil
	}

	for _, blockRange := range replayWindows(s.nextBlock, latest, s.cfg.BatchSize) {
		var logs []types.Log
		err := retry.Do(ctx, s.cfg.MaxRetries, s.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = s.source.FilterLogs(ctx, blockRange.From, blockRange.To, []common.Address{s.cfg.Marketplace}, []common.Hash{s.topic0})
			if err != nil {
				s.logger.Warn("filter listings failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
			}
			return err
		})
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}

		for _, log := range logs {
			s.dispatch(ctx, log)
		}
		if blockRange.To > s.nextBlock {
			s.nextBlock = blockRange.To
		}
		s.logger.Info("listing backfill batch", zap.Int("logs", len(logs)), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	}
	return nil
}

func (s *Subscription) dispatch(ctx context.Context, log types.Log) {
	if log.Removed {
		s.logger.Debug("skip removed log", zap.String("tx_hash", log.TxHash.Hex()), zap.Uint("log_index", log.Index))
		return
	}
	if s.isDuplicate(log) {
		return
	}

	event, err := contracts.DecodeListing(log)
	if err != nil {
		s.logger.Warn("decode listing failed", zap.Error(err), zap.String("tx_hash", log.TxHash.Hex()), zap.Uint("log_index", log.Index))
		return
	}

	s.mu.Lock()
	handlers := make([]Handler, 0, len(s.handlers))
	for _, entry := range s.handlers {
		handlers = append(handlers, entry.handler)
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		if ctx.Err() != nil {
			return
		}
		handler(event)
	}
}

func (s *Subscription) isDuplicate(log types.Log) bool {
	id := fmt.Sprintf("%d:%s:%d", log.BlockNumber, log.TxHash.Hex(), log.Index)
	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = log.BlockNumber
	if log.BlockNumber > s.highest {
		s.highest = log.BlockNumber
	}
	if s.nextBlock > 0 && log.BlockNumber > s.nextBlock {
		s.nextBlock = log.BlockNumber
	}

	if len(s.seen) > maxSeenLogs {
		for key, block := range s.seen {
			if block < s.highest {
				delete(s.seen, key)
			}
		}
	}
	return false
}

// LogHandler returns a handler that logs each listing with its ether-scaled price.
func LogHandler(logger *zap.Logger) Handler {
	return func(event model.ListingEvent) {
		logger.Info("listing created",
			zap.String("id", event.ID.String()),
			zap.String("nft_contract", event.NFTContract.Hex()),
			zap.String("token_id", event.TokenID.String()),
			zap.String("seller", event.Seller.Hex()),
			zap.String("price", event.PriceEther()),
			zap.Uint64("block_number", event.BlockNumber),
		)
	}
}

// Sink receives listings for export.
type Sink interface {
	PutListings(listings []model.ListingEvent) error
}

// SinkHandler returns a handler that exports each listing to sink. Export failures are
// logged and do not stop the subscription.
func SinkHandler(sink Sink, logger *zap.Logger) Handler {
	return func(event model.ListingEvent) {
		if err := sink.PutListings([]model.ListingEvent{event}); err != nil {
			logger.Warn("export listing failed", zap.String("id", event.ID.String()), zap.Error(err))
		}
	}
}
