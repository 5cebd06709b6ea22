// Command engine is the composition root: it wires C1-C10 into one running
// process, grounded on main.go's numbered-step wiring style (proxy pool,
// breaker registry, rate-limit manager and fetcher standing in for the
// teacher's hub/throttler/push-service bring-up, the copy-trade engine and
// position manager standing in for its ExecutionService/PredatorEngine).
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"whalecopy/internal/breaker"
	"whalecopy/internal/config"
	"whalecopy/internal/copytrade"
	"whalecopy/internal/detector"
	"whalecopy/internal/domain"
	"whalecopy/internal/exchange"
	"whalecopy/internal/fetcher"
	"whalecopy/internal/notify"
	"whalecopy/internal/position"
	"whalecopy/internal/proxypool"
	"whalecopy/internal/queue"
	"whalecopy/internal/ratelimit"
	"whalecopy/internal/repository"
	"whalecopy/internal/repository/sqlite"
	"whalecopy/internal/scheduler"
	"whalecopy/internal/sharedstate"
	"whalecopy/internal/whalefeed"
)

func main() {
	log.Println("🐳 whalecopy engine starting...")
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	// 1. Config.
	cfg := config.Load()

	// 2. Shared state: Redis if configured, in-process otherwise.
	shared := sharedstate.Store(sharedstate.NewMemory())
	if cfg.RedisURL != "" {
		if rs, err := sharedstate.NewRedis(cfg.RedisURL); err != nil {
			log.Printf("⚠️ redis unavailable (%v); falling back to in-process shared state", err)
		} else {
			shared = rs
		}
	}

	// 3. Persistence: one sqlite DB, single writer.
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("🚨 failed to open database: %v", err)
	}
	defer db.Close()
	var uow repository.UnitOfWork = db

	// 4. Circuit breaker registry + rate-limit manager, shared across C4/C9.
	breakers := breaker.NewRegistry(cfg.BreakerDefaults.ToCircuitConfig(), shared)
	limiter := ratelimit.New(shared)

	// 5. Proxy pool.
	proxies := proxypool.New(loadProxies(cfg), shared)

	// 6. Exchange Port adapters (C9), one per configured venue.
	ports := buildPorts(cfg, breakers, limiter)

	// 7. Notification layer (Telegram), wired as the engine's Publisher.
	var pub domain.Publisher
	if tg := notify.NewTelegram(); tg != nil {
		pub = tg
		go tg.ListenForChatID()
	}

	// 8. Copy-trade engine (C8) and position manager (C10), sharing the
	// same UnitOfWork and Port map.
	engine := copytrade.New(uow, ports, pub, copytrade.Config{
		MinTradingBalanceUSDT: cfg.MinTradingBalanceUSDT,
		MinTradeUSDT:          cfg.MinTradeSizeUSDT,
		MaxTradeUSDT:          cfg.MaxTradeSizeUSDT,
	})
	posManager := position.New(uow, ports, engine, position.DefaultConfig())

	// 9. Signal queue (C7) and detector (C6).
	sigQueue := queue.New(cfg.SignalExpirySeconds)
	det := detector.New(detector.DefaultMinNotional(), 2*time.Minute)

	// 10. Parallel fetcher (C4) over the public whale-position feeds.
	feed := fetcher.New(whaleFeedAdapters(), proxies, limiter, breakers, fetcher.Config{})

	// 11. Adaptive scheduler (C5): on each tick, fetch the batch and diff
	// into fresh Signals.
	sched := scheduler.New(cfg.Tiers, whaleSource{uow}, func(ctx context.Context, tier domain.PollTier, batch []*domain.Whale) {
		// Group by exchange so each venue's whales share one FetchBatch call
		// and the global/per-venue semaphores in C4 actually see a batch
		// instead of a sequence of singletons.
		byExchange := make(map[domain.Exchange][]*domain.Whale)
		for _, w := range batch {
			byExchange[w.Exchange] = append(byExchange[w.Exchange], w)
		}
		for exch, whales := range byExchange {
			byID := make(map[int64]*domain.Whale, len(whales))
			for _, w := range whales {
				byID[w.ID] = w
			}
			results := feed.FetchBatch(ctx, exch, whales)
			for _, r := range results {
				w := byID[r.Whale.ID]
				if w == nil {
					continue
				}
				if !r.Success {
					w.RecordEmptyFetch(3, 10)
					continue
				}
				current := make(map[string]domain.WhalePosition, len(r.Positions))
				for _, p := range r.Positions {
					current[p.Symbol] = p
				}
				if len(current) > 0 {
					w.RecordPositionsFound(time.Now())
				} else {
					w.RecordEmptyFetch(3, 10)
				}
				for _, sig := range det.Diff(w, current, time.Now()) {
					sigQueue.Enqueue(sig)
					if pub != nil {
						pub.Publish(domain.NewEvent(domain.EventSignalDetected, sig.ID, map[string]any{"symbol": sig.Symbol}, time.Now()))
					}
				}
				w.PriorityScore = scheduler.RecomputePriorityScore(w, time.Now())
				_ = persistWhale(ctx, uow, w)
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched.Start(ctx)
	posManager.Start(ctx)
	go signalDispatchLoop(ctx, sigQueue, engine, pub)

	log.Println("✅ whalecopy engine running.")
	waitForShutdown()
	log.Println("🛑 shutting down...")
	sched.Stop()
	posManager.Stop()
}

// signalDispatchLoop repeatedly picks the next eligible signal off the
// queue and runs it through the copy-trade engine, mirroring C7's
// pick_next/mark_processed/mark_failed contract.
func signalDispatchLoop(ctx context.Context, q *queue.Queue, engine *copytrade.Engine, pub domain.Publisher) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	cleanup := time.NewTicker(30 * time.Second)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.C:
			q.CleanupExpired(time.Now())
		case <-ticker.C:
			sig := q.PickNext(time.Now(), "")
			if sig == nil {
				continue
			}
			if pub != nil {
				pub.Publish(domain.NewEvent(domain.EventSignalProcessingStarted, sig.ID, nil, time.Now()))
			}
			n, err := engine.ProcessSignal(ctx, sig)
			if err != nil {
				_ = q.MarkFailed(sig.ID, err.Error(), time.Now())
				if pub != nil {
					pub.Publish(domain.NewEvent(domain.EventSignalFailed, sig.ID, map[string]any{"reason": err.Error()}, time.Now()))
				}
				continue
			}
			_ = q.MarkProcessed(sig.ID, n, time.Now())
			if pub != nil {
				pub.Publish(domain.NewEvent(domain.EventSignalProcessed, sig.ID, map[string]any{"trades_executed": n}, time.Now()))
			}
		}
	}
}

// buildPorts constructs every venue's Exchange Port from configured
// credentials; a venue with no credentials is simply absent from the map.
func buildPorts(cfg *config.Config, breakers *breaker.Registry, limiter *ratelimit.Manager) map[domain.Exchange]exchange.Port {
	ports := make(map[domain.Exchange]exchange.Port)
	httpClient := &http.Client{Timeout: 15 * time.Second}

	if creds, ok := cfg.Venues[domain.ExchangeBinance]; ok {
		client := futures.NewClient(creds.APIKey, creds.APISecret)
		ports[domain.ExchangeBinance] = exchange.NewBinanceAdapter(client, breakers, limiter)
	}
	if creds, ok := cfg.Venues[domain.ExchangeBybit]; ok {
		ports[domain.ExchangeBybit] = exchange.NewBybitAdapter(creds.APIKey, creds.APISecret, httpClient, breakers, limiter)
	}
	if creds, ok := cfg.Venues[domain.ExchangeOKX]; ok {
		ports[domain.ExchangeOKX] = exchange.NewOKXAdapter(creds.APIKey, creds.APISecret, creds.Passphrase, httpClient, breakers, limiter)
	}
	if creds, ok := cfg.Venues[domain.ExchangeBitget]; ok {
		ports[domain.ExchangeBitget] = exchange.NewBitgetAdapter(creds.APIKey, creds.APISecret, creds.Passphrase, httpClient, breakers, limiter)
	}
	if creds, ok := cfg.Venues[domain.ExchangeHyperliquid]; ok {
		ports[domain.ExchangeHyperliquid] = exchange.NewHyperliquidAdapter(creds.APIKey, creds.APISecret, httpClient, breakers, limiter)
	}

	for _, port := range ports {
		if err := port.Initialize(context.Background()); err != nil {
			log.Printf("⚠️ %s: initialize failed: %v", port.Name(), err)
		}
		// HTTPVenueAdapter has no exchange-info endpoint wired (unlike
		// BinanceAdapter.Initialize, which pulls PRICE_FILTER/LOT_SIZE from
		// go-binance's exchangeInfo), so seed the majors by hand.
		if hv, ok := port.(*exchange.HTTPVenueAdapter); ok {
			seedSymbolPrecision(hv, cfg)
		}
	}
	return ports
}

// seedSymbolPrecision registers step/tick/min-notional metadata for the
// handful of symbols whale copy-trading actually sees in practice, pulling
// the min-notional override from config when a venue/market-type pair has
// one and falling back to a conservative default otherwise.
func seedSymbolPrecision(hv *exchange.HTTPVenueAdapter, cfg *config.Config) {
	majors := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}
	minNotional := decimal.NewFromInt(5)
	if overrides, ok := cfg.ExchangeMinNotional[hv.Name()]; ok {
		if v, ok := overrides["FUTURES"]; ok {
			minNotional = v
		}
	}
	for _, sym := range majors {
		hv.RegisterSymbol(sym, exchange.SymbolInfo{
			TickSize:    decimal.NewFromFloat(0.01),
			StepSize:    decimal.NewFromFloat(0.001),
			MinNotional: minNotional,
		})
	}
}

func whaleFeedAdapters() map[domain.Exchange]fetcher.PositionAdapter {
	return map[domain.Exchange]fetcher.PositionAdapter{
		domain.ExchangeBinance:     whalefeed.NewBinanceFeed(),
		domain.ExchangeBybit:       whalefeed.NewBybitFeed(),
		domain.ExchangeOKX:         whalefeed.NewOKXFeed(),
		domain.ExchangeBitget:      whalefeed.NewBitgetFeed(),
		domain.ExchangeHyperliquid: whalefeed.NewHyperliquidFeed(),
	}
}

func loadProxies(cfg *config.Config) []*domain.Proxy {
	var out []*domain.Proxy
	for _, raw := range cfg.ProxyList {
		out = append(out, &domain.Proxy{
			ID:       raw,
			Host:     raw,
			Protocol: "http",
			Status:   domain.ProxyActive,
		})
	}
	return out
}

// whaleSource adapts the repository layer to scheduler.WhaleSource.
type whaleSource struct {
	uow repository.UnitOfWork
}

func (s whaleSource) AllWhales(ctx context.Context) ([]*domain.Whale, error) {
	var out []*domain.Whale
	err := s.uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		var err error
		out, err = repos.Whales.AllWhales(ctx)
		return err
	})
	return out, err
}

func persistWhale(ctx context.Context, uow repository.UnitOfWork, w *domain.Whale) error {
	return uow.Run(ctx, func(ctx context.Context, repos repository.Repos) error {
		return repos.Whales.Update(ctx, w)
	})
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
