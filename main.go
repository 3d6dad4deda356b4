package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-service/internal/api"
	"trading-service/internal/broadcast"
	"trading-service/internal/events"
	"trading-service/internal/market"
	"trading-service/internal/monitor"
	"trading-service/internal/reconcile"
	"trading-service/internal/session"
	"trading-service/internal/token"
	"trading-service/internal/trade"
	"trading-service/internal/wallet"
	"trading-service/pkg/aggregator"
	"trading-service/pkg/cache"
	"trading-service/pkg/config"
	"trading-service/pkg/crypto"
	"trading-service/pkg/db"
	"trading-service/pkg/i18n"
	"trading-service/pkg/pricing"
	"trading-service/pkg/relay"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}

	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}
	store := db.NewQueries(database.DB)

	// Sessions
	sessions := session.NewManager(store, bus, cfg.JWTSecret,
		time.Duration(cfg.SessionDurationMin)*time.Minute,
		time.Duration(cfg.SessionRefreshMin)*time.Minute)
	if cfg.WalletDataKey != "" {
		sealer, err := crypto.NewSealer(cfg.WalletDataKey)
		if err != nil {
			log.Fatalf(i18n.Get("SealerInitFailed"), err)
		}
		sessions.SetSealer(sealer)
		log.Println(i18n.Get("WalletSealingEnabled"))
	} else {
		log.Println(i18n.Get("WalletSealingDisabled"))
	}
	sessions.StartSweep(ctx, time.Duration(cfg.SessionSweepSec)*time.Second)
	log.Printf(i18n.Get("SessionManagerStarted"), cfg.SessionDurationMin, cfg.SessionRefreshMin)

	// Agent wallet (optional; without it execution needs client-side signatures)
	var agentWallet *wallet.KeypairSigner
	if cfg.WalletSecret != "" {
		agentWallet, err = wallet.NewKeypairSigner(cfg.WalletSecret)
		if err != nil {
			log.Fatalf(i18n.Get("WalletSecretBroken"), err)
		}
		log.Printf(i18n.Get("AgentWalletLoaded"), agentWallet.PublicKey())
	} else {
		log.Println(i18n.Get("AgentWalletAbsent"))
	}

	// Market data: primary source first, fallback consulted on failure
	sources := []pricing.Source{pricing.NewJupiterSource(cfg.PriceAPIURL)}
	log.Printf(i18n.Get("PriceSourceAdded"), sources[0].Name())
	if cfg.FallbackPriceAPIURL != "" {
		fallback := pricing.NewBirdeyeSource(cfg.FallbackPriceAPIURL, cfg.BirdeyeAPIKey)
		sources = append(sources, fallback)
		log.Printf(i18n.Get("FallbackSourceAdded"), fallback.Name())
	}
	priceCache := cache.NewShardedPriceCache(time.Duration(cfg.PriceCacheTTLSec) * time.Second)
	marketSvc := market.NewService(sources, priceCache, bus, cfg.PriceMaxRetries,
		time.Duration(cfg.PriceRetryDelayMs)*time.Millisecond)
	log.Printf(i18n.Get("MarketServiceReady"), cfg.PriceCacheTTLSec, cfg.PriceMaxRetries)

	// Token registry seeded from YAML config
	tokens := token.NewRegistry(store, bus, cfg.TokenListURL, cfg.TokenMetaURL)
	if seed, err := token.LoadSeed(cfg.TokenConfigPath); err != nil {
		log.Printf(i18n.Get("TokenSeedLoadFailed"), err)
	} else {
		if err := tokens.SyncSeed(ctx, seed); err != nil {
			log.Printf(i18n.Get("TokenSeedSyncFailed"), err)
		} else {
			log.Printf(i18n.Get("TokenSeedLoaded"), len(seed), cfg.TokenConfigPath)
		}
	}

	// Trade execution through the aggregator and private relay
	agg := aggregator.NewClient(cfg.AggregatorURL)
	relayClient := relay.NewClient(cfg.RelayURL)
	if cfg.RelayURL != "" {
		log.Printf(i18n.Get("RelayConfigured"), cfg.RelayURL)
	} else {
		log.Println(i18n.Get("RelayNotConfigured"))
	}
	executor := trade.NewExecutor(sessions, marketSvc, tokens, agg, relayClient, store, bus,
		cfg.MaxSlippageBps, time.Duration(cfg.PollIntervalMs)*time.Millisecond, cfg.PollMaxRetries)
	log.Printf(i18n.Get("ExecutorReady"), cfg.MaxSlippageBps)

	// Background services
	hub := broadcast.NewHub(bus,
		time.Duration(cfg.HeartbeatSec)*time.Second,
		time.Duration(cfg.DeadPeerSec)*time.Second)
	go hub.Run(ctx)
	log.Printf(i18n.Get("BroadcastStarted"), cfg.HeartbeatSec)

	reconciler := reconcile.NewService(store, relayClient, bus,
		time.Duration(cfg.ReconcileIntervalSec)*time.Second,
		time.Duration(cfg.ReconcileCutoffMin)*time.Minute)
	reconciler.Start(ctx)
	log.Printf(i18n.Get("ReconStarted"), cfg.ReconcileIntervalSec)

	// System metrics for monitoring
	sysMetrics := monitor.NewSystemMetrics()
	log.Println(i18n.Get("SystemMetricsInit"))

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	network := os.Getenv("NETWORK")
	if network == "" {
		network = "mainnet-beta"
	}

	// API
	server := api.NewServer(
		bus,
		database,
		sessions,
		marketSvc,
		tokens,
		executor,
		hub,
		agentWallet,
		sysMetrics,
		api.SystemMeta{
			Network:  network,
			RelaySet: cfg.RelayURL != "",
			Version:  buildVersion,
		},
	)
	go func() {
		log.Printf(i18n.Get("ServerListening"), cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
}
