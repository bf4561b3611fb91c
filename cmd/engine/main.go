package main

import (
	"context"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainvrf/vrf-relay/internal/chain"
	"github.com/chainvrf/vrf-relay/internal/config"
	"github.com/chainvrf/vrf-relay/internal/oracle"
	"github.com/chainvrf/vrf-relay/internal/pkg/logger"
	"github.com/chainvrf/vrf-relay/internal/queue"
	"github.com/chainvrf/vrf-relay/internal/relayer"
	"github.com/chainvrf/vrf-relay/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 0. Initialize logger.
	logger.Init("info")

	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	// 2. Connect to the chain.
	provider, err := chain.NewRPCProvider(cfg.Chain.RPCURL, cfg.Chain.RequestsPerSecond)
	if err != nil {
		log.Fatalf("failed to connect to chain: %v", err)
	}
	logger.Info("✅ connected to chain RPC", "url", cfg.Chain.RPCURL)

	// 3. Optional Redis: cross-process scheduler cursor + balance cache.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Error("⚠️ failed to connect to redis, scheduler falls back to per-process cursor", "error", err)
			redisClient = nil
		} else {
			logger.Info("✅ connected to redis")
		}
	}

	// 4. Build the relayer account pool from configured private keys.
	oracleContract := common.HexToAddress(cfg.Chain.ContractAddress)
	builder, err := oracle.NewBuilder(oracleContract)
	if err != nil {
		log.Fatalf("failed to build oracle value builder: %v", err)
	}

	minGasWei, ok := new(big.Int).SetString(cfg.Relayer.MinGasWei, 10)
	if !ok {
		log.Fatalf("invalid relayer.min_gas_wei: %q", cfg.Relayer.MinGasWei)
	}
	var batchExecutorAddr common.Address
	if cfg.Relayer.BatchExecutorAddress != "" {
		batchExecutorAddr = common.HexToAddress(cfg.Relayer.BatchExecutorAddress)
	}

	chainID, err := provider.ChainID(context.Background())
	if err != nil {
		log.Fatalf("failed to fetch chain id: %v", err)
	}

	accounts := make([]*relayer.Account, 0, len(cfg.Relayer.PrivateKeys))
	for _, keyHex := range cfg.Relayer.PrivateKeys {
		s, err := signer.New(keyHex, chainID)
		if err != nil {
			log.Fatalf("invalid relayer private key: %v", err)
		}
		acc := relayer.NewAccount(s, provider, minGasWei, cfg.Relayer.PendingThreshold, batchExecutorAddr, cfg.Chain.ReceiptTimeout, cfg.Relayer.FailureCooldown)
		if redisClient != nil {
			acc = acc.WithBalanceCache(relayer.NewBalanceCache(redisClient, 5*time.Second))
		}
		accounts = append(accounts, acc)
		logger.Info("relayer account ready", "address", s.Address().Hex())
	}
	if len(accounts) == 0 {
		log.Fatalf("no relayer accounts configured")
	}

	strategy := relayer.StrategyRoundRobin
	if strings.EqualFold(cfg.Relayer.Scheduler, "uniform_random") || strings.EqualFold(cfg.Relayer.Scheduler, "random") {
		strategy = relayer.StrategyUniformRandom
	}
	var rrCursor relayer.Cursor
	if redisClient != nil {
		rrCursor = relayer.NewDistCursor(redisClient, "")
	}
	pool := relayer.NewPool(accounts, strategy, rrCursor, builder)

	// 5. Open the durable queue and start the processor loop.
	store, err := queue.Open(cfg.Database)
	if err != nil {
		log.Fatalf("failed to open queue store: %v", err)
	}
	logger.Info("✅ connected to postgres")

	processor := queue.NewProcessor(store, pool, builder, cfg.Batch)
	ctx, cancelProcessor := context.WithCancel(context.Background())
	go processor.Run(ctx)

	// 6. Metrics/health HTTP server.
	r := gin.Default()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "vrf-relay", "accounts": pool.Size()})
	})
	if cfg.Metrics.Enabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: r}

	go func() {
		logger.Info("🚀 fulfillment engine started", "metrics_addr", cfg.Metrics.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server listen failed: %v", err)
		}
	}()

	// 7. Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 shutting down")

	cancelProcessor()
	processor.Shutdown(cfg.Batch.ShutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("metrics server forced to shutdown: %v", err)
	}
	logger.Info("engine exited")
}
