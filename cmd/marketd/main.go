package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/taskgrid/taskgrid/params"
	"github.com/taskgrid/taskgrid/pkg/api"
	"github.com/taskgrid/taskgrid/pkg/crypto"
	"github.com/taskgrid/taskgrid/pkg/ledger"
	"github.com/taskgrid/taskgrid/pkg/market"
	"github.com/taskgrid/taskgrid/pkg/storage"
	"github.com/taskgrid/taskgrid/pkg/util"
)

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("TASKGRID_LOG_FILE")
	if logFile == "" {
		logFile = "data/marketd.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger initialized", "log_file", logFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var signer *crypto.Signer
	if cfg.Market.SignerKey != "" {
		signer, err = crypto.FromPrivateKeyHex(cfg.Market.SignerKey)
		if err != nil {
			sugar.Fatalw("load signer key", "err", err)
		}
		sugar.Infow("signer loaded", "address", signer.Address().Hex())
	}

	domain := cfg.Domain()
	var led ledger.Ledger
	if cfg.Chain.RPCURL != "" {
		evm, err := ledger.DialEVM(ctx, cfg.Chain.RPCURL, common.HexToAddress(cfg.Chain.HubAddress), domain, signer, logger)
		if err != nil {
			sugar.Fatalw("connect ledger", "rpc", cfg.Chain.RPCURL, "err", err)
		}
		led = evm
		sugar.Infow("ledger connected", "rpc", cfg.Chain.RPCURL, "hub", cfg.Chain.HubAddress)
	} else {
		led = ledger.NewMemory(domain)
		sugar.Warn("no TASKGRID_RPC_URL set, running on the in-process devnet ledger")
	}

	opts := []market.Option{market.WithLogger(logger)}
	if signer != nil {
		opts = append(opts, market.WithSigner(signer))
	}
	if cfg.Market.Restricted {
		opts = append(opts, market.WithRestrictedMode())
		sugar.Info("restricted marketplace mode enabled")
	}
	client := market.NewClient(led, domain, opts...)

	store, err := storage.Open(cfg.API.DataDir)
	if err != nil {
		sugar.Fatalw("open orderbook store", "path", cfg.API.DataDir, "err", err)
	}
	defer store.Close()

	server := api.NewServer(client, store, logger)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(cfg.API.ListenAddr, cfg.API.AllowedOrigins)
	}()

	sugar.Infow("marketd started",
		"listen", cfg.API.ListenAddr,
		"chain_id", cfg.Chain.ChainID,
		"domain", cfg.Chain.DomainName,
	)

	select {
	case <-ctx.Done():
		sugar.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			sugar.Errorw("gateway shutdown", "err", err)
		}
	case err := <-errc:
		if err != nil {
			sugar.Fatalw("gateway failed", "err", err)
		}
	}
}
