package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/app/swap"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/sequencer"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (console, plus file when LOG_FILE is set)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		sugar.Fatalw("data_dir", "dir", cfg.Node.DataDir, "err", err)
	}

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		sugar.Fatalw("pebble_open_failed", "err", err)
	}
	defer store.Close()

	walPath := filepath.Join(cfg.Node.DataDir, "sequencer.wal")
	if recs, err := storage.ReadWAL(walPath); err != nil {
		sugar.Warnw("wal_read_failed", "err", err)
	} else if h, ok := storage.PendingProposal(recs); ok {
		sugar.Warnw("wal_pending_proposal", "height", h)
	}
	wal, err := storage.NewFileWAL(walPath)
	if err != nil {
		sugar.Fatalw("wal_open_failed", "err", err)
	}
	defer wal.Close()

	// ---- Genesis assets ----
	genesis := params.DefaultGenesis()
	if cfg.Node.GenesisFile != "" {
		if genesis, err = params.LoadGenesis(cfg.Node.GenesisFile); err != nil {
			sugar.Fatalw("genesis_load_failed", "file", cfg.Node.GenesisFile, "err", err)
		}
	}
	// Devnet traffic: trader holdings must be in the genesis before the host is built
	var feeder *swap.TxGenerator
	var feederCfg swap.TxFeederConfig
	if cfg.Node.TxGenMode != "" {
		feederCfg, err = swap.FeederConfigForMode(cfg.Node.TxGenMode)
		if err != nil {
			sugar.Fatalw("txgen_mode", "err", err)
		}
		feedScheme, err := cfg.Scheme()
		if err != nil {
			sugar.Fatalw("digest_scheme", "err", err)
		}
		feeder, err = swap.NewTxGenerator(feederCfg, genesis, cfg.Protocol.ExchangeAddress, feedScheme)
		if err != nil {
			sugar.Fatalw("txgen_init_failed", "err", err)
		}
		feeder.Fund(genesis)
	}

	host, err := swap.BuildHost(genesis)
	if err != nil {
		sugar.Fatalw("genesis_invalid", "err", err)
	}

	// ---- App: swap settlement ledger ----
	scheme, err := cfg.Scheme()
	if err != nil {
		sugar.Fatalw("digest_scheme", "err", err)
	}
	app, err := swap.New(swap.Config{
		ExchangeAddress: cfg.Protocol.ExchangeAddress,
		FeeRecipient:    cfg.Protocol.FeeRecipient,
		Scheme:          scheme,
		Template:        cfg.TemplateConfig(),
		MempoolSize:     cfg.Node.MempoolSize,
	}, host, store, logger.Named("app"))
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	bridge := &abci.Bridge{App: app, MaxTxBytes: cfg.Node.MaxBlockBytes, Logger: logger.Named("abci")}

	// ---- Sequencer ----
	signer, err := crypto.NewBLSSignerFromSeed([]byte(cfg.Node.BLSSeed))
	if err != nil {
		sugar.Fatalw("bls_key_failed", "err", err)
	}
	seq, err := sequencer.New(sequencer.Config{
		ID:           cfg.Node.ID,
		MinBlockTime: cfg.Node.MinBlockTime,
		SkipEmpty:    cfg.Node.SkipEmptyBlocks,
	}, bridge, store, wal, signer, util.RealClock{})
	if err != nil {
		sugar.Fatalw("sequencer_init_failed", "err", err)
	}
	seq.Logger = logger.Named("sequencer").Sugar()

	if seqHeight, appHeight := uint64(seq.Height()), app.Height(); appHeight > seqHeight {
		// The ledger committed a block whose signed header was never saved;
		// the sequencer re-proposes those heights and the app skips them.
		sugar.Warnw("app_ahead_of_blocks", "block_height", seqHeight, "app_height", appHeight)
	}

	sugar.Infow("node_starting",
		"id", cfg.Node.ID,
		"height", seq.Height(),
		"sequencer_pubkey", signer.PubkeyHex(),
		"fee_recipient", cfg.Protocol.FeeRecipient.Hex(),
		"digest_scheme", scheme.Name,
		"min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	// Start HTTP/WebSocket server for clients
	apiServer := api.NewServer(app, store, cfg.API, logger.Named("api"))
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	if feeder != nil {
		cancelFeeder := swap.StartTxFeeder(ctx, app, feeder, feederCfg, logger.Named("txfeeder"))
		defer cancelFeeder()
	}

	// Start block production
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
			sugar.Errorw("sequencer_failed", "err", err)
			stop()
		}
	}()

	// Progress logging loop
	logInterval := sequencer.Height(100)
	lastLogged := seq.Height()
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Let an in-flight block finish before the store closes.
			<-seqDone
			sugar.Infow("node_stopping", "height", seq.Height())
			return
		case <-ticker.C:
			h := seq.Height()
			if h-lastLogged >= logInterval || h <= 5 {
				sugar.Infow("sequencer_progress",
					"height", h,
					"mempool", app.PendingTxs(),
					"blocks_since_last_log", h-lastLogged)
				lastLogged = h
			}
		}
	}
}
