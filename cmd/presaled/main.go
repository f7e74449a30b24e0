package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"

	"github.com/saadverse/presale-engine/internal/api"
	"github.com/saadverse/presale-engine/internal/config"
	"github.com/saadverse/presale-engine/internal/engine"
	"github.com/saadverse/presale-engine/internal/ledger"
	"github.com/saadverse/presale-engine/internal/oracle"
	"github.com/saadverse/presale-engine/internal/store"
	"github.com/saadverse/presale-engine/internal/view"
)

var oneToken = new(big.Int).SetUint64(1_000_000_000_000_000_000)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(log)

	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	cfg := config.Load()

	if cfg.OwnerAddr == "" || !common.IsHexAddress(cfg.OwnerAddr) {
		log.Error("OWNER_ADDRESS is required")
		os.Exit(1)
	}
	owner := common.HexToAddress(cfg.OwnerAddr)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	log.Info("store opened", "path", cfg.DBPath)

	params, err := buildParams(cfg, owner, st, log)
	if err != nil {
		log.Error("configure engine", "error", err)
		os.Exit(1)
	}

	var eng *engine.Engine
	snap, err := st.LoadSnapshot()
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		eng, err = engine.New(params)
		if err != nil {
			log.Error("new engine", "error", err)
			os.Exit(1)
		}
		log.Info("fresh sale state", "phases", eng.PhaseCount())
	case err != nil:
		log.Error("load snapshot", "error", err)
		os.Exit(1)
	default:
		eng, err = engine.Restore(params, snap)
		if err != nil {
			log.Error("restore engine", "error", err)
			os.Exit(1)
		}
		log.Info("restored sale state", "version", eng.Version(), "currentPhase", eng.CurrentPhase())
	}

	cache := view.New(eng)
	srv := api.NewServer(eng, cache, st, cfg.OwnerAPIKey, log)
	if cfg.OwnerAPIKey == "" {
		log.Warn("OWNER_API_KEY empty, admin routes disabled")
	}

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("http server listening", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
	}
}

// buildParams wires the engine collaborators from settings. With RPC_URL set
// the ledgers and oracle talk to the chain; otherwise the sale runs against
// in-memory ledgers seeded with the sale supply, which is what tests and
// local demos use.
func buildParams(cfg config.Settings, owner common.Address, st *store.Store, log *slog.Logger) (engine.Params, error) {
	p := engine.Params{
		Owner:             owner,
		WhitelistRequired: cfg.WhitelistRequired,
		Sink:              st,
		Logf: func(format string, args ...any) {
			log.Info("engine", "msg", fmt.Sprintf(format, args...))
		},
	}

	phases, err := parsePhases(cfg)
	if err != nil {
		return engine.Params{}, err
	}
	p.Phases = phases

	if cfg.RPCURL != "" {
		client, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return engine.Params{}, err
		}
		chainID, ok := new(big.Int).SetString(cfg.ChainID, 10)
		if !ok {
			chainID, err = client.ChainID(context.Background())
			if err != nil {
				return engine.Params{}, err
			}
		}
		log.Info("chain mode", "rpc", cfg.RPCURL, "chainId", chainID.String())

		native, err := ledger.NewNative(client, chainID, cfg.OperatorPKHex)
		if err != nil {
			return engine.Params{}, err
		}
		// buyers remit native coin to the operator address; purchases
		// spend those observed deposits
		native.TrackDeposits()
		go native.WatchDeposits(context.Background(), 12*time.Second)
		log.Info("watching native deposits", "operator", native.Operator().Hex())
		stable, err := ledger.NewERC20(client, common.HexToAddress(cfg.USDTAddress), chainID, cfg.OperatorPKHex)
		if err != nil {
			return engine.Params{}, err
		}
		tokens, err := ledger.NewERC20(client, common.HexToAddress(cfg.SQ8Address), chainID, cfg.OperatorPKHex)
		if err != nil {
			return engine.Params{}, err
		}
		p.Native, p.Stable, p.Tokens = native, stable, tokens
		p.Custody = native.Operator()
		if cfg.CustodyAddr != "" {
			p.Custody = common.HexToAddress(cfg.CustodyAddr)
		}

		if cfg.ETHUSDFeed != "" {
			p.Oracle = oracle.NewFeed(client, common.HexToAddress(cfg.ETHUSDFeed))
		} else {
			p.Oracle = oracle.NewFixed(big.NewInt(cfg.ETHUSDFixed6))
		}
	} else {
		log.Info("memory mode, no RPC_URL configured")
		native := ledger.NewMemory("ETH", 18)
		stable := ledger.NewMemory("USDT", 6)
		tokens := ledger.NewMemory("SQ8", 18)

		custody := common.HexToAddress(cfg.CustodyAddr)
		if custody == (common.Address{}) {
			custody = common.HexToAddress("0x00000000000000000000000000000000000005a1")
		}
		supply, ok := new(big.Int).SetString(cfg.SaleSupplyTokens, 10)
		if !ok {
			supply = big.NewInt(500_000_000)
		}
		tokens.Mint(custody, new(big.Int).Mul(supply, oneToken))

		p.Native, p.Stable, p.Tokens = native, stable, tokens
		p.Custody = custody
		p.Oracle = oracle.NewFixed(big.NewInt(cfg.ETHUSDFixed6))
	}

	p.EthReceiver = common.HexToAddress(cfg.ETHReceiver)
	p.StableReceiver = common.HexToAddress(cfg.USDTReceiver)
	if p.EthReceiver == (common.Address{}) {
		p.EthReceiver = owner
	}
	if p.StableReceiver == (common.Address{}) {
		p.StableReceiver = owner
	}
	return p, nil
}

// parsePhases turns the parallel CSV lists into phase params. Caps are
// whole-token counts scaled to 18 decimals; a missing cap means unlimited
// within the sale supply, encoded as the supply itself.
func parsePhases(cfg config.Settings) ([]engine.PhaseParams, error) {
	supply, ok := new(big.Int).SetString(cfg.SaleSupplyTokens, 10)
	if !ok {
		return nil, errors.New("SALE_SUPPLY_TOKENS is not an integer")
	}
	supply18 := new(big.Int).Mul(supply, oneToken)

	out := make([]engine.PhaseParams, 0, len(cfg.PhasePricesUSD6))
	for i, ps := range cfg.PhasePricesUSD6 {
		price, ok := new(big.Int).SetString(ps, 10)
		if !ok || price.Sign() <= 0 {
			return nil, errors.New("PHASE_PRICES_USD6 entry is not a positive integer")
		}
		cap18 := new(big.Int).Set(supply18)
		if i < len(cfg.PhaseCapsTokens) {
			capTok, ok := new(big.Int).SetString(cfg.PhaseCapsTokens[i], 10)
			if !ok {
				return nil, errors.New("PHASE_CAPS_TOKENS entry is not an integer")
			}
			cap18 = new(big.Int).Mul(capTok, oneToken)
		}
		var deadline int64
		if i < len(cfg.PhaseDeadlines) {
			deadline = cfg.PhaseDeadlines[i]
		}
		out = append(out, engine.PhaseParams{
			PriceUSD6:    price,
			CapTokens18:  cap18,
			DeadlineUnix: deadline,
		})
	}
	return out, nil
}
