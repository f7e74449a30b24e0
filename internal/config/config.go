package config

import (
	"os"
	"strconv"
	"strings"
)

// Settings keeps all configuration options for the presale daemon and tools.
type Settings struct {
	HTTPPort    string
	DBPath      string
	OwnerAddr   string
	OwnerAPIKey string

	CustodyAddr  string
	ETHReceiver  string
	USDTReceiver string

	// Per-phase schedule, parallel CSV lists. Amounts stay as strings so the
	// caller can parse them into big.Int without precision loss.
	PhasePricesUSD6  []string
	PhaseCapsTokens  []string
	PhaseDeadlines   []int64
	WhitelistRequired bool

	// Chain wiring; empty RPCURL selects the in-memory ledgers.
	RPCURL        string
	ChainID       string // keep as string to match current usage in CLI/GUI
	ETHUSDFeed    string
	ETHUSDFixed6  int64
	USDTAddress   string
	SQ8Address    string
	OperatorPKHex string

	SaleSupplyTokens string
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" { return v }
		}
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		s := get(keys, "")
		if s == "" { return def }
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil { return n }
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" { return def }
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}
	splitCSV := func(s string) []string {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" { out = append(out, p) }
		}
		return out
	}
	splitInt64CSV := func(s string) []int64 {
		parts := splitCSV(s)
		out := make([]int64, 0, len(parts))
		for _, p := range parts {
			if n, err := strconv.ParseInt(p, 10, 64); err == nil { out = append(out, n) }
		}
		return out
	}

	st := Settings{}
	st.HTTPPort    = get([]string{"http_port", "HTTP_PORT"}, "8080")
	st.DBPath      = get([]string{"db_path", "DB_PATH"}, "presale.db")
	st.OwnerAddr   = get([]string{"owner_address", "OWNER_ADDRESS"}, "")
	st.OwnerAPIKey = get([]string{"owner_api_key", "OWNER_API_KEY"}, "")

	st.CustodyAddr  = get([]string{"engine_address", "ENGINE_ADDRESS"}, "")
	st.ETHReceiver  = get([]string{"eth_receiver", "ETH_RECEIVER"}, "")
	st.USDTReceiver = get([]string{"usdt_receiver", "USDT_RECEIVER"}, "")

	// Defaults: three phases at $0.0016 per token, no deadlines.
	st.PhasePricesUSD6 = splitCSV(get([]string{"phase_prices_usd6", "PHASE_PRICES_USD6"}, "1600,1600,1600"))
	st.PhaseCapsTokens = splitCSV(get([]string{"phase_caps_tokens", "PHASE_CAPS_TOKENS"}, ""))
	st.PhaseDeadlines  = splitInt64CSV(get([]string{"phase_deadlines", "PHASE_DEADLINES"}, ""))
	st.WhitelistRequired = getBool([]string{"whitelist_required", "WHITELIST_REQUIRED"}, false)

	st.RPCURL        = get([]string{"rpc_url", "RPC_URL"}, "")
	st.ChainID       = get([]string{"chain_id", "CHAIN_ID"}, "")
	st.ETHUSDFeed    = get([]string{"eth_usd_feed", "ETH_USD_FEED"}, "")
	st.ETHUSDFixed6  = getInt64([]string{"eth_usd_fixed6", "ETH_USD_FIXED6"}, 3_000_000_000)
	st.USDTAddress   = get([]string{"usdt_address", "USDT_ADDRESS"}, "")
	st.SQ8Address    = get([]string{"sq8_address", "SQ8_ADDRESS"}, "")
	st.OperatorPKHex = get([]string{"operator_pk", "OPERATOR_PK"}, "")

	st.SaleSupplyTokens = get([]string{"sale_supply_tokens", "SALE_SUPPLY_TOKENS"}, "500000000")

	return st
}
