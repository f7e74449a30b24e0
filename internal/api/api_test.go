package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saadverse/presale-engine/internal/engine"
	"github.com/saadverse/presale-engine/internal/ledger"
	"github.com/saadverse/presale-engine/internal/oracle"
	"github.com/saadverse/presale-engine/internal/store"
	"github.com/saadverse/presale-engine/internal/view"
)

const (
	ownerHex   = "0x0000000000000000000000000000000000000001"
	buyerHex   = "0x0000000000000000000000000000000000000010"
	testAPIKey = "test-owner-key"
)

type testEnv struct {
	srv    *httptest.Server
	eng    *engine.Engine
	stable *ledger.Memory
	now    *int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	owner := common.HexToAddress(ownerHex)
	custody := common.HexToAddress("0x0000000000000000000000000000000000000002")
	now := new(int64)
	*now = 1_700_000_000

	native := ledger.NewMemory("ETH", 18)
	stable := ledger.NewMemory("USDT", 6)
	tokens := ledger.NewMemory("SQ8", 18)
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	tokens.Mint(custody, new(big.Int).Mul(big.NewInt(500_000_000), one))

	st, err := store.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cap18 := new(big.Int).Mul(big.NewInt(200_000_000), one)
	eng, err := engine.New(engine.Params{
		Owner:          owner,
		Custody:        custody,
		EthReceiver:    owner,
		StableReceiver: owner,
		Phases: []engine.PhaseParams{
			{PriceUSD6: big.NewInt(1600), CapTokens18: cap18},
			{PriceUSD6: big.NewInt(1600), CapTokens18: cap18},
		},
		Oracle: oracle.NewFixed(big.NewInt(3_000_000_000)),
		Native: native,
		Stable: stable,
		Tokens: tokens,
		Sink:   st,
		Now:    func() time.Time { return time.Unix(*now, 0) },
	})
	require.NoError(t, err)

	srv := NewServer(eng, view.New(eng), st, testAPIKey, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: ts, eng: eng, stable: stable, now: now}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimSpace(p)))
	return len(p), nil
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) post(t *testing.T, path, key string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(ownerKeyHeader, key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber() // engine amounts exceed float64 precision
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

func (e *testEnv) fundUSDT(addr string, usd6 int64) {
	a := common.HexToAddress(addr)
	e.stable.Mint(a, big.NewInt(usd6))
	e.stable.Approve(a, common.HexToAddress("0x0000000000000000000000000000000000000002"), big.NewInt(usd6))
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	resp, body := e.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStatusAndPhases(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.get(t, "/api/v1/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, json.Number("0"), body["currentPhase"])
	assert.Equal(t, json.Number("1600"), body["priceUsd6"])
	assert.Equal(t, false, body["presaleEnded"])

	resp, err := http.Get(e.srv.URL + "/api/v1/phases")
	require.NoError(t, err)
	defer resp.Body.Close()
	var phases []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&phases))
	assert.Len(t, phases, 2)
}

func TestGetPhaseValidation(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.get(t, "/api/v1/phase")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.get(t, "/api/v1/phase?index=9")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := e.get(t, "/api/v1/phase?index=1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, json.Number("1"), body["index"])
}

func TestBuyWithUSDTFlow(t *testing.T) {
	e := newTestEnv(t)
	e.fundUSDT(buyerHex, 100_000_000) // $100

	resp, body := e.post(t, "/api/v1/buy/usdt", "", map[string]string{
		"buyer": buyerHex, "usd6Amount": "100000000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "62500000000000000000000", body["tokensOut18"])

	resp, body = e.get(t, "/api/v1/vesting?address="+buyerHex)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "62500000000000000000000", toAmount(body["total"]))
}

// engine amounts arrive either as JSON numbers or decimal strings depending
// on the field; normalize for assertions.
func toAmount(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func TestBuyValidation(t *testing.T) {
	e := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"bad buyer address", map[string]string{"buyer": "nope", "usd6Amount": "1000000"}, http.StatusBadRequest},
		{"negative amount", map[string]string{"buyer": buyerHex, "usd6Amount": "-5"}, http.StatusBadRequest},
		{"non-numeric amount", map[string]string{"buyer": buyerHex, "usd6Amount": "ten"}, http.StatusBadRequest},
		{"zero amount", map[string]string{"buyer": buyerHex, "usd6Amount": "0"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := e.post(t, "/api/v1/buy/usdt", "", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBuyETHSlippageMapsTo400(t *testing.T) {
	e := newTestEnv(t)

	resp, body := e.post(t, "/api/v1/buy/eth", "", map[string]string{
		"buyer":       buyerHex,
		"amountWei":   "10000000000000000",
		"maxCostUsd6": "1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "SlippageExceeded")
}

func TestClaimNothingClaimable(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.eng.EndPresaleAndStartVesting(common.HexToAddress(ownerHex), *e.now, 0, 360))

	resp, body := e.post(t, "/api/v1/claim", "", map[string]string{"address": buyerHex})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", body["claimed18"])
	assert.Equal(t, "NothingClaimable", body["reason"])
}

func TestAdminAuth(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.post(t, "/api/v1/admin/pause", "", struct{}{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.post(t, "/api/v1/admin/pause", "wrong-key", struct{}{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := e.post(t, "/api/v1/admin/pause", testAPIKey, struct{}{})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])

	// paused engine rejects purchases with a conflict
	e.fundUSDT(buyerHex, 10_000_000)
	resp, errBody := e.post(t, "/api/v1/buy/usdt", "", map[string]string{"buyer": buyerHex, "usd6Amount": "10000000"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, errBody["error"], "PresalePaused")
}

func TestAdminGetRejected(t *testing.T) {
	e := newTestEnv(t)
	req, err := http.NewRequest(http.MethodGet, e.srv.URL+"/api/v1/admin/pause", nil)
	require.NoError(t, err)
	req.Header.Set(ownerKeyHeader, testAPIKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAdminPhasePrice(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.post(t, "/api/v1/admin/phase-price", testAPIKey, map[string]any{"index": 0, "priceUsd6": "3200"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := e.get(t, "/api/v1/status")
	assert.Equal(t, json.Number("3200"), body["priceUsd6"])
}

func TestAdminEndThenClaim(t *testing.T) {
	e := newTestEnv(t)
	e.fundUSDT(buyerHex, 100_000_000)

	resp, _ := e.post(t, "/api/v1/buy/usdt", "", map[string]string{"buyer": buyerHex, "usd6Amount": "100000000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.post(t, "/api/v1/admin/end", testAPIKey, map[string]int64{
		"claimStartUnix": *e.now, "cliffSeconds": 0, "durationSeconds": 360,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	*e.now += 360
	resp, body := e.post(t, "/api/v1/claim", "", map[string]string{"address": buyerHex})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "62500000000000000000000", body["claimed18"])
}

func TestAuditEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.fundUSDT(buyerHex, 10_000_000)

	resp, _ := e.post(t, "/api/v1/buy/usdt", "", map[string]string{"buyer": buyerHex, "usd6Amount": "10000000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.post(t, "/api/v1/admin/pause", testAPIKey, struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	httpResp, err := http.Get(e.srv.URL + "/api/v1/audit?limit=10")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var recs []map[string]any
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "pause", recs[0]["op"])
	assert.Equal(t, "buyWithUSDT", recs[1]["op"])
}
