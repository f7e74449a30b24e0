package api

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/saadverse/presale-engine/internal/engine"
)

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.eng.Version(),
	})
}

// getStatus handles GET /api/v1/status
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.cache.Status())
}

// listPhases handles GET /api/v1/phases
func (s *Server) listPhases(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.cache.Phases())
}

// getPhase handles GET /api/v1/phase?index=N
func (s *Server) getPhase(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "index query parameter required")
		return
	}
	info, err := s.eng.PhaseInfo(index)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, info)
}

// getVesting handles GET /api/v1/vesting?address=0x..
func (s *Server) getVesting(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.URL.Query().Get("address"))
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid address query parameter required")
		return
	}
	s.jsonResponse(w, http.StatusOK, s.cache.VestingInfo(addr))
}

// getEthUsd handles GET /api/v1/ethusd
func (s *Server) getEthUsd(w http.ResponseWriter, r *http.Request) {
	rate, err := s.eng.EthUsd6(r.Context())
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, RateResponse{UsdPerNative6: rate.String()})
}

// listAudit handles GET /api/v1/audit?limit=N
func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusNotImplemented, "audit journal not configured")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 && i <= 1000 {
			limit = i
		}
	}
	recs, err := s.store.ListAudit(limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []engine.AuditRecord{}
	}
	s.jsonResponse(w, http.StatusOK, recs)
}

type buyETHRequest struct {
	Buyer       string `json:"buyer"`
	AmountWei   string `json:"amountWei"`
	MaxCostUSD6 string `json:"maxCostUsd6,omitempty"`
}

// buyWithETH handles POST /api/v1/buy/eth
func (s *Server) buyWithETH(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req buyETHRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	buyer, ok := parseAddress(req.Buyer)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid buyer address required")
		return
	}
	amount, ok := parseAmount(req.AmountWei)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "amountWei must be a decimal integer")
		return
	}
	var maxCost *big.Int
	if req.MaxCostUSD6 != "" {
		maxCost, ok = parseAmount(req.MaxCostUSD6)
		if !ok {
			s.errorResponse(w, http.StatusBadRequest, "maxCostUsd6 must be a decimal integer")
			return
		}
	}
	out, err := s.eng.BuyWithETH(r.Context(), buyer, amount, maxCost)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, PurchaseResponse{TokensOut18: out.String()})
}

type buyUSDTRequest struct {
	Buyer      string `json:"buyer"`
	USD6Amount string `json:"usd6Amount"`
}

// buyWithUSDT handles POST /api/v1/buy/usdt
func (s *Server) buyWithUSDT(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req buyUSDTRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	buyer, ok := parseAddress(req.Buyer)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid buyer address required")
		return
	}
	amount, ok := parseAmount(req.USD6Amount)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "usd6Amount must be a decimal integer")
		return
	}
	out, err := s.eng.BuyWithUSDT(r.Context(), buyer, amount)
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, PurchaseResponse{TokensOut18: out.String()})
}

type claimRequest struct {
	Address string `json:"address"`
}

// claim handles POST /api/v1/claim. NothingClaimable is a zero-value no-op
// outcome, not a hard failure.
func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.errorResponse(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req claimRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid address required")
		return
	}
	claimed, err := s.eng.Claim(r.Context(), addr)
	if errors.Is(err, engine.ErrNothingClaimable) {
		s.jsonResponse(w, http.StatusOK, ClaimResponse{Claimed18: "0", Reason: engine.ErrNothingClaimable.Error()})
		return
	}
	if err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ClaimResponse{Claimed18: claimed.String()})
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func parseAmount(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}
