package api

import (
	"net/http"
)

// Owner route bodies. The acting address is always the configured owner once
// the key check in ownerOnly has passed.

type advanceRequest struct {
	CarryOver bool `json:"carryOver"`
}

type whitelistRequiredRequest struct {
	Required bool `json:"required"`
}

type whitelistRequest struct {
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}

type receiversRequest struct {
	ETHReceiver    string `json:"ethReceiver"`
	StableReceiver string `json:"stableReceiver"`
}

type phaseDeadlineRequest struct {
	Index        int   `json:"index"`
	DeadlineUnix int64 `json:"deadlineUnix"`
}

type phaseCapRequest struct {
	Index int    `json:"index"`
	Cap18 string `json:"cap18"`
}

type phasePriceRequest struct {
	Index     int    `json:"index"`
	PriceUSD6 string `json:"priceUsd6"`
}

type withdrawRequest struct {
	To       string `json:"to"`
	Amount18 string `json:"amount18"`
}

type endRequest struct {
	ClaimStartUnix  int64 `json:"claimStartUnix"`
	CliffSeconds    int64 `json:"cliffSeconds"`
	DurationSeconds int64 `json:"durationSeconds"`
}

func (s *Server) adminPause(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Pause(s.eng.Owner()); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminResume(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Resume(s.eng.Owner()); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.eng.AdvancePhase(s.eng.Owner(), req.CarryOver); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminWhitelistRequired(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequiredRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.eng.SetWhitelistRequired(s.eng.Owner(), req.Required); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminWhitelist(w http.ResponseWriter, r *http.Request) {
	var req whitelistRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	addr, ok := parseAddress(req.Address)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid address required")
		return
	}
	if err := s.eng.SetWhitelisted(s.eng.Owner(), addr, req.Allowed); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminReceivers(w http.ResponseWriter, r *http.Request) {
	var req receiversRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ethRcv, ok := parseAddress(req.ETHReceiver)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid ethReceiver address required")
		return
	}
	stableRcv, ok := parseAddress(req.StableReceiver)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid stableReceiver address required")
		return
	}
	if err := s.eng.SetReceivers(s.eng.Owner(), ethRcv, stableRcv); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminPhaseDeadline(w http.ResponseWriter, r *http.Request) {
	var req phaseDeadlineRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.eng.SetPhaseDeadline(s.eng.Owner(), req.Index, req.DeadlineUnix); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminPhaseCap(w http.ResponseWriter, r *http.Request) {
	var req phaseCapRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	cap18, ok := parseAmount(req.Cap18)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "cap18 must be a decimal integer")
		return
	}
	if err := s.eng.SetPhaseCap(s.eng.Owner(), req.Index, cap18); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminPhasePrice(w http.ResponseWriter, r *http.Request) {
	var req phasePriceRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	price, ok := parseAmount(req.PriceUSD6)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "priceUsd6 must be a decimal integer")
		return
	}
	if err := s.eng.SetPhasePrice(s.eng.Owner(), req.Index, price); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	to, ok := parseAddress(req.To)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "valid to address required")
		return
	}
	amount, ok := parseAmount(req.Amount18)
	if !ok {
		s.errorResponse(w, http.StatusBadRequest, "amount18 must be a decimal integer")
		return
	}
	if err := s.eng.WithdrawUnsold(r.Context(), s.eng.Owner(), to, amount); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *Server) adminEnd(w http.ResponseWriter, r *http.Request) {
	var req endRequest
	if err := s.decode(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.eng.EndPresaleAndStartVesting(s.eng.Owner(), req.ClaimStartUnix, req.CliffSeconds, req.DurationSeconds); err != nil {
		s.engineError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OkResponse{Ok: true})
}
