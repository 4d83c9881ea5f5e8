package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"EscrowCore/internal/escrow"
	"EscrowCore/internal/settlement"
)

type openRequest struct {
	Buyer          string `json:"buyer"`
	Seller         string `json:"seller"`
	ListingRef     string `json:"listing_ref"`
	GrossAmount    int64  `json:"gross_amount"`
	FeeBasisPoints int64  `json:"fee_basis_points"`
}

type fundRequest struct {
	Caller       string `json:"caller"`
	FundingProof string `json:"funding_proof"`
}

type settleRequest struct {
	Caller         string `json:"caller"`
	IdempotencyKey string `json:"idempotency_key"`
}

type recordResponse struct {
	EscrowID       string    `json:"escrow_id"`
	VaultAddress   string    `json:"vault_address"`
	Buyer          string    `json:"buyer"`
	Seller         string    `json:"seller"`
	ListingRef     string    `json:"listing_ref,omitempty"`
	GrossAmount    int64     `json:"gross_amount"`
	FeeBasisPoints int64     `json:"fee_basis_points"`
	Fee            int64     `json:"fee"`
	NetAmount      int64     `json:"net_amount"`
	Status         string    `json:"status"`
	FundingRef     string    `json:"funding_ref,omitempty"`
	ReleaseRef     string    `json:"release_ref,omitempty"`
	CancelRef      string    `json:"cancel_ref,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type transitionResponse struct {
	EntryID string    `json:"entry_id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Ref     string    `json:"ref,omitempty"`
	At      time.Time `json:"at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.orc.OpenEscrow(r.Context(), settlement.OpenRequest{
		Buyer:          req.Buyer,
		Seller:         req.Seller,
		ListingRef:     req.ListingRef,
		GrossAmount:    req.GrossAmount,
		FeeBasisPoints: req.FeeBasisPoints,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"escrow_id":     res.EscrowID.String(),
		"vault_address": res.VaultAddress,
		"status":        res.Status,
		"expires_at":    res.ExpiresAt,
	})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	var req fundRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.orc.FundEscrow(r.Context(), settlement.FundRequest{
		EscrowID:     id,
		Caller:       req.Caller,
		FundingProof: req.FundingProof,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrow_id": res.EscrowID.String(),
		"status":    res.Status,
		"replayed":  res.Replayed,
	})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.orc.ReleaseEscrow(r.Context(), settlement.ReleaseRequest{
		EscrowID:       id,
		Caller:         req.Caller,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrow_id": res.EscrowID.String(),
		"status":    res.Status,
		"fee_paid":  res.FeePaid,
		"net_paid":  res.NetPaid,
		"replayed":  res.Replayed,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.orc.CancelEscrow(r.Context(), settlement.CancelRequest{
		EscrowID:       id,
		Caller:         req.Caller,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"escrow_id": res.EscrowID.String(),
		"status":    res.Status,
		"refunded":  res.Refunded,
		"replayed":  res.Replayed,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	rec, err := s.orc.GetEscrow(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toRecordResponse(rec))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	buyer := r.URL.Query().Get("buyer")
	seller := r.URL.Query().Get("seller")

	var (
		recs []*escrow.Record
		err  error
	)
	switch {
	case buyer != "" && seller != "":
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    string(escrow.CodeInvalidParty),
			Message: "specify either buyer or seller, not both",
		})
		return
	case buyer != "":
		recs, err = s.orc.ListByBuyer(r.Context(), buyer)
	case seller != "":
		recs, err = s.orc.ListBySeller(r.Context(), seller)
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    string(escrow.CodeInvalidParty),
			Message: "buyer or seller query parameter is required",
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"escrows": out})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	id, ok := s.escrowID(w, r)
	if !ok {
		return
	}
	entries, err := s.orc.TransitionLog(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]transitionResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, transitionResponse{
			EntryID: e.EntryID.String(),
			From:    e.From.String(),
			To:      e.To.String(),
			Ref:     e.Ref,
			At:      e.At,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"transitions": out})
}

// --- helpers ---

func (s *Server) escrowID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "escrowID"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    string(escrow.CodeNotFound),
			Message: "invalid escrow id",
		})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "bad_request",
			Message: "malformed request body",
		})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := escrow.CodeOf(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("settlement operation failed")
	}
	msg := err.Error()
	var e *escrow.Error
	if errors.As(err, &e) {
		msg = e.Msg
	}
	s.writeJSON(w, status, errorResponse{Code: string(code), Message: msg})
}

func statusFor(code escrow.Code) int {
	switch code {
	case escrow.CodeInvalidParty, escrow.CodeInvalidAmount, escrow.CodeInvalidFee:
		return http.StatusBadRequest
	case escrow.CodeUnauthorized:
		return http.StatusForbidden
	case escrow.CodeNotFound:
		return http.StatusNotFound
	case escrow.CodeWrongState:
		return http.StatusUnprocessableEntity
	case escrow.CodeStateConflict:
		return http.StatusConflict
	case escrow.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case escrow.CodeLedgerFailure:
		return http.StatusBadGateway
	case escrow.CodeReconciliation:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func toRecordResponse(rec *escrow.Record) recordResponse {
	return recordResponse{
		EscrowID:       rec.EscrowID.String(),
		VaultAddress:   rec.VaultAddress,
		Buyer:          rec.Buyer,
		Seller:         rec.Seller,
		ListingRef:     rec.ListingRef,
		GrossAmount:    rec.GrossAmount,
		FeeBasisPoints: rec.FeeBasisPoints,
		Fee:            rec.Fee,
		NetAmount:      rec.NetAmount,
		Status:         rec.Status.String(),
		FundingRef:     rec.FundingRef,
		ReleaseRef:     rec.ReleaseRef,
		CancelRef:      rec.CancelRef,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
		ExpiresAt:      rec.ExpiresAt,
	}
}
