package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marko911/token-bridge/internal/codec"
	"github.com/marko911/token-bridge/internal/connector"
	"github.com/marko911/token-bridge/internal/gateway"
	"github.com/marko911/token-bridge/internal/methods"
	"github.com/marko911/token-bridge/internal/tokens"
)

// tokenService is the slice of the token service the HTTP layer drives.
type tokenService interface {
	CreatePool(ctx context.Context, req tokens.PoolRequest) (string, error)
	Mint(ctx context.Context, req tokens.TransferRequest) (string, error)
	Burn(ctx context.Context, req tokens.TransferRequest) (string, error)
	Transfer(ctx context.Context, req tokens.TransferRequest) (string, error)
	Approval(ctx context.Context, req tokens.ApprovalRequest) (string, error)
	Balance(ctx context.Context, account, poolLocator, tokenIndex string) (string, error)
	Receipt(ctx context.Context, id string) (*connector.TxReceipt, error)
}

// Server carries the HTTP surface: the submission API, the websocket
// endpoint, and health.
type Server struct {
	gw      *gateway.Gateway
	service tokenService
	logger  *slog.Logger
}

func NewServer(gw *gateway.Gateway, service tokenService, logger *slog.Logger) *Server {
	return &Server{
		gw:      gw,
		service: service,
		logger:  logger.With("component", "http"),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.gw.HandleWS)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/pools", s.handleCreatePool).Methods(http.MethodPost)
	api.HandleFunc("/mint", s.handleMint).Methods(http.MethodPost)
	api.HandleFunc("/burn", s.handleBurn).Methods(http.MethodPost)
	api.HandleFunc("/transfers", s.handleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/approvals", s.handleApproval).Methods(http.MethodPost)
	api.HandleFunc("/balances", s.handleBalance).Methods(http.MethodGet)
	api.HandleFunc("/receipts/{id}", s.handleReceipt).Methods(http.MethodGet)
	return r
}

type poolRequestBody struct {
	Signer    string `json:"signer"`
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type transferRequestBody struct {
	PoolLocator string `json:"poolLocator"`
	Signer      string `json:"signer"`
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Amount      string `json:"amount"`
	TokenIndex  string `json:"tokenIndex,omitempty"`
	Data        string `json:"data,omitempty"`
	URI         string `json:"uri,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

type approvalRequestBody struct {
	PoolLocator string `json:"poolLocator"`
	Signer      string `json:"signer"`
	Operator    string `json:"operator"`
	Approved    bool   `json:"approved"`
	Data        string `json:"data,omitempty"`
	RequestID   string `json:"requestId,omitempty"`
}

type submittedResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"gateway": s.gw.Stats(),
	})
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var body poolRequestBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Type != "fungible" && body.Type != "nonfungible" {
		s.writeError(w, http.StatusBadRequest, errors.New("type must be fungible or nonfungible"))
		return
	}

	id, err := s.service.CreatePool(r.Context(), tokens.PoolRequest{
		Signer:     body.Signer,
		IsFungible: body.Type == "fungible",
		Data:       []byte(body.Data),
		RequestID:  body.RequestID,
	})
	s.respondSubmission(w, id, err)
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	s.handleTokenOp(w, r, s.service.Mint)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	s.handleTokenOp(w, r, s.service.Burn)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	s.handleTokenOp(w, r, s.service.Transfer)
}

func (s *Server) handleTokenOp(w http.ResponseWriter, r *http.Request,
	op func(context.Context, tokens.TransferRequest) (string, error)) {
	var body transferRequestBody
	if !s.decode(w, r, &body) {
		return
	}

	amount := new(big.Int)
	if body.Amount != "" {
		parsed, ok := amount.SetString(body.Amount, 10)
		if !ok {
			s.writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal integer"))
			return
		}
		amount = parsed
	} else {
		amount.SetInt64(1)
	}

	id, err := op(r.Context(), tokens.TransferRequest{
		PoolLocator: body.PoolLocator,
		Signer:      body.Signer,
		From:        body.From,
		To:          body.To,
		Amount:      amount,
		TokenIndex:  body.TokenIndex,
		Data:        []byte(body.Data),
		URI:         body.URI,
		RequestID:   body.RequestID,
	})
	s.respondSubmission(w, id, err)
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var body approvalRequestBody
	if !s.decode(w, r, &body) {
		return
	}

	id, err := s.service.Approval(r.Context(), tokens.ApprovalRequest{
		PoolLocator: body.PoolLocator,
		Signer:      body.Signer,
		Operator:    body.Operator,
		Approved:    body.Approved,
		Data:        []byte(body.Data),
		RequestID:   body.RequestID,
	})
	s.respondSubmission(w, id, err)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	account := q.Get("account")
	poolLocator := q.Get("poolLocator")
	if account == "" || poolLocator == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("account and poolLocator are required"))
		return
	}

	balance, err := s.service.Balance(r.Context(), account, poolLocator, q.Get("tokenIndex"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance})
}

func (s *Server) handleReceipt(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	receipt, err := s.service.Receipt(r.Context(), id)
	if err != nil {
		if errors.Is(err, connector.ErrReceiptNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) respondSubmission(w http.ResponseWriter, id string, err error) {
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, submittedResponse{ID: id})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the error taxonomy onto HTTP statuses: bad-request
// classifications are the caller's fault, everything else is upstream.
func statusFor(err error) int {
	switch {
	case errors.Is(err, methods.ErrUnsupported),
		errors.Is(err, codec.ErrBadPoolLocator),
		errors.Is(err, codec.ErrTypeIDRange),
		errors.Is(err, codec.ErrTokenIndexRange),
		errors.Is(err, codec.ErrFungibleIndex):
		return http.StatusBadRequest
	case errors.Is(err, connector.ErrUpstream),
		errors.Is(err, connector.ErrMaxAttempts):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
