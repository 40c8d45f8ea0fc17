package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/provenance/provenance-gateway/internal/logging"
	"github.com/provenance/provenance-gateway/internal/protocol"
	"github.com/provenance/provenance-gateway/internal/service"
)

const defaultMaxBodyBytes = 1 << 20

type Handler struct {
	service      *service.Gateway
	logger       *slog.Logger
	maxBodyBytes int64
}

func NewHandler(svc *service.Gateway, logger *slog.Logger, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: svc, logger: logger, maxBodyBytes: maxBodyBytes}
}

// Routes mounts the public and protected route groups on r. protect wraps
// every route except health and action links, which end users open directly.
func (h *Handler) Routes(r chi.Router, protect ...func(http.Handler) http.Handler) {
	r.Get("/health", h.handleHealth)
	r.Get("/tx-action/{token}", h.handlePreviewAction)
	r.Post("/tx-action/{token}", h.handleRedeemAction)

	r.Group(func(r chi.Router) {
		r.Use(protect...)
		r.Post("/validators/data", h.handleValidatorData)
		r.Post("/register", h.handleRegister)
		r.Post("/search", h.handleSearch)
		r.Post("/link-wallet", h.handleLinkWallet)
		r.Post("/create-wallet", h.handleCreateWallet)
		r.Get("/find-wallet", h.handleFindWallet)
		r.Post("/transactions", h.handleSubmitTransaction)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	logging.AddField(r.Context(), "datastore", resp.Datastore)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleValidatorData(w http.ResponseWriter, r *http.Request) {
	var req protocol.ValidatorDataRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.ValidatorData(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "validator_data")
	logging.AddField(r.Context(), "validator_address", resp.ValidatorAddress)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req protocol.RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	logging.AddField(r.Context(), "op", "register")
	logging.AddField(r.Context(), "wallet_type", req.WalletType)
	resp, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "registration_address", resp.RegistrationAddress)
	logging.AddField(r.Context(), "register_status", resp.Status)
	status := http.StatusAccepted
	if resp.Status == protocol.StatusConfirmed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req protocol.SearchRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.Search(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "search")
	logging.AddField(r.Context(), "match_count", len(resp.Matches))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLinkWallet(w http.ResponseWriter, r *http.Request) {
	var req protocol.LinkWalletRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.LinkWallet(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "link_wallet")
	logging.AddField(r.Context(), "signature", resp.Signature)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var req protocol.CreateWalletRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.CreateWallet(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "create_wallet")
	logging.AddField(r.Context(), "wallet_address", resp.WalletAddress)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleFindWallet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.service.FindWallet(r.Context(), q.Get("userID"), q.Get("walletAddress"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "find_wallet")
	logging.AddField(r.Context(), "relation_address", resp.RelationAddress)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req protocol.SubmitTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.service.SubmitTransaction(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "submit_transaction")
	logging.AddField(r.Context(), "signature", resp.Signature)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handlePreviewAction(w http.ResponseWriter, r *http.Request) {
	logging.AddField(r.Context(), "op", "preview_action")
	resp, err := h.service.PreviewAction(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "token_status", resp.Status)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRedeemAction(w http.ResponseWriter, r *http.Request) {
	logging.AddField(r.Context(), "op", "redeem_action")
	resp, err := h.service.RedeemAction(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "creator_address", resp.CreatorAddress)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := decodeJSON(r, h.maxBodyBytes, out); err != nil {
		h.writeError(w, r, service.BadRequest(err.Error(), err))
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Error())
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
			Fields:    appErr.Fields,
			Details:   appErr.Details,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", "INTERNAL_ERROR")
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      "INTERNAL_ERROR",
		Message:   "internal server error",
		Retryable: true,
	}})
}

func decodeJSON(r *http.Request, maxBodyBytes int64, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
