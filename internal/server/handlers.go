package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessiongate/internal/gateway"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxBodyBytes bounds the credentials payload.
const maxBodyBytes = 64 << 10

// SessionGateway is the subset of *gateway.Gateway the handlers use.
type SessionGateway interface {
	GetSession(ctx context.Context, email, password string) gateway.Result
	RefreshCookie(ctx context.Context) gateway.Result
}

// CredentialsRequest is the body of POST /getCookie. Both fields must be
// present; empty values are left for the gateway to reject.
type CredentialsRequest struct {
	Email    *string `json:"email"`
	Password *string `json:"password"`
}

// SessionResponse is the body of every session endpoint. Cookie and Cookies
// are set on success; Msg on failure.
type SessionResponse struct {
	Status  string            `json:"status"`
	Cookie  string            `json:"cookie,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Msg     string            `json:"msg,omitempty"`
}

// Handlers serves the session endpoints.
type Handlers struct {
	log     *zap.Logger
	gateway SessionGateway
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(logger *zap.Logger, gw SessionGateway) *Handlers {
	return &Handlers{
		log:     logger.Named("handlers"),
		gateway: gw,
	}
}

// RegisterRoutes mounts the endpoints on r.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandleRoot)
	r.Get("/updateCookie", h.HandleUpdateCookie)
	r.Post("/getCookie", h.HandleGetCookie)
}

// HandleRoot confirms the service is up.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "sessiongate is running"})
}

// HandleUpdateCookie replays the cart update with the stored session.
func (h *Handlers) HandleUpdateCookie(w http.ResponseWriter, r *http.Request) {
	h.respondWithResult(w, h.gateway.RefreshCookie(r.Context()))
}

// HandleGetCookie logs in with the posted credentials.
func (h *Handlers) HandleGetCookie(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondWithFail(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.Email == nil || req.Password == nil {
		h.respondWithFail(w, http.StatusUnprocessableEntity, "Invalid request body: email and password fields are required")
		return
	}
	h.respondWithResult(w, h.gateway.GetSession(r.Context(), *req.Email, *req.Password))
}

// respondWithResult maps a gateway result to a response. Gateway failures
// are still HTTP 200.
func (h *Handlers) respondWithResult(w http.ResponseWriter, res gateway.Result) {
	if !res.OK() {
		h.respondWithFail(w, http.StatusOK, res.Msg)
		return
	}
	h.respondJSON(w, http.StatusOK, SessionResponse{
		Status:  gateway.StatusSuccess,
		Cookie:  res.Cart,
		Cookies: res.Cookies,
	})
}

func (h *Handlers) respondWithFail(w http.ResponseWriter, statusCode int, msg string) {
	h.respondJSON(w, statusCode, SessionResponse{Status: gateway.StatusFail, Msg: msg})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
