package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"

	"github.com/propshq/props/pkg/apptoken"
	"github.com/propshq/props/pkg/authflow"
	"github.com/propshq/props/pkg/provider"
)

// Handle serves the login and callback endpoints of the authorization flow.
type Handle struct {
	flowService  *authflow.Service
	cookieSetter apptoken.CookieSetter
}

// NewHandle creates a new authorization flow handler.
func NewHandle(flowService *authflow.Service, cookieSetter apptoken.CookieSetter) *Handle {
	return &Handle{
		flowService:  flowService,
		cookieSetter: cookieSetter,
	}
}

// Routes mounts the flow endpoints on a router.
func (h *Handle) Routes(r chi.Router) {
	r.Get("/login", h.Login)
	r.Get("/callback", h.Callback)
}

// Error is the JSON error body.
type Error struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// UserResponse is the public view of a local user.
type UserResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// CallbackResponse is returned on a completed login.
type CallbackResponse struct {
	User        UserResponse `json:"user"`
	NewUser     bool         `json:"new_user"`
	AccessToken string       `json:"access_token"`
}

// Login starts an authorization attempt and redirects to the provider.
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	initiation, err := h.flowService.InitiateLogin(r.Context())
	if err != nil {
		slog.Error("Failed to initiate login", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error{Error: "internal_error", ErrorDescription: "failed to initiate login"})
		return
	}

	http.Redirect(w, r, initiation.AuthorizationURL, http.StatusFound)
}

// Callback processes the provider redirect and issues the application session.
func (h *Handle) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if providerError := query.Get("error"); providerError != "" {
		slog.Warn("Provider returned an authorization error", "error", providerError)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error{Error: "authorization_denied"})
		return
	}

	code := query.Get("code")
	encodedState := query.Get("state")
	if code == "" || encodedState == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, Error{Error: "invalid_request", ErrorDescription: "code and state are required"})
		return
	}

	result, err := h.flowService.HandleCallback(r.Context(), code, encodedState)
	if err != nil {
		h.renderFlowError(w, r, err)
		return
	}

	h.cookieSetter.SetCookie(w, apptoken.AccessTokenName, result.Tokens.AccessToken, result.Tokens.AccessExpiresAt)
	h.cookieSetter.SetCookie(w, apptoken.RefreshTokenName, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt)

	response := CallbackResponse{NewUser: result.NewUser, AccessToken: result.Tokens.AccessToken}
	if err := copier.Copy(&response.User, result.User); err != nil {
		slog.Error("Failed to map user response", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error{Error: "internal_error"})
		return
	}
	// copier does not convert uuid.UUID to string.
	response.User.ID = result.User.ID.String()

	render.JSON(w, r, response)
}

func (h *Handle) renderFlowError(w http.ResponseWriter, r *http.Request, err error) {
	var flowError *authflow.FlowError
	if !errors.As(err, &flowError) {
		slog.Error("Callback failed", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, Error{Error: "internal_error"})
		return
	}

	// The specific kind stays in logs; the response body only carries the
	// public message.
	slog.Warn("Callback failed", "kind", flowError.Kind.String(), "error", flowError)

	render.Status(r, statusFor(flowError))
	render.JSON(w, r, Error{Error: "login_failed", ErrorDescription: flowError.Public()})
}

// statusFor maps a flow failure to a response status. Provider failures
// caused by client-supplied input (the provider rejected the code) map to
// 400; genuine provider-side failures map to 502.
func statusFor(flowError *authflow.FlowError) int {
	switch flowError.Category() {
	case authflow.CategoryClientInput:
		return http.StatusBadRequest
	case authflow.CategoryProvider:
		var httpErr *provider.HTTPError
		if errors.As(flowError.Err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case authflow.CategoryVerification:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
