package authgate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gorilla/mux"
)

// Handler exposes the Authenticator over HTTP. Mount it with Routes or use
// it directly as an http.Handler.
type Handler struct {
	Auth    *Authenticator
	Session *scs.SessionManager
	State   *StateSigner

	// Prefix of all routes, defaults to /auth
	Prefix string

	// Where the browser goes after a provider login when no callback URL
	// was given. Defaults to /
	DefaultRedirectURL string

	// Prepended to relative callback URLs
	BaseURL string

	router *mux.Router
}

func (h *Handler) EnsureDefaults() *Handler {
	if h.Prefix == "" {
		h.Prefix = "/auth"
	}
	h.Prefix = "/" + strings.Trim(h.Prefix, "/")
	if h.DefaultRedirectURL == "" {
		h.DefaultRedirectURL = "/"
	}
	h.Auth.EnsureDefaults()
	return h
}

// Routes registers the auth endpoints on r
func (h *Handler) Routes(r *mux.Router) {
	h.EnsureDefaults()
	sr := r.PathPrefix(h.Prefix).Subrouter()
	sr.HandleFunc("/register", h.handleRegister).Methods(http.MethodPost)
	sr.HandleFunc("/login", h.handleLogin).Methods(http.MethodPost)
	sr.HandleFunc("/logout", h.handleLogout).Methods(http.MethodPost)
	sr.HandleFunc("/new-verification", h.handleConfirmEmail).Methods(http.MethodGet, http.MethodPost)
	sr.HandleFunc("/me", h.handleMe).Methods(http.MethodGet)
	sr.HandleFunc("/oauth/{provider}", h.handleProviderRedirect).Methods(http.MethodGet)
	sr.HandleFunc("/oauth/{provider}/callback", h.handleProviderCallback).Methods(http.MethodGet)
}

// ServeHTTP serves the auth routes wrapped in the session middleware
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.router == nil {
		h.router = mux.NewRouter()
		h.Routes(h.router)
		h.router.Use(h.Session.LoadAndSave)
	}
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.Validate()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ack, err := h.Auth.Register(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.Validate()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.Auth.Login(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLoginResult(w, result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := h.Session.Token(r.Context())
	if err := h.Auth.Logout(r.Context(), token); err != nil {
		// the browser drops its handle even when the store could not
		clearCookie(w, h.Session.Cookie.Name)
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Ack{Message: "Logged out"})
}

func (h *Handler) handleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("token")
	if token == "" {
		h.writeError(w, r, NewFieldError("token", "token is required"))
		return
	}
	result, err := h.Auth.ConfirmEmail(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeLoginResult(w, result)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.Auth.CurrentUser(r.Context(), h.Session.Token(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Public())
}

func (h *Handler) handleProviderRedirect(w http.ResponseWriter, r *http.Request) {
	provider, ok := h.Auth.Providers.Lookup(mux.Vars(r)["provider"])
	if !ok {
		h.writeError(w, r, NewError(KindNotFound, msgUnknownProvider, nil))
		return
	}
	state, err := h.State.Sign(provider.Name())
	if err != nil {
		h.writeError(w, r, NewError(KindInternal, msgInternal, err))
		return
	}
	setStateCookie(w, state, h.State.TTL)
	if callbackURL := r.URL.Query().Get("callbackURL"); callbackURL != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     OAuthCallbackCookie,
			Value:    callbackURL,
			Path:     "/",
			Expires:  time.Now().Add(24 * time.Hour),
			MaxAge:   120, // keep this short
			HttpOnly: true,
		})
	}
	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	provider, ok := h.Auth.Providers.Lookup(name)
	if !ok {
		h.writeError(w, r, NewError(KindNotFound, msgUnknownProvider, nil))
		return
	}
	if err := h.State.CheckCallbackState(r, provider.Name()); err != nil {
		clearCookie(w, OAuthStateCookie)
		h.writeError(w, r, NewError(KindBadRequest, "invalid oauth state", err))
		return
	}
	clearCookie(w, OAuthStateCookie)

	if e := r.FormValue("error"); e != "" {
		h.writeError(w, r, NewError(KindUnauthorized, msgProviderRejected, fmt.Errorf("provider returned %q", e)))
		return
	}

	if _, err := h.Auth.ProviderLogin(r.Context(), name, r.FormValue("code")); err != nil {
		h.writeError(w, r, err)
		return
	}

	// Auth done - go back to where we need to be
	callbackURL := h.DefaultRedirectURL
	if c, _ := r.Cookie(OAuthCallbackCookie); c != nil && c.Value != "" {
		callbackURL = h.safeRedirect(c.Value)
	}
	clearCookie(w, OAuthCallbackCookie)
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

// safeRedirect only allows relative paths so the callback cookie can't
// bounce users to another site
func (h *Handler) safeRedirect(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(target, "//") {
		return h.DefaultRedirectURL
	}
	return strings.TrimSuffix(h.BaseURL, "/") + target
}

func (h *Handler) writeLoginResult(w http.ResponseWriter, result *LoginResult) {
	if result.TwoFactorRequired() {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":           result.Ack.Message,
			"twoFactorRequired": true,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":      result.User.Public(),
		"expiresAt": result.Session.ExpiresAt,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.Auth.Logger.ErrorContext(r.Context(), "auth request failed", "path", r.URL.Path, "err", err)
	} else {
		h.Auth.Logger.InfoContext(r.Context(), "auth request rejected", "path", r.URL.Path, "kind", KindOf(err).String())
	}
	body := map[string]any{
		"error": publicMessage(err),
		"code":  KindOf(err).String(),
	}
	var e *Error
	if errors.As(err, &e) && e.Field != "" {
		body["field"] = e.Field
	}
	writeJSON(w, status, body)
}

// decodeRequest reads a JSON or form encoded body into v
func decodeRequest(r *http.Request, v any) error {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return NewFieldError("", "error parsing form")
		}
		// the request structs are flat string fields so a JSON round trip
		// maps form keys onto them
		form := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		b, _ := json.Marshal(form)
		if err := json.Unmarshal(b, v); err != nil {
			return NewFieldError("", "invalid post body")
		}
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return NewFieldError("", "invalid post body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "err", err)
	}
}
