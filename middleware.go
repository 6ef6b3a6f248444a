package authgate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alexedwards/scs/v2"
)

type userIDKey struct{}

// Middleware resolves the logged in user for downstream handlers. It must
// run inside the scs LoadAndSave middleware.
type Middleware struct {
	Session *scs.SessionManager

	// Query parameter carrying the original URL on login redirects
	CallbackURLParam string

	// Optional login page; when empty EnsureUser answers 401
	GetRedirURL func(r *http.Request) string
}

func (a *Middleware) EnsureReasonableDefaults() {
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "callbackURL"
	}
}

// UserIDFromContext returns the logged in user id set by the middleware
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// ContextWithUserID attaches a logged in user id to ctx
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// ExtractUser loads the user id into the request context if there is one.
// It never rejects a request; use EnsureUser for that.
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := a.loggedInUserID(r)
		if userID != "" {
			r = r.WithContext(ContextWithUserID(r.Context(), userID))
		}
		next.ServeHTTP(w, r)
	})
}

// EnsureUser rejects or redirects requests without a logged in user
func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := a.loggedInUserID(r)
		if userID != "" {
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
			return
		}
		redirUrl := ""
		if a.GetRedirURL != nil {
			redirUrl = a.GetRedirURL(r)
		}
		if redirUrl == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": msgNotLoggedIn,
				"code":  KindUnauthorized.String(),
			})
			return
		}
		encodedUrl := strings.Replace(url.QueryEscape(r.URL.Path), "+", "%20", -1)
		http.Redirect(w, r, fmt.Sprintf("%s?%s=%s", redirUrl, a.CallbackURLParam, encodedUrl), http.StatusFound)
	})
}

func (a *Middleware) loggedInUserID(r *http.Request) string {
	if id := UserIDFromContext(r.Context()); id != "" {
		return id
	}
	return a.Session.GetString(r.Context(), SessionUserKey)
}
