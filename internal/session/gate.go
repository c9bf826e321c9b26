package session

import (
	"log/slog"
	"net/http"
)

const (
	LoginPath = "/login"
	HomePath  = "/"
)

// RequireAuth admits requests from authenticated sessions, and only from
// admins when adminOnly is set. It waits for session initialization, then
// redirects anonymous visitors to LoginPath and non-admins to HomePath.
func RequireAuth(adminOnly bool, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			l := logger.With(slog.String("middleware", "RequireAuth"))

			sess, ok := FromContext(ctx)
			if !ok {
				l.WarnContext(ctx, "No session in context, redirecting to login")
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}

			select {
			case <-sess.Done():
			case <-ctx.Done():
				return
			}

			if sess.User() == nil {
				l.DebugContext(ctx, "Anonymous request, redirecting to login", slog.String("path", r.URL.Path))
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}
			if adminOnly && !sess.IsAdmin() {
				l.InfoContext(ctx, "Non-admin on admin route, redirecting home", slog.String("path", r.URL.Path))
				http.Redirect(w, r, HomePath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
