package authz

import (
	"context"
	"net/http"
)

type contextKey string

const sessionKey contextKey = "session"

// WithSession stores the resolved session on the request context so
// downstream handlers receive it without re-resolving.
func WithSession(ctx context.Context, session Context) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

func SessionFromRequest(r *http.Request) (Context, bool) {
	session, ok := r.Context().Value(sessionKey).(Context)
	if !ok || !session.Authenticated() {
		return Context{}, false
	}
	return session, true
}
