package handlers

import (
	"net/http"
	"strings"

	"github.com/campus-canteen/api/internal/platform/httpx"
	"github.com/campus-canteen/api/internal/platform/requestctx"
)

// ActorHeader carries the acting principal's identifier, set by the fronting
// gateway after it has authenticated the caller.
const ActorHeader = "X-Actor-Id"

// ActorMiddleware lifts the actor header onto the request context so handlers
// and the request logger can read it.
func ActorMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actorID := strings.TrimSpace(r.Header.Get(ActorHeader)); actorID != "" {
				r = r.WithContext(requestctx.WithActor(r.Context(), actorID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireActor rejects requests that carry no actor identity.
func RequireActor(next http.Handler) http.Handler {
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requestctx.Actor(r.Context()); !ok {
			httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "actor identity required", http.StatusUnauthorized))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFromRequest(r *http.Request) (string, bool) {
	return requestctx.Actor(r.Context())
}
