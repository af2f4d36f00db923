package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/permitdesk/platform/go/auth"
	"github.com/zenGate-Global/permitdesk/platform/go/httpapi"
	platformlogging "github.com/zenGate-Global/permitdesk/platform/go/logging"
	"github.com/zenGate-Global/permitdesk/platform/go/requesttrace"
)

// RequestTrace resolves the acting manager for audit stamping and adds it to the request logger.
// Mount it after auth.JWT.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := middleware.GetReqID(ctx)

		actor := requesttrace.Anonymous(requestID)
		if creds, ok := platformauth.UserFromContext(ctx); ok && creds != nil {
			var err error
			actor, err = requesttrace.FromCredentials(creds, requestID)
			if err != nil {
				if logger, ok := platformlogging.FromContext(ctx); ok {
					logger.Warn("credentials cannot act on the audit trail", zap.Error(err))
				}
				httpapi.WriteProblem(w, httpapi.NewProblem("Unauthorized", "credentials carry no user id", httpapi.ProblemTypeUnauthorized, http.StatusUnauthorized, nil))
				return
			}
		}

		ctx = requesttrace.IntoContext(ctx, actor)
		if logger, ok := platformlogging.FromContext(ctx); ok {
			fields := []zap.Field{zap.String("actorKind", string(actor.ActorKind))}
			if actor.UserID != nil {
				fields = append(fields, zap.String("managerId", *actor.UserID), zap.String("role", actor.Role))
			}
			ctx = platformlogging.WithLogger(ctx, logger.With(fields...))
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
