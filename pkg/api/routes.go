package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/chicogong/slot-compositor/pkg/auth"
)

// Routes registers every endpoint. authn may be nil to serve without
// authentication; cancelling jobs then needs no role either.
func (s *Server) Routes(authn *auth.AuthMiddleware, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	protect := func(h http.HandlerFunc, roles ...string) http.Handler {
		var handler http.Handler = h
		if authn == nil {
			return handler
		}
		if len(roles) > 0 {
			handler = auth.RequireRole(roles...)(handler)
		}
		return authn.Handler(handler)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HandleHealth)

	mux.Handle("POST /api/v1/composites/image", protect(s.HandleImageComposite))
	mux.Handle("POST /api/v1/composites/graph", protect(s.HandleGraphComposite))

	mux.Handle("POST /api/v1/jobs", protect(s.HandleCreateJob))
	mux.Handle("GET /api/v1/jobs", protect(s.HandleListJobs))
	mux.Handle("GET /api/v1/jobs/{id}", protect(s.HandleGetJob))
	mux.Handle("GET /api/v1/jobs/{id}/graph", protect(s.HandleGetJobGraph))
	mux.Handle("GET /api/v1/jobs/{id}/events", protect(s.HandleJobEvents))
	mux.Handle("DELETE /api/v1/jobs/{id}", protect(s.HandleDeleteJob, auth.RoleOperator))

	return Chain(mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware,
	)
}
