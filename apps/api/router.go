package main

import (
	"context"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	oapimiddleware "github.com/oapi-codegen/nethttp-middleware"
	"go.uber.org/zap"

	ownershandler "github.com/zenGate-Global/permitdesk/domains/owners/be/handler"
	verificationshandler "github.com/zenGate-Global/permitdesk/domains/verifications/be/handler"
	platformauth "github.com/zenGate-Global/permitdesk/platform/go/auth"
	"github.com/zenGate-Global/permitdesk/platform/go/httpapi"
	platformlogging "github.com/zenGate-Global/permitdesk/platform/go/logging"
	platformmiddleware "github.com/zenGate-Global/permitdesk/platform/go/middleware"
)

type routerConfig struct {
	Logger         *zap.Logger
	RequestTimeout time.Duration
	AllowedOrigins []string
	Auth           func(http.Handler) http.Handler
	Spec           *openapi3.T
	Owners         *ownershandler.Handler
	Verifications  *verificationshandler.Handler
	Metrics        http.Handler
	// Ready reports whether the store can serve traffic; nil means always ready.
	Ready func(context.Context) error
}

func newRouter(cfg routerConfig) http.Handler {
	rootRouter := chi.NewRouter()

	middlewares := []func(http.Handler) http.Handler{
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
	}
	if cfg.RequestTimeout > 0 {
		middlewares = append(middlewares, chimw.Timeout(cfg.RequestTimeout))
	}
	middlewares = append(middlewares, platformmiddleware.CORS(cfg.AllowedOrigins))
	rootRouter.Use(middlewares...)

	rootRouter.Use(platformlogging.RequestLogger(cfg.Logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, cfg.Logger).Warn("readiness check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	if cfg.Metrics != nil {
		rootRouter.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	// ---- Swagger UI + OpenAPI JSON (public) ----
	registerDocsRoutes(rootRouter, cfg.Spec, cfg.Logger)

	validator := newSpecValidator(cfg.Logger, cfg.Spec)

	apiRouter := chi.NewRouter()

	// Certificate validation is public: third parties hold only the certificate id and hash.
	apiRouter.Group(func(r chi.Router) {
		r.Use(validator)
		cfg.Verifications.RegisterPublicRoutes(r)
	})

	apiRouter.Group(func(r chi.Router) {
		r.Use(cfg.Auth)
		r.Use(platformmiddleware.RequestTrace)
		r.Use(validator)
		r.Use(platformauth.RequireRole(platformauth.DefaultRole))
		cfg.Owners.RegisterRoutes(r)
		cfg.Verifications.RegisterRoutes(r)
	})

	rootRouter.Mount("/api/v1", apiRouter)

	return rootRouter
}

// newSpecValidator builds oapi-codegen validator middleware for the contract. Contract
// violations are reported as problem details like every other client error.
func newSpecValidator(logger *zap.Logger, spec *openapi3.T) func(http.Handler) http.Handler {
	logSecuritySchemes(logger, spec)

	return oapimiddleware.OapiRequestValidatorWithOptions(spec, &oapimiddleware.Options{
		Options: openapi3filter.Options{
			AuthenticationFunc: platformmiddleware.ValidateAuthenticationViaSwagger,
		},
		ErrorHandler: func(w http.ResponseWriter, message string, statusCode int) {
			problemType := httpapi.ProblemTypeValidation
			switch statusCode {
			case http.StatusUnauthorized:
				problemType = httpapi.ProblemTypeUnauthorized
			case http.StatusForbidden:
				problemType = httpapi.ProblemTypeForbidden
			case http.StatusNotFound:
				problemType = httpapi.ProblemTypeNotFound
			}
			httpapi.WriteProblem(w, httpapi.NewProblem(http.StatusText(statusCode), message, problemType, statusCode, nil))
		},
	})
}

func logSecuritySchemes(logger *zap.Logger, spec *openapi3.T) {
	if spec.Components.SecuritySchemes == nil {
		spec.Components.SecuritySchemes = openapi3.SecuritySchemes{}
	}

	if _, ok := spec.Components.SecuritySchemes["bearerAuth"]; !ok {
		spec.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
			Value: &openapi3.SecurityScheme{
				Type:   "http",
				Scheme: "bearer",
			},
		}
		logger.Warn("injecting default bearerAuth security scheme")
	}

	names := make([]string, 0, len(spec.Components.SecuritySchemes))
	for name := range spec.Components.SecuritySchemes {
		names = append(names, name)
	}
	logger.Info("loaded security schemes", zap.Strings("names", names))
}
