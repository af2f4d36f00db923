package main

import (
	"html/template"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/permitdesk/contracts"
)

// contractName is the only contract served under /openapi.
const contractName = "verification"

var swaggerUI = template.Must(template.New("docs").Parse(`<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}}</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({ url: {{.URL}}, dom_id: '#swagger-ui', deepLinking: true });
    </script>
  </body>
</html>`))

func registerDocsRoutes(router chi.Router, spec *openapi3.T, logger *zap.Logger) {
	title := "PermitDesk API"
	if spec.Info != nil && spec.Info.Title != "" {
		title = spec.Info.Title
	}

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		err := swaggerUI.Execute(w, struct{ Title, URL string }{title, "/openapi/" + contractName + ".json"})
		if err != nil {
			logger.Error("render docs page", zap.Error(err))
		}
	})
	router.Get("/openapi/{file}", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "file") {
		case contractName + ".json":
			b, err := spec.MarshalJSON()
			if err != nil {
				logger.Error("marshal openapi json", zap.Error(err))
				http.Error(w, "failed to marshal OpenAPI", http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(b)
		case contractName + ".yaml":
			w.Header().Set("Content-Type", "application/yaml")
			_, _ = w.Write(contracts.VerificationYAML)
		default:
			http.NotFound(w, r)
		}
	})
}
