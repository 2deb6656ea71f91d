package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimid "github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/skiffhost/engine/internal/api/handlers"
	mw "github.com/skiffhost/engine/internal/api/middleware"
)

type Dependencies struct {
	ServiceToken       string
	ProjectsHandler    *handlers.ProjectsHandler
	DeploymentsHandler *handlers.DeploymentsHandler
	ResourcesHandler   *handlers.ResourcesHandler
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()

	// Built-in middleware
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logging)
	r.Use(mw.CORS)
	r.Use(mw.RateLimit(10, 20))
	r.Use(chimid.Compress(5))

	// Health endpoints
	hh := handlers.NewHealthHandler()
	r.Get("/healthz", hh.Liveness)
	r.Get("/readyz", hh.Readiness)

	// Swagger documentation
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/docs/doc.json"),
	))

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(mw.ServiceAuth(dep.ServiceToken))

		// Projects
		api.Route("/projects", func(pr chi.Router) {
			pr.Get("/", dep.ProjectsHandler.List)
			pr.Post("/", dep.ProjectsHandler.Create)
			pr.Get("/{id}", dep.ProjectsHandler.Get)
			pr.Get("/{id}/resources", dep.ResourcesHandler.ListByProject)
			pr.Get("/{id}/deployments", dep.DeploymentsHandler.ListByProject)
			pr.Post("/{id}/deployments", dep.DeploymentsHandler.Create)
		})

		// Deployments
		api.Route("/deployments", func(dr chi.Router) {
			dr.Get("/{id}", dep.DeploymentsHandler.Get)
		})
	})

	return r
}
