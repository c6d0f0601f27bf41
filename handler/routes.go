package handler

import (
	"github.com/go-chi/chi/v5"
)

// Mount registers the public API on r.
func Mount(r chi.Router, catalog *CatalogHandler, submissions *SubmissionHandler) {
	r.Get("/health", Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/geo", func(r chi.Router) {
			r.Get("/countries", catalog.Countries)
			r.Get("/states", catalog.States)
			r.Get("/cities", catalog.Cities)
		})
		r.Route("/surgeons", func(r chi.Router) {
			r.Get("/", catalog.Surgeons)
			r.Get("/{id}", catalog.Surgeon)
		})
		r.Post("/submissions", submissions.Create)
	})
}
