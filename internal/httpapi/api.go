// Package httpapi is the HTTP surface of the editorial service. One route
// maps to one state-machine operation; the handlers translate the domain
// error taxonomy to status codes and never reorder it.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"scriptoria.org/internal/lifecycle"
	"scriptoria.org/internal/obs"
	"scriptoria.org/internal/precheck"
	"scriptoria.org/internal/production"
	"scriptoria.org/internal/stream"
)

// ReadyProbe reports whether the backing store is reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the wiring the API needs.
type Options struct {
	Lifecycle  *lifecycle.Service
	Precheck   *precheck.Service
	Production *production.Service
	Stream     *stream.Stream
	Ready      ReadyProbe
	Version    string
	// RateRPS/RateBurst configure the per-IP token bucket; zero disables.
	RateRPS   float64
	RateBurst int
}

// API is the HTTP layer.
type API struct {
	lifecycle  *lifecycle.Service
	precheck   *precheck.Service
	production *production.Service
	stream     *stream.Stream
	readyProbe ReadyProbe
	version    string
	rateRPS    float64
	rateBurst  int
}

func New(opts Options) *API {
	return &API{
		lifecycle:  opts.Lifecycle,
		precheck:   opts.Precheck,
		production: opts.Production,
		stream:     opts.Stream,
		readyProbe: opts.Ready,
		version:    opts.Version,
		rateRPS:    opts.RateRPS,
		rateBurst:  opts.RateBurst,
	}
}

// Handler assembles the middleware chain and the route table.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: false,
		MaxAge:           600,
	}))
	if a.rateRPS > 0 {
		r.Use(RateLimit(a.rateBurst, a.rateRPS))
	}
	r.Use(MaxBodyBytes(1 << 20))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/info", a.Info)
		r.Post("/auth/token", a.handleAuthToken)

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)

			r.Get("/stream", a.Stream)

			r.Route("/manuscripts", func(r chi.Router) {
				r.Post("/", a.createSubmission)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", a.getManuscript)
					r.Get("/transitions", a.listTransitions)

					r.Post("/precheck/assign-ae", a.assignAE)
					r.Post("/precheck/intake-revision", a.intakeRevision)
					r.Post("/precheck/technical", a.technicalCheck)
					r.Post("/precheck/academic", a.academicCheck)

					r.Post("/revision-request", a.requestRevision)
					r.Post("/resubmit", a.resubmit)
					r.Post("/decision", a.finalDecision)

					r.Post("/invoice/confirm", a.confirmInvoice)
					r.Post("/invoice/waive", a.waiveInvoice)

					r.Post("/production/advance", a.advanceProduction)
					r.Post("/production/revert", a.revertProduction)
					r.Post("/cycles", a.createCycle)
				})
			})

			r.Route("/cycles/{cycleID}", func(r chi.Router) {
				r.Get("/", a.getCycle)
				r.Post("/galley", a.uploadGalley)
				r.Post("/proofing", a.submitProofreading)
				r.Post("/layout-revision", a.beginLayoutRevision)
				r.Post("/approve", a.approveCycle)
			})
		})
	})

	return obs.Instrument(r)
}
