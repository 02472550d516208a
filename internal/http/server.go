package http

import (
	"log/slog"
	"net/http"

	"P2PEscrow/internal/events"
	"P2PEscrow/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

type ServerOptions struct {
	Broker  *events.Broker
	Metrics *metrics.Metrics
	Limiter *RateLimiter
	Logger  *slog.Logger
}

func NewServer(handler *Handler, opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(opts.Metrics.Middleware)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	r.Route("/p2p", func(r chi.Router) {
		if opts.Broker != nil {
			r.Get("/events", events.Handler(opts.Broker, opts.Logger))
		}
		r.Group(func(r chi.Router) {
			if opts.Limiter != nil {
				r.Use(opts.Limiter.Middleware)
			}
			r.Get("/payment-methods", handler.PaymentMethods)
			r.Post("/orders", handler.CreateOrder)
			r.Get("/orders", handler.ListOrders)
			r.Route("/orders/{orderId}", func(r chi.Router) {
				r.Get("/", handler.GetOrder)
				r.Post("/lock", handler.RequestLock)
				r.Post("/payment", handler.BeginPayment)
				r.Post("/cancel", handler.Cancel)
				r.Get("/escrow", handler.GetEscrow)
				r.Post("/proof", handler.SubmitProof)
				r.Get("/verifications", handler.ListVerifications)
				r.Post("/verify", handler.Verify)
				r.Post("/reject", handler.Reject)
				r.Post("/dispute", handler.Dispute)
				r.Post("/resolve", handler.Resolve)
			})
		})
	})

	return &Server{Router: r}
}
