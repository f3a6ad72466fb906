package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/cors"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/identity"
	"github.com/example/taxi-dispatch/internal/notify"
)

// Deps are the services the API is built on. Clients learn every change by
// polling these endpoints; the server never pushes.
type Deps struct {
	Users       *identity.Service
	Dispatch    *dispatch.Coordinator
	Feed        notify.Feed
	Logger      *slog.Logger
	NotifyLimit int
	CORSOrigins []string
}

type Server struct {
	users       *identity.Service
	dispatch    *dispatch.Coordinator
	feed        notify.Feed
	logger      *slog.Logger
	notifyLimit int
	mux         *mux.Router
	handler     http.Handler
}

func NewServer(d Deps) *Server {
	if d.NotifyLimit <= 0 {
		d.NotifyLimit = notify.DefaultLimit
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}
	s := &Server{
		users:       d.Users,
		dispatch:    d.Dispatch,
		feed:        d.Feed,
		logger:      d.Logger.With("component", "http"),
		notifyLimit: d.NotifyLimit,
		mux:         mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	// CORS sits outside the router so preflight requests never hit method matching.
	s.handler = cors.Handler(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", userIDHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})(s.mux)
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auth", s.handleAuth).Methods("POST")
	api.HandleFunc("/tariffs", s.handleTariffs).Methods("GET")

	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/searching", s.handleListSearching).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/{event:accept|arrive|start|complete}", s.handleOrderEvent).Methods("POST")

	api.HandleFunc("/drivers/{id:[0-9]+}/status", s.handleSetDriverStatus).Methods("PUT")
	api.HandleFunc("/drivers/{id:[0-9]+}/status", s.handleGetDriverStatus).Methods("GET")

	api.HandleFunc("/notifications", s.handleNotifications).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }
