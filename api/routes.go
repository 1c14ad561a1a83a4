package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	rh "github.com/coreybb/datapusher/route-handlers"
	"github.com/coreybb/datapusher/webhooks"
	"github.com/coreybb/datapusher/webutil"
)

const (
	accountsBasePath     = "/accounts"
	destinationsBasePath = "/destinations"
	serverBasePath       = "/server"
	incomingDataSubPath  = "/incoming_data"
	requestTimeout       = 60 * time.Second
)

// RouteOptions carries the optional parts of the router.
type RouteOptions struct {
	RateLimiter    *TokenRateLimiter // nil disables rate limiting of incoming data
	MetricsHandler http.Handler      // nil disables /metrics
}

func SetupRoutes(
	accountHandler *rh.AccountHandler,
	destinationHandler *rh.DestinationHandler,
	incomingDataHandler *webhooks.IncomingDataHandler,
	opts RouteOptions,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	configureAccountRoutes(r, accountHandler, destinationHandler)
	configureDestinationRoutes(r, destinationHandler)
	configureServerRoutes(r, incomingDataHandler, opts.RateLimiter)

	r.Get("/healthz", handleHealthCheck)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	return r
}

func pathWithParam(basePath string, paramName string) string {
	return basePath + "/{" + paramName + "}"
}

// --- Account Routes ---
func configureAccountRoutes(r chi.Router, accountHandler *rh.AccountHandler, destinationHandler *rh.DestinationHandler) {
	r.Route(accountsBasePath, func(r chi.Router) {
		r.Get("/", webutil.MakeHandler(accountHandler.HandleGetAccounts))
		r.Post("/", webutil.MakeHandler(accountHandler.HandleCreateAccount))
		r.Route(pathWithParam("", rh.ParamAccountID), func(r chi.Router) {
			r.Get("/", webutil.MakeHandler(accountHandler.HandleGetAccount))
			r.Put("/", webutil.MakeHandler(accountHandler.HandleUpdateAccount))
			r.Delete("/", webutil.MakeHandler(accountHandler.HandleDeleteAccount))

			// Nested: destinations owned by the account
			r.Route(destinationsBasePath, func(r chi.Router) {
				r.Get("/", webutil.MakeHandler(destinationHandler.HandleGetAccountDestinations))
				r.Post("/", webutil.MakeHandler(destinationHandler.HandleCreateDestination))
			})
		})
	})
}

// --- Destination Routes ---
func configureDestinationRoutes(r chi.Router, handler *rh.DestinationHandler) {
	r.Route(pathWithParam(destinationsBasePath, rh.ParamDestinationID), func(r chi.Router) {
		r.Get("/", webutil.MakeHandler(handler.HandleGetDestination))
		r.Put("/", webutil.MakeHandler(handler.HandleUpdateDestination))
		r.Delete("/", webutil.MakeHandler(handler.HandleDeleteDestination))
	})
}

// --- Server Routes (inbound data) ---
func configureServerRoutes(r chi.Router, handler *webhooks.IncomingDataHandler, limiter *TokenRateLimiter) {
	r.Route(serverBasePath, func(r chi.Router) {
		r.With(RateLimitByAccount(limiter, handler.Service, webutil.HeaderAppToken)).
			Post(incomingDataSubPath, webutil.MakeHandler(handler.HandleIncomingData))
	})
}

// handleHealthCheck responds to a health check request.
func handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(webutil.HeaderContentType, webutil.ContentTypeTextPlainUTF8)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
