package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/honeynil/PromoPaymentService/internal/handler"
	"github.com/honeynil/PromoPaymentService/internal/infrastructure/auth"
	service "github.com/honeynil/PromoPaymentService/internal/services"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

func init() {
	prometheus.MustRegister(RequestCounter, RequestDuration)
}

// metricsMiddleware labels by route template so path ids do not explode
// cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		if recorder.status == 0 {
			recorder.status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, endpoint, strconv.Itoa(recorder.status)).Inc()
		RequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
	})
}

func SetupRouter(h *handler.Handler, jwtSecret string) http.Handler {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	h.RegisterPublicRoutes(r)

	authed := auth.AuthMiddleware(jwtSecret)

	staff := r.PathPrefix("/admin").Subrouter()
	staff.Use(authed, auth.RequireRole(service.RoleAgent, service.RoleAdmin))
	h.RegisterStaffRoutes(staff)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(authed, auth.RequireRole(service.RoleAdmin))
	h.RegisterAdminRoutes(admin)

	protected := r.PathPrefix("/").Subrouter()
	protected.Use(authed)
	h.RegisterProtectedRoutes(protected)

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}
