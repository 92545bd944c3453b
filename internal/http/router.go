package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps the standard library mux; the route surface is small
// enough that a third-party router buys nothing.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler supports the http.Handler interface (pprof etc).
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterDataAccessRoutes researcher-facing bulk download API.
func (r *Router) RegisterDataAccessRoutes(h *DataAccessHandler) {
	r.Handle("/get-data/v1", postOnly(h.GetData))
	r.Handle("/get-studies/v1", postOnly(h.GetStudies))
}

// RegisterMobileRoutes device-facing endpoints.
func (r *Router) RegisterMobileRoutes(h *MobileHandler) {
	r.Handle("/upload/v1", postOnly(h.Upload))
	r.Handle("/push-notification-report/v1", postOnly(h.NotificationReport))
	r.Handle("/set-fcm-token/v1", postOnly(h.SetFCMToken))
	r.Handle("/mobile-heartbeat/v1", postOnly(h.Heartbeat))
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}
