// Command upstream is a demo tenant backend for local runs of the gateway.
package main

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/HanTheDev/tenant-edge-gateway/internal/observability/logger"
)

func main() {
	log := logger.Init(logger.Config{Env: "dev", ServiceName: "demo-upstream"})
	defer log.Sync()

	port := os.Getenv("UPSTREAM_PORT")
	if port == "" {
		port = "4000"
	}

	log.Info("Upstream starting", zap.String("port", port))
	if err := http.ListenAndServe(":"+port, newRouter(log)); err != nil {
		log.Fatal("Upstream failed", zap.Error(err))
	}
}

func newRouter(log *zap.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "upstream ok"})
	}).Methods("GET")

	r.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"orders": []string{"order1", "order2"}})
	}).Methods("GET")

	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"message":   "Hello from test backend!",
			"path":      r.URL.Path,
			"method":    r.Method,
			"requestId": r.Header.Get("X-Request-ID"),
			"headers":   r.Header,
		})
	})

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			log.Info("Received request", logger.Method(req.Method), logger.Path(req.URL.Path))
			next.ServeHTTP(w, req)
		})
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
