package router

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/tinoosan/fanfetch/api/v1"
	"github.com/tinoosan/fanfetch/internal/auth"
	"github.com/tinoosan/fanfetch/internal/service"
)

// New sets up the application routes and required middleware.
func New(logger *slog.Logger, fetchSvc service.Fetch, token string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Error("write healthz response", "err", err)
		}
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h := v1.NewFetchHandler(logger, fetchSvc)

	r.Use(v1.RequestID)
	r.Use(h.Log)
	r.Use(auth.Middleware(token))

	api := r.PathPrefix("/v1").Subrouter()

	// GETs
	get := api.Methods("GET").Subrouter()
	get.HandleFunc("/cache", h.GetCache)
	get.HandleFunc("/cachedir", h.GetCacheDir)
	get.HandleFunc("/history", h.GetHistory)
	get.HandleFunc("/fetches/stream", h.StreamFetch)

	// POSTs
	post := api.Methods("POST").Subrouter()
	post.Handle("/fetches", v1.MiddlewareFetchValidation(http.HandlerFunc(h.PostFetch)))
	post.Handle("/fetches/clear", v1.MiddlewareClearValidation(http.HandlerFunc(h.PostClear)))
	post.HandleFunc("/reset", h.PostReset)

	// DELETEs
	api.HandleFunc("/fetches", h.DeleteFetch).Methods("DELETE")

	return r
}
