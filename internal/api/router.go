package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tabwarden/tabwarden/internal/api/middleware"
	"github.com/tabwarden/tabwarden/internal/auth"
	"github.com/tabwarden/tabwarden/internal/services"
)

// NewRouter wires every ledger route.
func NewRouter(svc *services.LedgerService, authz auth.Authorizer, health HealthSource) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recover, middleware.Observe)

	ledger := NewLedgerHandler(svc, authz)
	healthHandler := NewHealthHandler(health)

	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Provisioning
	router.HandleFunc("/api/subjects", ledger.CreateSubject).Methods("POST")
	router.HandleFunc("/api/subjects/{subjectId}", ledger.GetSubject).Methods("GET")

	s := router.PathPrefix("/api/subjects/{subjectId}").Subrouter()

	// Agent telemetry
	s.HandleFunc("/usage", ledger.ReportUsage).Methods("POST")
	s.HandleFunc("/searches", ledger.ReportSearch).Methods("POST")
	s.HandleFunc("/incognito", ledger.ReportIncognito).Methods("POST")
	s.HandleFunc("/heartbeat", ledger.Heartbeat).Methods("POST")
	s.HandleFunc("/activate", ledger.Activate).Methods("POST")
	s.HandleFunc("/disconnect", ledger.Disconnect).Methods("POST")
	s.HandleFunc("/blocked", ledger.CheckBlocked).Methods("GET")

	// Guardian views and edits
	s.HandleFunc("/usage", ledger.GetUsage).Methods("GET")
	s.HandleFunc("/usage/{domain}/category", ledger.SetCategory).Methods("PUT")
	s.HandleFunc("/alerts", ledger.ListAlerts).Methods("GET")
	s.HandleFunc("/alerts", ledger.ClearAlerts).Methods("DELETE")
	s.HandleFunc("/blocks", ledger.ListBlocked).Methods("GET")
	s.HandleFunc("/blocks/{domain}", ledger.BlockDomain).Methods("PUT")
	s.HandleFunc("/blocks/{domain}", ledger.UnblockDomain).Methods("DELETE")
	s.HandleFunc("/activity", ledger.ListActivity).Methods("GET")

	return router
}
