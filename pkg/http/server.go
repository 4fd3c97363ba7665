// Package http holds the HTTP server used by Metron: the quota status
// report plus the write-path check endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	http_pprof "net/http/pprof"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/metron-io/metron/pkg/enforce"
	"github.com/metron-io/metron/pkg/quota"
)

const (
	forceShutdownTime = 10 * time.Second
	JSONContentType   = "application/json"
	NoLimitText       = "no limit"
)

type Server struct {
	Store *quota.Store
	Gate  *enforce.Gate
	// Scope is used when a request does not name one.
	Scope string
}

// Serve serves all HTTP traffic on ctx, until that is cancelled.
func (s *Server) Serve(ctx context.Context, listenAddress string) {
	router := chi.NewRouter()
	router.Mount("/_health", ServeHealth())
	router.Mount("/internal/_pprof/", ServePPRof())
	// Internal service, respond only on a designated "internal" endpoint.
	router.Mount("/internal/api/v1", s.ServeREST())
	server := &http.Server{
		Addr:    listenAddress,
		Handler: router,
	}

	// termCtx is the context for stopping the server.
	termCtx, _ := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed to listen on %s: %v\n", listenAddress, err)
		}
	}()

	go func() {
		done := termCtx.Done()
		if done == nil {
			return // Never cancelled
		}
		<-done
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("server failed to shut down: %v", err)
			time.Sleep(forceShutdownTime)
			os.Exit(1)
		}
		os.Exit(0)
	}()
}

func ServeHealth() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "alive!")
	})
}

// StatusRow is one entity in the quota status report.  LimitBytes is null
// when no limit is configured.
type StatusRow struct {
	Entity     string `json:"entity"`
	UsedBytes  int64  `json:"used_bytes"`
	LimitBytes *int64 `json:"limit_bytes"`
	Used       string `json:"used"`
	Limit      string `json:"limit"`
}

func statusRow(e quota.Entry) StatusRow {
	row := StatusRow{
		Entity:    e.Entity,
		UsedBytes: e.UsedBytes,
		Used:      humanize.IBytes(uint64(e.UsedBytes)),
		Limit:     NoLimitText,
	}
	if e.LimitBytes != quota.NoLimit {
		limitBytes := e.LimitBytes
		row.LimitBytes = &limitBytes
		row.Limit = humanize.IBytes(uint64(limitBytes))
	}
	return row
}

// CheckWriteRequest asks whether a logical write operation may proceed.
type CheckWriteRequest struct {
	Scope   string                `json:"scope,omitempty"`
	Targets []enforce.WriteTarget `json:"targets"`
}

// CheckExtendRequest asks whether a physical extension may proceed.
type CheckExtendRequest struct {
	Scope  string `json:"scope,omitempty"`
	Handle string `json:"handle"`
}

// CheckResponse is the outcome of either check.
type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func (s *Server) ServeREST() http.Handler {
	router := chi.NewRouter()
	router.Get("/quota/status", func(w http.ResponseWriter, r *http.Request) {
		scope := r.URL.Query().Get("scope")
		if scope == "" {
			scope = s.Scope
		}
		rows := make([]StatusRow, 0)
		for _, e := range s.Store.Enumerate(scope) {
			rows = append(rows, statusRow(e))
		}
		writeJSON(w, http.StatusOK, struct {
			Scope   string      `json:"scope"`
			Records []StatusRow `json:"records"`
		}{scope, rows})
	})
	router.Post("/check/write", func(w http.ResponseWriter, r *http.Request) {
		var req CheckWriteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}
		if req.Scope == "" {
			req.Scope = s.Scope
		}
		s.writeDecision(w, s.Gate.CheckWrite(req.Scope, req.Targets))
	})
	router.Post("/check/extend", func(w http.ResponseWriter, r *http.Request) {
		var req CheckExtendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}
		if req.Scope == "" {
			req.Scope = s.Scope
		}
		s.writeDecision(w, s.Gate.CheckExtend(r.Context(), req.Scope, req.Handle))
	})
	return router
}

func (s *Server) writeDecision(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, CheckResponse{Allowed: true})
		return
	}
	// The gates have a single error path; anything else would be a bug.
	writeJSON(w, http.StatusInsufficientStorage, CheckResponse{Allowed: false, Reason: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	encodedBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("[ERROR] %s while encoding %v", err, body)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header()["Content-Type"] = []string{JSONContentType}
	w.WriteHeader(status)
	if _, err := w.Write(encodedBody); err != nil {
		log.Printf("[ERROR] %s while writing %d-byte response", err, len(encodedBody))
	}
}

func ServePPRof() http.Handler {
	router := chi.NewRouter()
	router.Get("/", http_pprof.Index)
	for _, profile := range pprof.Profiles() {
		name := profile.Name()
		handler := http_pprof.Handler(name)
		router.Handle("/"+name, handler)
	}
	router.Get("/cmdline", http_pprof.Cmdline)
	router.Get("/profile", http_pprof.Profile)
	router.Get("/symbol", http_pprof.Symbol)
	router.Get("/trace", http_pprof.Trace)

	return router
}
