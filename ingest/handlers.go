package ingest

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/hazyhaar/errtrack/report"
)

// maxEnvelopeBytes bounds an incoming batch body.
const maxEnvelopeBytes = 1 << 20 // 1 MB

// Handler returns the HTTP handler that receives batch envelopes from
// trackers and writes them to the Store.
//
// Expected request: POST with application/json body `{"errors":[...]}`.
// Returns 204 on success, 405 for wrong method, 400 for bad payload.
//
// Mount on the collector:
//
//	r.Post("/api/errors", ingest.Handler(store))
func Handler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxEnvelopeBytes))
		if err != nil {
			http.Error(w, "read error", http.StatusBadRequest)
			return
		}

		var env report.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, "invalid JSON", http.StatusBadRequest)
			return
		}

		records := lo.Filter(env.Errors, func(rec *report.Record, _ int) bool {
			return rec != nil && rec.Message != ""
		})
		for _, rec := range records {
			store.RecordAsync(rec)
		}

		slog.Debug("error ingest", "received", len(env.Errors), "accepted", len(records))
		w.WriteHeader(http.StatusNoContent)
	}
}

// RecentHandler returns a GET handler listing the newest stored records as
// JSON. Query params: limit (1..500, default 50), source (exact match on
// the capture source).
func RecentHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		source := strings.TrimSpace(r.URL.Query().Get("source"))

		records, err := store.Recent(limit, source)
		if err != nil {
			slog.Error("error ingest: recent query", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(records)
	}
}

// RegisterMux registers the ingest routes on a standard ServeMux with
// explicit method+path patterns (Go 1.22+), for callers not using chi.
func RegisterMux(mux *http.ServeMux, basePath string, store *Store) {
	bp := strings.TrimRight(basePath, "/")
	mux.HandleFunc("POST "+bp, Handler(store))
	mux.HandleFunc("GET "+bp+"/recent", RecentHandler(store))
}
