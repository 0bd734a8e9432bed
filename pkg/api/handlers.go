package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/timewave-computer/almanac/pkg/chainsync"
	"github.com/timewave-computer/almanac/pkg/event"
	"github.com/timewave-computer/almanac/pkg/storage"
	"github.com/timewave-computer/almanac/pkg/wsengine"
)

// Handlers answers the REST surface of §4.10/§6 over a shared storage.Storage, the
// teacher's one-handler-struct-per-resource-group shape (pkg/server/*_handlers.go)
// generalized to Almanac's contract/event/sync/ws resources.
type Handlers struct {
	store   storage.Storage
	tracker *chainsync.Tracker
	hub     *wsengine.Hub
	logger  *log.Logger
}

// NewHandlers builds a Handlers constructed with New<X>Handlers's argument shape,
// matching the teacher's New<X>Handlers(storage, logger) constructors.
func NewHandlers(store storage.Storage, tracker *chainsync.Tracker, hub *wsengine.Hub, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.New(log.Writer(), "[api] ", log.LstdFlags)
	}
	return &Handlers{store: store, tracker: tracker, hub: hub, logger: logger}
}

// Routes registers the handler set onto mux, under the §6 REST paths.
func (h *Handlers) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/contract/", h.handleContract)
	mux.HandleFunc("/events", h.handleEvents)
	mux.HandleFunc("/sync/", h.handleSync)
	mux.HandleFunc("/ws/stats", h.handleWSStats)
	mux.HandleFunc("/aggregate", h.handleAggregate)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, env Envelope) {
	if env.Metadata == nil {
		env.Metadata = &Metadata{Timestamp: time.Now().UTC()}
	} else if env.Metadata.Timestamp.IsZero() {
		env.Metadata.Timestamp = time.Now().UTC()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Printf("encode response: %v", err)
	}
}

// writeError maps an error to an HTTP status per §6: NotFound->404, Validation->400,
// Unauthorized->401, else 500.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var serr *storage.Error
	if errors.As(err, &serr) {
		switch serr.Kind {
		case storage.KindNotFound:
			status = http.StatusNotFound
		case storage.KindValidation, storage.KindInvalidData:
			status = http.StatusBadRequest
		case storage.KindUnauthorized:
			status = http.StatusUnauthorized
		}
	}
	h.writeJSON(w, status, Envelope{Success: false, Error: err.Error()})
}

// handleContract answers /contract/{addr}/{info|state|transactions|events|logs},
// /contract/{addr}/call/{fn} and /contract/{addr}/execute/{fn}. Only the read-side
// views the core can answer from C2 are implemented (info/state/transactions/events/
// logs); call/execute require an execution engine the core does not own (§1 Non-goals:
// "does not execute contracts").
func (h *Handlers) handleContract(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/contract/")
	if len(parts) < 2 {
		h.writeJSON(w, http.StatusBadRequest, Envelope{Success: false, Error: "expected /contract/{addr}/{view}"})
		return
	}
	addr, view := parts[0], parts[1]

	switch view {
	case "call", "execute":
		h.writeJSON(w, http.StatusNotImplemented, Envelope{
			Success: false,
			Error:   "contract execution is out of the indexing core's scope (§1 Non-goals)",
		})
		return
	case "info", "state", "transactions", "events", "logs":
		filter := event.Filter{AddressesInclude: []string{addr}}
		applyQueryParams(&filter, r.URL.Query())
		events, err := h.store.GetEvents(r.Context(), []event.Filter{filter})
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: events})
	default:
		h.writeJSON(w, http.StatusNotFound, Envelope{Success: false, Error: "unknown contract view: " + view})
	}
}

// handleEvents answers a general event query: from_block, to_block, event_name, chain,
// page, limit, topics (mapped onto AddressesInclude, matching the teacher's "topics"
// query-param naming for log filters).
func (h *Handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	var filter event.Filter
	applyQueryParams(&filter, r.URL.Query())

	events, err := h.store.GetEvents(r.Context(), []event.Filter{filter})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: events})
}

// handleSync answers /sync/{chain}/health (supplemented per SPEC_FULL §4).
func (h *Handlers) handleSync(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/sync/")
	if len(parts) < 2 || parts[1] != "health" {
		h.writeJSON(w, http.StatusNotFound, Envelope{Success: false, Error: "expected /sync/{chain}/health"})
		return
	}
	if h.tracker == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Error: "sync tracker not configured"})
		return
	}
	report, err := h.tracker.Health(event.ChainID(parts[0]))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: report})
}

// handleWSStats answers /ws/stats (supplemented per SPEC_FULL §4).
func (h *Handlers) handleWSStats(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, Envelope{Success: false, Error: "websocket engine not configured"})
		return
	}
	h.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: h.hub.Stats()})
}

// handleAggregate answers POST /aggregate with a JSON-encoded AggregationConfig body.
func (h *Handlers) handleAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeJSON(w, http.StatusMethodNotAllowed, Envelope{Success: false, Error: "expected POST"})
		return
	}
	var cfg AggregationConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		h.writeJSON(w, http.StatusBadRequest, Envelope{Success: false, Error: "malformed aggregation config"})
		return
	}
	result, err := Aggregate(r.Context(), h.store, cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, Envelope{Success: true, Data: result})
}

func splitPath(path, prefix string) []string {
	rest := path
	if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
		rest = path[len(prefix):]
	}
	var parts []string
	cur := ""
	for _, c := range rest {
		if c == '/' {
			if cur != "" {
				parts = append(parts, cur)
				cur = ""
			}
			continue
		}
		cur += string(c)
	}
	if cur != "" {
		parts = append(parts, cur)
	}
	return parts
}

// applyQueryParams maps the §6 query parameters (from_block, to_block, event_name,
// page, limit, topics) onto a Filter.
func applyQueryParams(f *event.Filter, q map[string][]string) {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if chain := get("chain"); chain != "" {
		f.Chains = []event.ChainID{event.ChainID(chain)}
	}
	if name := get("event_name"); name != "" {
		f.EventTypesInclude = []string{name}
	}
	var from, to uint64
	haveFrom, haveTo := false, false
	if v := get("from_block"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			from, haveFrom = n, true
		}
	}
	if v := get("to_block"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			to, haveTo = n, true
		}
	}
	if haveFrom || haveTo {
		if !haveTo {
			to = ^uint64(0)
		}
		f.BlockRanges = []event.BlockRange{{Start: from, End: to}}
	}
	if topics, ok := q["topics"]; ok {
		f.AddressesInclude = append(f.AddressesInclude, topics...)
	}
	if v := get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && f.Limit > 0 {
			f.Offset = (n - 1) * f.Limit
		}
	}
}
