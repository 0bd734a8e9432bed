package api

import (
	"log"
	"net/http"

	"github.com/graph-gophers/graphql-go/relay"

	"github.com/timewave-computer/almanac/pkg/chainsync"
	"github.com/timewave-computer/almanac/pkg/storage"
	"github.com/timewave-computer/almanac/pkg/wsengine"
)

// NewMux builds the combined REST ("/contract", "/events", "/sync", "/ws/stats",
// "/aggregate") and GraphQL ("/graphql") surface over one storage.Storage, the shape
// §4.10 describes as sharing one query path into C2.
func NewMux(store storage.Storage, tracker *chainsync.Tracker, hub *wsengine.Hub, logger *log.Logger) (*http.ServeMux, error) {
	mux := http.NewServeMux()

	h := NewHandlers(store, tracker, hub, logger)
	h.Routes(mux)

	schema, err := NewSchema(store)
	if err != nil {
		return nil, err
	}
	mux.Handle("/graphql", &relay.Handler{Schema: schema})

	return mux, nil
}
