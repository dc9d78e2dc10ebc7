// Package debugapi mounts a read-only httprouter-based HTTP surface
// over the coordinator's live state, for operational introspection.
package debugapi

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/Kryndex/darkwallet/registry"
)

// Handler returns an http.Handler mounting GET /sessions, GET /tasks,
// and GET /healthz against the given registry and task lister.
func Handler(reg *registry.Registry, tasks func() int) http.Handler {
	r := httprouter.New()
	r.GET("/sessions", sessionsHandler(reg))
	r.GET("/tasks", tasksHandler(tasks))
	r.GET("/healthz", healthzHandler())
	return r
}

func sessionsHandler(reg *registry.Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]interface{}{
			"count": reg.Len(),
			"ids":   reg.Snapshot(),
		})
	}
}

func tasksHandler(tasks func() int) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]interface{}{"pending": tasks()})
	}
}

func healthzHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
