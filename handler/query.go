package handler

import (
	"net/http"

	"github.com/stevemurr/itable/executor"
	"github.com/stevemurr/itable/query"
)

type queryResponse struct {
	Statement string         `json:"statement"`
	Bindings  map[string]any `json:"bindings"`
	Names     []string       `json:"names"`
	*executor.Result
}

func (h *Handler) queryCollection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filters []query.FilterSpec `json:"filters"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	stmt, res, err := h.catalog.Query(r.Context(), r.PathValue("collection"), query.Filters(req.Filters))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Statement: stmt.Text,
		Bindings:  stmt.Bindings,
		Names:     stmt.Names,
		Result:    res,
	})
}

func (h *Handler) buildQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base    string             `json:"base"`
		Filters []query.FilterSpec `json:"filters"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	stmt, err := query.New(req.Base).Build(query.Filters(req.Filters))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if stmt.Names == nil {
		stmt.Names = []string{}
	}
	writeJSON(w, http.StatusOK, stmt)
}
