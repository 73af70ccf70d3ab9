// Package handler provides the HTTP handlers for the itable server.
package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/spaolacci/murmur3"

	"github.com/stevemurr/itable/catalog"
	"github.com/stevemurr/itable/errs"
	"github.com/stevemurr/itable/schema"
	"github.com/stevemurr/itable/table"
)

// Handler holds the server dependencies and registers routes.
type Handler struct {
	catalog *catalog.Catalog
	mux     *http.ServeMux
}

// New creates a Handler and wires up all routes.
func New(c *catalog.Catalog) *Handler {
	h := &Handler{catalog: c, mux: http.NewServeMux()}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /", h.root)
	h.mux.HandleFunc("GET /health", h.health)

	// --- Schema endpoints ---
	h.mux.HandleFunc("GET /schemas", h.listSchemas)
	h.mux.HandleFunc("GET /schemas/{collection}", h.getSchema)
	h.mux.HandleFunc("PUT /schemas/{collection}", h.putSchema)
	h.mux.HandleFunc("DELETE /schemas/{collection}", h.deleteSchema)

	// --- Record endpoints ---
	h.mux.HandleFunc("GET /collections", h.listCollections)
	h.mux.HandleFunc("GET /collections/{collection}/records", h.scanRecords)
	h.mux.HandleFunc("POST /collections/{collection}/records", h.insertRecord)
	h.mux.HandleFunc("GET /collections/{collection}/records/{key...}", h.getRecord)
	h.mux.HandleFunc("PUT /collections/{collection}/records/{key...}", h.replaceRecord)
	h.mux.HandleFunc("DELETE /collections/{collection}/records/{key...}", h.deleteRecord)
	h.mux.HandleFunc("POST /collections/{collection}/validate", h.validateRecords)

	// --- Query endpoints ---
	h.mux.HandleFunc("POST /collections/{collection}/query", h.queryCollection)
	h.mux.HandleFunc("POST /query/build", h.buildQuery)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch errs.GetCode(err) {
	case errs.CodeShapeViolation:
		return http.StatusUnprocessableEntity
	case errs.CodeDuplicateKey, errs.CodeCollectionExists:
		return http.StatusConflict
	case errs.CodeCollectionNotFound, errs.CodeRecordNotFound:
		return http.StatusNotFound
	}
	switch errs.GetCategory(err) {
	case errs.CategorySchema, errs.CategoryQuery:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeErr writes err with its code and details merged into the body, so
// a shape violation reports every violation in one response.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := map[string]any{"detail": err.Error()}
	var e *errs.Error
	if errors.As(err, &e) {
		body["detail"] = e.Message
		body["code"] = e.Code
		for k, v := range e.Details {
			body[k] = v
		}
	}
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s (request %s): %v", r.Method, r.URL.Path, RequestIDFrom(r.Context()), err)
	}
	writeJSON(w, status, body)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	// Only match exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "itable",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- schema endpoints ----------

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	schemas := h.catalog.Schemas()
	docs := make(map[string]map[string]any, len(schemas))
	for name, s := range schemas {
		docs[name] = s.Document()
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	s, err := h.catalog.Schema(r.PathValue("collection"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Document())
}

func (h *Handler) putSchema(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	defer r.Body.Close()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	s, err := h.catalog.ParseSchema(raw)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	created, err := h.catalog.PutSchema(collection, s)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, s.Document())
}

func (h *Handler) deleteSchema(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if err := h.catalog.Drop(collection); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "collection": collection})
}

// ---------- record endpoints ----------

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.catalog.Collections())
}

func (h *Handler) scanRecords(w http.ResponseWriter, r *http.Request) {
	seq, err := h.catalog.Scan(r.PathValue("collection"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	records := []schema.Record{}
	for rec := range seq {
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, records)
}

type insertResponse struct {
	Position int        `json:"position"`
	Key      schema.Key `json:"key"`
}

func writeResult(w http.ResponseWriter, r *http.Request, status int, res table.InsertResult) {
	if err := res.Err(); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, status, insertResponse{Position: res.Position, Key: res.Key})
}

func (h *Handler) insertRecord(w http.ResponseWriter, r *http.Request) {
	var rec schema.Record
	if err := readJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := h.catalog.Insert(r.PathValue("collection"), rec)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeResult(w, r, http.StatusCreated, res)
}

// pathKey parses the {key...} path segments into a key of collection.
func (h *Handler) pathKey(r *http.Request) (schema.Key, error) {
	s, err := h.catalog.Schema(r.PathValue("collection"))
	if err != nil {
		return nil, err
	}
	parts, err := keySegments(r)
	if err != nil {
		return nil, err
	}
	return s.ParseKey(parts)
}

// keySegments splits the escaped {key...} tail on "/" before unescaping,
// so a key part may carry an encoded slash (%2F).
func keySegments(r *http.Request) ([]string, error) {
	// "", "collections", name, "records", key...
	fields := strings.SplitN(r.URL.EscapedPath(), "/", 5)
	if len(fields) < 5 {
		return strings.Split(r.PathValue("key"), "/"), nil
	}
	parts := strings.Split(fields[4], "/")
	for i, p := range parts {
		u, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		parts[i] = u
	}
	return parts, nil
}

func (h *Handler) keyOrError(w http.ResponseWriter, r *http.Request) (schema.Key, bool) {
	key, err := h.pathKey(r)
	if err == nil {
		return key, true
	}
	if errs.GetCode(err) == errs.CodeCollectionNotFound {
		writeErr(w, r, err)
	} else {
		writeError(w, http.StatusBadRequest, "invalid key: "+err.Error())
	}
	return nil, false
}

func recordNotFound(collection string, key schema.Key) error {
	return errs.Newf(errs.CategoryCatalog, errs.CodeRecordNotFound,
		"no record with key %s in %q", key, collection)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	key, ok := h.keyOrError(w, r)
	if !ok {
		return
	}
	rec, found, err := h.catalog.Get(collection, key)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if !found {
		writeErr(w, r, recordNotFound(collection, key))
		return
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	etag := fmt.Sprintf(`"%016x"`, murmur3.Sum64(buf.Bytes()))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) replaceRecord(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	key, ok := h.keyOrError(w, r)
	if !ok {
		return
	}
	var rec schema.Record
	if err := readJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, found, err := h.catalog.Replace(collection, key, rec)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if !found {
		writeErr(w, r, recordNotFound(collection, key))
		return
	}
	writeResult(w, r, http.StatusOK, res)
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	key, ok := h.keyOrError(w, r)
	if !ok {
		return
	}
	removed, err := h.catalog.Remove(collection, key)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if !removed {
		writeErr(w, r, recordNotFound(collection, key))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "key": key})
}

type validateResponse struct {
	Valid      bool               `json:"valid"`
	Violations []schema.Violation `json:"violations"`
}

func newValidateResponse(res schema.Result) validateResponse {
	vs := res.Violations
	if vs == nil {
		vs = []schema.Violation{}
	}
	return validateResponse{Valid: res.Valid(), Violations: vs}
}

// validateRecords checks one record, or an array of records, without
// storing anything.
func (h *Handler) validateRecords(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	var body any
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	switch v := body.(type) {
	case map[string]any:
		res, err := h.catalog.Validate(collection, v)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newValidateResponse(res))
	case []any:
		out := make([]validateResponse, len(v))
		for i, item := range v {
			rec, ok := item.(map[string]any)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d is not an object", i))
				return
			}
			res, err := h.catalog.Validate(collection, rec)
			if err != nil {
				writeErr(w, r, err)
				return
			}
			out[i] = newValidateResponse(res)
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeError(w, http.StatusBadRequest, "body must be a record or an array of records")
	}
}
