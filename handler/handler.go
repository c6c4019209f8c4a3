// Package handler provides the HTTP CRUD handlers over the site's
// collections. Every mutation is a single store.Update transform.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stevemurr/fansite-store/ident"
	"github.com/stevemurr/fansite-store/resource"
	"github.com/stevemurr/fansite-store/store"
)

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store *store.Store
	log   *zap.SugaredLogger
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a Handler and wires up all routes.
func New(s *store.Store, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	h := &Handler{store: s, log: log, mux: http.NewServeMux(), now: time.Now}
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

	h.mux.HandleFunc("GET /api/collections", h.listCollections)

	// --- Generic resource endpoints ---
	h.mux.HandleFunc("GET /api/{collection}", h.withResource(h.list))
	h.mux.HandleFunc("GET /api/{collection}/{id}", h.withResource(h.get))
	h.mux.HandleFunc("GET /api/{collection}/slug/{slug}", h.withResource(h.getBySlug))
	h.mux.HandleFunc("POST /api/{collection}", h.withResource(h.create))
	h.mux.HandleFunc("PUT /api/{collection}/{id}", h.withResource(h.replace))
	h.mux.HandleFunc("DELETE /api/{collection}/{id}", h.withResource(h.remove))

	h.mux.HandleFunc("POST /api/news/{id}/views", h.addView)
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

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeStoreError maps store failures onto status codes.
func (h *Handler) writeStoreError(w http.ResponseWriter, collection string, err error) {
	var (
		decodeErr *store.DecodeError
		verr      *resource.ValidationError
	)
	switch {
	case errors.Is(err, store.ErrNoDocument):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.As(err, &decodeErr):
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("collection %q data is corrupt", collection))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request ended before the update was applied")
	default:
		h.log.Errorw("store error", "collection", collection, "error", err)
		writeError(w, http.StatusInternalServerError, "operation failed, data unchanged")
	}
}

func (h *Handler) stamp() string {
	return h.now().UTC().Format(time.RFC3339)
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
		"service": "Fansite Store",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- collection list ----------

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.Collections()
	if err != nil {
		h.writeStoreError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

// ---------- resource CRUD ----------

type resourceHandler func(w http.ResponseWriter, r *http.Request, res resource.Resource)

func (h *Handler) withResource(next resourceHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, ok := resource.Lookup(r.PathValue("collection"))
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown collection %q", r.PathValue("collection")))
			return
		}
		next(w, r, res)
	}
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request, res resource.Resource) {
	docs, err := h.store.Read(res.Collection)
	if err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request, res resource.Resource) {
	docs, err := h.store.Read(res.Collection)
	if err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}
	doc := docs.Find(r.PathValue("id"))
	if doc == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) getBySlug(w http.ResponseWriter, r *http.Request, res resource.Resource) {
	if res.SlugFrom == "" {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q has no slugs", res.Collection))
		return
	}
	docs, err := h.store.Read(res.Collection)
	if err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}
	slug := r.PathValue("slug")
	for _, doc := range docs {
		if s, _ := doc["slug"].(string); s == slug {
			writeJSON(w, http.StatusOK, doc)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not found")
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, res resource.Resource) {
	var doc store.Document
	if err := readJSON(r, &doc); err != nil || doc == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: expected an object")
		return
	}
	if err := res.Validate(doc); err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}

	now := h.stamp()
	doc["id"] = ident.NewID(res.IDPrefix)
	doc["createdAt"] = now
	doc["updatedAt"] = now
	base := ident.Slugify(res.SlugSource(doc))

	_, err := h.store.UpdateContext(r.Context(), res.Collection, func(c store.Collection) (store.Collection, error) {
		if res.SlugFrom != "" {
			doc["slug"] = uniqueSlug(c, base, "")
		}
		return append(c, doc), nil
	})
	if err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request, res resource.Resource) {
	id := r.PathValue("id")
	var doc store.Document
	if err := readJSON(r, &doc); err != nil || doc == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: expected an object")
		return
	}
	if err := res.Validate(doc); err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}

	doc["id"] = id
	doc["updatedAt"] = h.stamp()
	base := ident.Slugify(res.SlugSource(doc))

	_, err := h.store.UpdateContext(r.Context(), res.Collection, func(c store.Collection) (store.Collection, error) {
		old := c.Find(id)
		if old == nil {
			return nil, fmt.Errorf("%w: %s", store.ErrNoDocument, id)
		}
		if created, ok := old["createdAt"]; ok {
			doc["createdAt"] = created
		}
		if res.SlugFrom != "" {
			// keep published URLs stable unless the source text changed
			if oldSlug, _ := old["slug"].(string); oldSlug != "" && ident.Slugify(res.SlugSource(old)) == base {
				doc["slug"] = oldSlug
			} else {
				doc["slug"] = uniqueSlug(c, base, id)
			}
		}
		return store.ReplaceByID(id, doc)(c)
	})
	if err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request, res resource.Resource) {
	id := r.PathValue("id")
	if _, err := h.store.UpdateContext(r.Context(), res.Collection, store.RemoveByID(id)); err != nil {
		h.writeStoreError(w, res.Collection, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// addView bumps a news article's view counter.
func (h *Handler) addView(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var views float64
	_, err := h.store.UpdateContext(r.Context(), "news", store.ModifyByID(id, func(doc store.Document) error {
		views, _ = doc["views"].(float64)
		views++
		doc["views"] = views
		return nil
	}))
	if err != nil {
		h.writeStoreError(w, "news", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "views": views})
}

// uniqueSlug returns base, or base with a numeric suffix, such that no
// document other than selfID already uses it.
func uniqueSlug(c store.Collection, base, selfID string) string {
	if base == "" {
		base = "untitled"
	}
	taken := make(map[string]bool, len(c))
	for _, doc := range c {
		if doc.ID() == selfID {
			continue
		}
		if s, ok := doc["slug"].(string); ok {
			taken[s] = true
		}
	}
	slug := base
	for n := 2; taken[slug]; n++ {
		slug = fmt.Sprintf("%s-%d", base, n)
	}
	return slug
}
