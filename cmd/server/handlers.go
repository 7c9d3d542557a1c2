package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/brunobiangulo/biograph/enrich"
	"github.com/brunobiangulo/biograph/match"
	"github.com/brunobiangulo/biograph/ontology"
)

type handler struct {
	onto    *ontology.Store
	matcher *match.Matcher
}

func newHandler(onto *ontology.Store, matcher *match.Matcher) *handler {
	return &handler{onto: onto, matcher: matcher}
}

// ---------------------------------------------------------------------------
// Stubs

type stubView struct {
	CanonicalName   string   `json:"canonical_name"`
	MetaType        string   `json:"meta_type"`
	VariationsFound []string `json:"variations_found,omitempty"`
	Status          string   `json:"status"`
	Source          string   `json:"source"`
}

func (h *handler) handleListStubs(w http.ResponseWriter, r *http.Request) {
	stubs := h.onto.PendingStubs()
	views := make([]stubView, 0, len(stubs))
	for _, s := range stubs {
		views = append(views, stubView{
			CanonicalName:   s.CanonicalName,
			MetaType:        s.MetaType,
			VariationsFound: s.VariationsFound,
			Status:          s.Status,
			Source:          s.Source,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stubs": views,
		"count": len(views),
	})
}

func (h *handler) handleApproveStub(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.onto.Update(name, func(e *ontology.Entry) {
		e.Status = ontology.StatusCompleted
		e.Source = ontology.SourceAutoStubApproved
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	slog.Info("stub approved", "canonical", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved", "canonical": name})
}

func (h *handler) handleDismissStub(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	err := h.onto.Update(name, func(e *ontology.Entry) {
		e.Status = ontology.StatusDismissed
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	slog.Info("stub dismissed", "canonical", name)
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed", "canonical": name})
}

type mergeRequest struct {
	Stub   string `json:"stub"`
	Target string `json:"target"`
}

func (h *handler) handleMergeStub(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Stub == "" || req.Target == "" {
		writeError(w, http.StatusBadRequest, "stub and target are required")
		return
	}
	if err := enrich.MergeStub(h.onto, req.Stub, req.Target); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	slog.Info("stub merged", "stub", req.Stub, "target", req.Target)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "merged",
		"stub":   req.Stub,
		"target": req.Target,
	})
}

// ---------------------------------------------------------------------------
// Tags

func (h *handler) handleTagCompletions(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	tags := h.onto.TagCompletions(prefix)
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix": prefix,
		"tags":   tags,
		"count":  len(tags),
	})
}

// ---------------------------------------------------------------------------
// Match preview

type previewRequest struct {
	Person        string   `json:"person"`
	Organizations []string `json:"organizations"`
}

func (h *handler) handleMatchPreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Organizations) == 0 {
		writeError(w, http.StatusBadRequest, "organizations is required")
		return
	}

	results := make([]*match.Result, 0, len(req.Organizations))
	for _, org := range req.Organizations {
		results = append(results, h.matcher.MatchOne(r.Context(), org, req.Person))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"person":  req.Person,
		"results": results,
	})
}

// ---------------------------------------------------------------------------
// Health

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"ontology_entries": h.onto.Count(),
		"pending_stubs":    len(h.onto.PendingStubs()),
		"time":             time.Now().UTC().Format(time.RFC3339),
	})
}

// ---------------------------------------------------------------------------
// Helpers

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
