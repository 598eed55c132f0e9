package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"docverify/internal/document/model"
	"docverify/internal/document/service"
	"docverify/middleware"
	"docverify/pkg/logger"
)

// multipartOverhead is the room left for form fields and part headers on top
// of the file itself.
const multipartOverhead = 1 << 20

type DocumentHandler struct {
	Service        *service.DocumentService
	Query          *service.QueryService
	MaxUploadBytes int64
}

func NewDocumentHandler(svc *service.DocumentService, query *service.QueryService, maxUploadBytes int64) *DocumentHandler {
	return &DocumentHandler{Service: svc, Query: query, MaxUploadBytes: maxUploadBytes}
}

// Upload accepts a multipart form with file, title, type and comma-separated tags.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, model.ErrorResponse{Error: fmt.Sprintf("file exceeds %d bytes", h.MaxUploadBytes)})
			return
		}
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "Invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "Missing file"})
		return
	}
	defer file.Close()

	sub := service.Submission{
		OwnerID: middleware.UserIDFrom(r.Context()),
		Title:   r.FormValue("title"),
		Type:    r.FormValue("type"),
		Tags:    splitTags(r.FormValue("tags")),
	}
	doc, err := h.Service.SubmitFrom(r.Context(), sub, file, h.MaxUploadBytes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetDocuments lists the caller's own documents, newest first.
func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docs, err := h.Query.ListByOwner(r.Context(), middleware.UserIDFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.visibleDetail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *DocumentHandler) GetSteps(w http.ResponseWriter, r *http.Request) {
	detail, ok := h.visibleDetail(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, detail.Steps)
}

func (h *DocumentHandler) visibleDetail(w http.ResponseWriter, r *http.Request) (*model.DocumentDetail, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}

	docID := r.URL.Query().Get("docId")
	if docID == "" {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "Missing docId parameter"})
		return nil, false
	}

	detail, err := h.Service.Get(r.Context(), docID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	// Hidden documents look exactly like missing ones.
	if !detail.VisibleTo(middleware.UserIDFrom(r.Context()), middleware.RoleFrom(r.Context())) {
		writeError(w, model.ErrNotFound)
		return nil, false
	}
	return detail, true
}

func (h *DocumentHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := h.Query.CountsByStatus(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Uploaders returns per-uploader document counts for the admin panel.
func (h *DocumentHandler) Uploaders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	counts, err := h.Query.CountsByOwner(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// PendingQueue lists pending documents oldest first for verifiers.
func (h *DocumentHandler) PendingQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	docs, err := h.Query.PendingQueue(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if req.DocID == "" {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "document_id is required"})
		return
	}
	decision, err := model.ParseDecision(req.Decision)
	if err != nil {
		writeError(w, err)
		return
	}

	doc, err := h.Service.Resolve(r.Context(), req.DocID, decision, middleware.UserIDFrom(r.Context()), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Verify is the public lookup by fingerprint. Only the public view of a
// document is exposed.
func (h *DocumentHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doc, found, err := h.Service.LookupByFingerprint(r.Context(), r.URL.Query().Get("fingerprint"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeError(w, model.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, doc.Public())
}

// AuthorizeRoom lets the websocket hub apply the same visibility rule as GetDocument.
func (h *DocumentHandler) AuthorizeRoom(ctx context.Context, userID string, role model.Role, docID string) error {
	doc, err := h.Service.Docs.Get(ctx, docID)
	if err != nil {
		return err
	}
	if !doc.VisibleTo(userID, role) {
		return fmt.Errorf("document %s: %w", docID, model.ErrNotFound)
	}
	return nil
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Sugar.Errorf("Handler: Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var dup *model.DuplicateFingerprintError
	switch {
	case errors.As(err, &dup):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: "document already exists", ExistingID: dup.ExistingID})
	case errors.Is(err, model.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, model.ErrorResponse{Error: "not found"})
	case errors.Is(err, model.ErrInvalidState):
		writeJSON(w, http.StatusConflict, model.ErrorResponse{Error: "already resolved"})
	default:
		logger.Sugar.Errorf("Handler: request failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, model.ErrorResponse{Error: "internal server error"})
	}
}
