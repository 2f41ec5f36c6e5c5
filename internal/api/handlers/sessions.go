package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dvloznov/statement-ledger/internal/api/middleware"
	"github.com/dvloznov/statement-ledger/internal/domain"
	"github.com/dvloznov/statement-ledger/internal/gcs"
	"github.com/dvloznov/statement-ledger/internal/ledger"
	"github.com/dvloznov/statement-ledger/internal/pipeline"
	"github.com/dvloznov/statement-ledger/internal/session"
	"github.com/dvloznov/statement-ledger/internal/tracker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxUploadBytes bounds one multipart upload request.
const maxUploadBytes = 64 << 20

// Queue runs sessions in the background. *session.Runner satisfies it.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
	Stop(id string) bool
	Busy(id string) bool
}

// Blobs stores uploaded statements. *gcs.Store satisfies it.
type Blobs interface {
	Put(ctx context.Context, location string, data []byte, contentType string) error
}

// Ledger merges a reviewed batch into the workbook. *tracker.Service satisfies it.
type Ledger interface {
	Save(ctx context.Context, rows []ledger.Row) (*tracker.SaveResult, error)
	Dashboard(ctx context.Context) (*tracker.Dashboard, error)
}

// SessionsHandler drives ingestion sessions through the workflow steps.
type SessionsHandler struct {
	store      session.Store
	queue      Queue
	blobs      Blobs
	ledger     Ledger
	deps       pipeline.Deps
	categories domain.CategorySet
	spoolDir   string
	log        zerolog.Logger
}

// NewSessionsHandler creates a new sessions handler. deps are used for
// single-step processing; spoolDir is a local directory or gs:// prefix
// where uploads are kept until the session is saved.
func NewSessionsHandler(store session.Store, queue Queue, blobs Blobs, ledger Ledger, deps pipeline.Deps,
	categories domain.CategorySet, spoolDir string, log zerolog.Logger) *SessionsHandler {
	return &SessionsHandler{
		store:      store,
		queue:      queue,
		blobs:      blobs,
		ledger:     ledger,
		deps:       deps,
		categories: categories,
		spoolDir:   spoolDir,
		log:        log,
	}
}

// Register adds the session routes to mux.
func (h *SessionsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/files", h.AddFiles)
	mux.HandleFunc("POST /api/sessions/{id}/confirm", h.Confirm)
	mux.HandleFunc("POST /api/sessions/{id}/step", h.Step)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", h.Cancel)
	mux.HandleFunc("POST /api/sessions/{id}/resume", h.Resume)
	mux.HandleFunc("PUT /api/sessions/{id}/rows", h.EditRows)
	mux.HandleFunc("POST /api/sessions/{id}/save", h.Save)
	mux.HandleFunc("POST /api/sessions/{id}/reset", h.Reset)
}

// sessionResponse is a session plus whether the background runner holds it.
type sessionResponse struct {
	pipeline.State
	Busy bool `json:"busy"`
}

func (h *SessionsHandler) respond(w http.ResponseWriter, status int, st pipeline.State) {
	middleware.WriteJSON(w, status, sessionResponse{State: st, Busy: h.queue.Busy(st.ID)})
}

// CreateSession handles POST /api/sessions
// Statements are sent as multipart form files under "files". A session
// without files waits in the upload step.
func (h *SessionsHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := uuid.NewString()

	files, err := h.spool(w, r, id)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to read upload")
		middleware.WriteError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
		return
	}

	st := pipeline.NewState(id, files)
	if err := h.store.Save(ctx, st); err != nil {
		h.log.Error().Err(err).Msg("Failed to save session")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	h.log.Info().Str("session_id", id).Int("files", len(files)).Msg("Session created")
	h.respond(w, http.StatusCreated, st)
}

// ListSessions handles GET /api/sessions
func (h *SessionsHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	states, err := h.store.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list sessions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	out := make([]sessionResponse, 0, len(states))
	for _, st := range states {
		out = append(out, sessionResponse{State: st, Busy: h.queue.Busy(st.ID)})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": out,
		"count":    len(out),
	})
}

// GetSession handles GET /api/sessions/{id}
func (h *SessionsHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	st, ok := h.load(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, st)
}

// DeleteSession handles DELETE /api/sessions/{id}
func (h *SessionsHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.queue.Busy(id) {
		middleware.WriteError(w, http.StatusConflict, "Session is processing; cancel it first")
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.log.Error().Err(err).Str("session_id", id).Msg("Failed to delete session")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddFiles handles POST /api/sessions/{id}/files
func (h *SessionsHandler) AddFiles(w http.ResponseWriter, r *http.Request) {
	st, ok := h.loadIdle(w, r)
	if !ok {
		return
	}
	files, err := h.spool(w, r, st.ID)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid upload: "+err.Error())
		return
	}
	if len(files) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No files uploaded")
		return
	}
	if err := st.AddFiles(files...); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	h.saveAndRespond(w, r, st)
}

// Confirm handles POST /api/sessions/{id}/confirm
// Body: {"use_resolver": true}. Processing is queued in the background
// unless "manual" is set, in which case the client drives it with /step.
func (h *SessionsHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UseResolver bool `json:"use_resolver"`
		Manual      bool `json:"manual"`
	}
	if err := decodeOptional(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	st, ok := h.loadIdle(w, r)
	if !ok {
		return
	}
	if err := st.Confirm(req.UseResolver, h.categories); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	if err := h.store.Save(r.Context(), st); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	if !req.Manual {
		if err := h.queue.Enqueue(r.Context(), st.ID); err != nil {
			h.fail(w, st.ID, err)
			return
		}
	}

	h.log.Info().Str("session_id", st.ID).Bool("use_resolver", req.UseResolver).Bool("manual", req.Manual).Msg("Session confirmed")
	h.respond(w, http.StatusAccepted, st)
}

// Step handles POST /api/sessions/{id}/step
// It performs one unit of work synchronously and returns the new state.
func (h *SessionsHandler) Step(w http.ResponseWriter, r *http.Request) {
	st, ok := h.loadIdle(w, r)
	if !ok {
		return
	}
	if st.Step != pipeline.StepProcessing {
		h.fail(w, st.ID, pipeline.ErrWrongStep)
		return
	}

	job := pipeline.NewJob(st, h.deps)
	stepErr := job.Next(r.Context())
	st = job.Checkpoint()
	if err := h.store.Save(r.Context(), st); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	if errors.Is(stepErr, pipeline.ErrNoUsableData) {
		middleware.WriteJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":   "No usable data extracted from any file",
			"session": sessionResponse{State: st},
		})
		return
	}
	if stepErr != nil {
		h.fail(w, st.ID, stepErr)
		return
	}
	h.respond(w, http.StatusOK, st)
}

// Cancel handles POST /api/sessions/{id}/cancel
// The in-flight unit finishes; everything processed so far is kept.
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.queue.Stop(id) {
		h.log.Info().Str("session_id", id).Msg("Stop requested")
		middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
			"session_id": id,
			"status":     "stopping",
		})
		return
	}

	st, ok := h.load(w, r)
	if !ok {
		return
	}
	if st.Step != pipeline.StepProcessing {
		h.fail(w, id, pipeline.ErrWrongStep)
		return
	}
	job := pipeline.NewJob(st, h.deps)
	job.Stop()
	if err := job.Next(r.Context()); err != nil {
		h.fail(w, id, err)
		return
	}
	h.saveAndRespond(w, r, job.Checkpoint())
}

// Resume handles POST /api/sessions/{id}/resume
func (h *SessionsHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Manual bool `json:"manual"`
	}
	if err := decodeOptional(r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	st, ok := h.loadIdle(w, r)
	if !ok {
		return
	}
	if err := st.Resume(); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	if err := h.store.Save(r.Context(), st); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	if !req.Manual {
		if err := h.queue.Enqueue(r.Context(), st.ID); err != nil {
			h.fail(w, st.ID, err)
			return
		}
	}
	h.respond(w, http.StatusAccepted, st)
}

// RowEdit changes or deletes one batch row.
type RowEdit struct {
	Index    int    `json:"index"`
	Category string `json:"category"`
	Delete   bool   `json:"delete"`
}

// EditRows handles PUT /api/sessions/{id}/rows
// Body: {"edits": [{"index": 0, "category": "Food"}, {"index": 3, "delete": true}]}.
// Edits apply in order, so indexes refer to the batch as left by earlier edits.
func (h *SessionsHandler) EditRows(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Edits []RowEdit `json:"edits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	st, ok := h.loadIdle(w, r)
	if !ok {
		return
	}
	for _, e := range req.Edits {
		var err error
		if e.Delete {
			err = st.DeleteRow(e.Index)
		} else {
			err = st.SetCategory(e.Index, strings.TrimSpace(e.Category))
		}
		if err != nil {
			h.fail(w, st.ID, err)
			return
		}
	}
	h.saveAndRespond(w, r, st)
}

// Save handles POST /api/sessions/{id}/save
// The reviewed batch is merged into the ledger and the workbook rewritten.
func (h *SessionsHandler) Save(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, ok := h.loadIdle(w, r)
	if !ok {
		return
	}
	if st.Step != pipeline.StepReview {
		h.fail(w, st.ID, pipeline.ErrWrongStep)
		return
	}

	result, err := h.ledger.Save(ctx, st.Batch)
	if err != nil {
		h.log.Error().Err(err).Str("session_id", st.ID).Msg("Failed to save ledger")
		middleware.WriteError(w, http.StatusBadGateway, "Failed to save ledger")
		return
	}
	if err := st.MarkSaved(); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	if err := h.store.Save(ctx, st); err != nil {
		h.fail(w, st.ID, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"session": sessionResponse{State: st},
		"result":  result,
	})
}

// Reset handles POST /api/sessions/{id}/reset
func (h *SessionsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	st, ok := h.loadIdle(w, r)
	if !ok {
		return
	}
	st.Reset()
	h.saveAndRespond(w, r, st)
}

func (h *SessionsHandler) load(w http.ResponseWriter, r *http.Request) (pipeline.State, bool) {
	id := r.PathValue("id")
	st, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, id, err)
		return pipeline.State{}, false
	}
	return st, true
}

// loadIdle loads a session that the background runner is not holding.
func (h *SessionsHandler) loadIdle(w http.ResponseWriter, r *http.Request) (pipeline.State, bool) {
	if h.queue.Busy(r.PathValue("id")) {
		middleware.WriteError(w, http.StatusConflict, "Session is processing; cancel it first")
		return pipeline.State{}, false
	}
	return h.load(w, r)
}

func (h *SessionsHandler) saveAndRespond(w http.ResponseWriter, r *http.Request, st pipeline.State) {
	if err := h.store.Save(r.Context(), st); err != nil {
		h.fail(w, st.ID, err)
		return
	}
	h.respond(w, http.StatusOK, st)
}

func (h *SessionsHandler) fail(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, pipeline.ErrWrongStep):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrRowOutOfRange), errors.Is(err, pipeline.ErrUnknownCategory):
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrRunnerClosed):
		middleware.WriteError(w, http.StatusServiceUnavailable, "Server is shutting down")
	default:
		h.log.Error().Err(err).Str("session_id", id).Msg("Session operation failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}

// spool stores the multipart "files" of r under spoolDir/id. The FileRef
// Name stays the uploaded base name, which becomes the source_file tag.
func (h *SessionsHandler) spool(w http.ResponseWriter, r *http.Request, id string) ([]pipeline.FileRef, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return nil, nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, err
	}

	var files []pipeline.FileRef
	for _, fh := range r.MultipartForm.File["files"] {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) {
			return nil, errors.New("file without a name")
		}
		// Each part gets its own directory so equal names never share a blob.
		location := gcs.Join(h.spoolDir, id, uuid.NewString(), name)
		if err := h.blobs.Put(r.Context(), location, data, fh.Header.Get("Content-Type")); err != nil {
			return nil, err
		}
		files = append(files, pipeline.FileRef{Name: name, Location: location})
	}
	return files, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// decodeOptional decodes a JSON body if there is one.
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
