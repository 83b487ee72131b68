package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnajarc/sistemaInm-sub001/pkg/domain"
	"github.com/mnajarc/sistemaInm-sub001/pkg/workflow"
)

const dateLayout = "2006-01-02"

// submissionView is the wire shape of a submission for the current actor.
type submissionView struct {
	domain.Submission
	CanReupload bool `json:"canReupload"`
}

func viewOf(sub domain.Submission) submissionView {
	return submissionView{Submission: sub, CanReupload: workflow.CanReupload(sub)}
}

func viewsOf(subs []domain.Submission) []submissionView {
	out := make([]submissionView, 0, len(subs))
	for _, sub := range subs {
		out = append(out, viewOf(sub))
	}
	return out
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Materialize(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created": res.Created,
		"items":   viewsOf(res.Submissions),
		"count":   len(res.Submissions),
	})
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.engine.ListByTransaction(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": viewsOf(subs),
		"count": len(subs),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Audit(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":     report,
		"consistent": report.Consistent(),
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.engine.Get(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()

	in := workflow.FileInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	if raw := strings.TrimSpace(r.FormValue("expiryDate")); raw != "" {
		expiry, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expiryDate must be YYYY-MM-DD")
			return
		}
		in.ExpiryDate = &expiry
	}
	sub, err := s.engine.Upload(r.Context(), actorFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	sub, err := s.engine.Remove(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	url, ttl, err := s.engine.DownloadURL(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":              url,
		"expiresInSeconds": int(ttl.Seconds()),
	})
}

type approveRequest struct {
	Comment string `json:"comment"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sub, err := s.engine.Approve(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Comment)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sub, err := s.engine.Reject(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

type expireRequest struct {
	Note string `json:"note"`
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	var req expireRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sub, err := s.engine.MarkExpired(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Note)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.engine.ListNotes(r.Context(), actorFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": notes,
		"count": len(notes),
	})
}

type noteRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	note, err := s.engine.AddNote(r.Context(), actorFrom(r), chi.URLParam(r, "id"), req.Content)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteNote(r.Context(), actorFrom(r), chi.URLParam(r, "id")); err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !actorFrom(r).Role.IsAdmin() {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if s.sweeper == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper not configured")
		return
	}
	res, err := s.sweeper.RunOnce(r.Context(), time.Now())
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scanned":    res.Scanned,
		"expired":    res.Expired,
		"skipped":    res.Skipped,
		"failed":     res.Failed,
		"durationMs": res.Duration.Milliseconds(),
	})
}

func (s *Server) handleRecordAnalysis(w http.ResponseWriter, r *http.Request) {
	var req workflow.AnalysisResult
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sub, err := s.engine.RecordAnalysis(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

type transactionRequest struct {
	domain.Transaction
	CoOwners []domain.CoOwner `json:"coOwners"`
}

func (s *Server) handleSyncTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	id := chi.URLParam(r, "id")
	if req.ID != "" && req.ID != id {
		writeError(w, http.StatusBadRequest, "transaction id does not match path")
		return
	}
	req.ID = id
	t, err := s.engine.SyncTransaction(r.Context(), req.Transaction, req.CoOwners)
	if err != nil {
		writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transaction": t,
		"coOwners":    req.CoOwners,
	})
}
