package httpapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/download"
	"skylark-data/internal/repository"
)

const maxFormMemory = 32 << 20

// DataAccessHandler researcher-facing bulk download API. Credentials
// ride in the form body, matching the wire format the analysis tooling
// already speaks.
type DataAccessHandler struct {
	credentials repository.CredentialsRepository
	studies     repository.StudiesRepository
	assembler   *download.Assembler
	logger      *zap.Logger
}

func NewDataAccessHandler(
	credentials repository.CredentialsRepository,
	studies repository.StudiesRepository,
	assembler *download.Assembler,
	logger *zap.Logger,
) *DataAccessHandler {
	return &DataAccessHandler{
		credentials: credentials,
		studies:     studies,
		assembler:   assembler,
		logger:      logger,
	}
}

// authenticate resolves and verifies the caller's credential, or writes
// the response and returns nil.
func (h *DataAccessHandler) authenticate(w http.ResponseWriter, r *http.Request) *domain.APICredential {
	accessKey := r.PostFormValue("access_key")
	secretKey := r.PostFormValue("secret_key")
	if accessKey == "" || secretKey == "" {
		writeError(w, http.StatusForbidden, "missing credentials")
		return nil
	}
	cred, err := h.credentials.GetByAccessKey(r.Context(), accessKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusForbidden, "invalid credentials")
			return nil
		}
		h.logger.Error("credential lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	hash := sha256.Sum256([]byte(secretKey))
	if subtle.ConstantTimeCompare(hash[:], cred.SecretKeyHash) != 1 {
		writeError(w, http.StatusForbidden, "invalid credentials")
		return nil
	}
	return cred
}

// GetData streams a zip of every chunk matching the filter.
// POST /get-data/v1
func (h *DataAccessHandler) GetData(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "unparsable form body")
			return
		}
	}
	cred := h.authenticate(w, r)
	if cred == nil {
		return
	}

	study, err := h.studies.GetStudyByObjectID(r.Context(), r.PostFormValue("study_id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "no such study")
			return
		}
		h.logger.Error("study lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	allowed, err := h.credentials.HasStudyAccess(r.Context(), cred.ResearcherID, study.ID)
	if err != nil {
		h.logger.Error("study access check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "no access to study")
		return
	}

	webForm := r.PostFormValue("web_form") != ""
	req := download.Request{
		DataStreams:     formList(r, "data_streams"),
		PatientIDs:      formList(r, "user_ids"),
		TimeStart:       r.PostFormValue("time_start"),
		TimeEnd:         r.PostFormValue("time_end"),
		Registry:        r.PostFormValue("registry"),
		IncludeRegistry: !webForm,
	}

	w.Header().Set("Content-Type", "application/zip")
	if webForm {
		w.Header().Set("Content-Disposition", `attachment; filename="data.zip"`)
	}
	body := &countingWriter{w: w}
	if err := h.assembler.Stream(r.Context(), study, req, body); err != nil {
		if body.written {
			// status already went out with the first zip bytes; the
			// truncated stream is the failure signal
			h.logger.Error("download stream aborted",
				zap.String("study", study.ObjectID), zap.Error(err))
			return
		}
		w.Header().Del("Content-Type")
		w.Header().Del("Content-Disposition")
		switch {
		case download.BadRequest.Has(err):
			writeError(w, http.StatusBadRequest, err.Error())
		case download.NotFound.Has(err):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			h.logger.Error("download failed",
				zap.String("study", study.ObjectID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
		}
	}
}

// GetStudies lists the studies the caller may download from.
// POST /get-studies/v1
func (h *DataAccessHandler) GetStudies(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unparsable form body")
		return
	}
	cred := h.authenticate(w, r)
	if cred == nil {
		return
	}

	studies, err := h.studies.ListRunningStudies(r.Context())
	if err != nil {
		h.logger.Error("study listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	accessible := make(map[string]string)
	for _, study := range studies {
		allowed, err := h.credentials.HasStudyAccess(r.Context(), cred.ResearcherID, study.ID)
		if err != nil {
			h.logger.Error("study access check failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if allowed {
			accessible[study.ObjectID] = study.Name
		}
	}
	writeJSON(w, http.StatusOK, accessible)
}

// countingWriter records whether any body bytes went out, which decides
// whether an error can still change the response status.
type countingWriter struct {
	w       http.ResponseWriter
	written bool
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		c.written = true
	}
	return c.w.Write(p)
}
