package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"skylark-data/internal/domain"
	"skylark-data/internal/objectstore"
	"skylark-data/internal/repository"
)

// Form fields the upload endpoint accepts. Anything else in the body is
// rejected so typos on the device side surface immediately instead of
// silently dropping data.
var allowedUploadFields = map[string]bool{
	"patient_id": true,
	"study_id":   true,
	"file_name":  true,
	"file":       true,
	"os_type":    true,
}

// MobileHandler device-facing endpoints: raw uploads into the inbox,
// notification receipts and liveness stamps.
type MobileHandler struct {
	studies      repository.StudiesRepository
	participants repository.ParticipantsRepository
	uploads      repository.UploadsRepository
	events       repository.EventsRepository
	store        *objectstore.Store
	logger       *zap.Logger

	now func() time.Time
}

func NewMobileHandler(
	studies repository.StudiesRepository,
	participants repository.ParticipantsRepository,
	uploads repository.UploadsRepository,
	events repository.EventsRepository,
	store *objectstore.Store,
	logger *zap.Logger,
) *MobileHandler {
	return &MobileHandler{
		studies:      studies,
		participants: participants,
		uploads:      uploads,
		events:       events,
		store:        store,
		logger:       logger,
		now:          time.Now,
	}
}

// resolve loads the study and participant named in the form, or writes
// the response and returns nils.
func (h *MobileHandler) resolve(w http.ResponseWriter, r *http.Request) (*domain.Study, *domain.Participant) {
	study, err := h.studies.GetStudyByObjectID(r.Context(), r.PostFormValue("study_id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "no such study")
			return nil, nil
		}
		h.logger.Error("study lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, nil
	}
	participant, err := h.participants.GetParticipantByPatientID(r.Context(), study.ID, r.PostFormValue("patient_id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "no such participant")
			return nil, nil
		}
		h.logger.Error("participant lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, nil
	}
	return study, participant
}

// Upload stores the device file and queues it for chunking.
// POST /upload/v1
func (h *MobileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		writeError(w, http.StatusBadRequest, "unparsable form body")
		return
	}
	for field := range r.MultipartForm.Value {
		if !allowedUploadFields[field] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("disallowed field %q", field))
			return
		}
	}
	for field := range r.MultipartForm.File {
		if !allowedUploadFields[field] {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("disallowed field %q", field))
			return
		}
	}

	study, participant := h.resolve(w, r)
	if participant == nil {
		return
	}

	fileName := r.PostFormValue("file_name")
	if !strings.HasPrefix(fileName, participant.PatientID+"/") {
		writeError(w, http.StatusBadRequest, "file_name must start with the patient id")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()
	contents, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return
	}

	now := h.now()
	if err := h.participants.StampLiveness(r.Context(), participant.ID, repository.LivenessUpload, now); err != nil {
		h.logger.Error("failed to stamp upload liveness",
			zap.Int64("participant_id", participant.ID), zap.Error(err))
	}

	// devices routinely flush empty files; accept and drop them so the
	// app deletes its local copy
	if len(contents) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	path := study.ObjectID + "/" + fileName
	if err := h.store.Put(r.Context(), path, contents, study, participant.ID); err != nil {
		h.logger.Error("failed to store upload",
			zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	record := &domain.UploadRecord{
		ParticipantID: participant.ID,
		StudyID:       study.ID,
		Path:          path,
		OSType:        participant.OSType,
		Created:       now,
	}
	if err := h.uploads.Enqueue(r.Context(), record); err != nil {
		h.logger.Error("failed to enqueue upload",
			zap.String("path", path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// NotificationReport records notification receipts by uuid.
// POST /push-notification-report/v1
func (h *MobileHandler) NotificationReport(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unparsable form body")
		return
	}
	_, participant := h.resolve(w, r)
	if participant == nil {
		return
	}

	var uuids []string
	if err := json.Unmarshal([]byte(r.PostFormValue("notification_uuids")), &uuids); err != nil {
		writeError(w, http.StatusBadRequest, "notification_uuids must be a JSON array")
		return
	}
	for _, uuid := range uuids {
		if uuid == "" {
			continue
		}
		if err := h.events.InsertReport(r.Context(), participant.ID, uuid); err != nil {
			h.logger.Error("failed to record notification report",
				zap.String("uuid", uuid), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// SetFCMToken registers a fresh push credential.
// POST /set-fcm-token/v1
func (h *MobileHandler) SetFCMToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unparsable form body")
		return
	}
	_, participant := h.resolve(w, r)
	if participant == nil {
		return
	}
	token := r.PostFormValue("fcm_token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing fcm_token")
		return
	}
	now := h.now()
	if err := h.participants.SetToken(r.Context(), participant.ID, token, now); err != nil {
		h.logger.Error("failed to set fcm token",
			zap.Int64("participant_id", participant.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.participants.StampLiveness(r.Context(), participant.ID, repository.LivenessSetFCMToken, now); err != nil {
		h.logger.Error("failed to stamp token liveness",
			zap.Int64("participant_id", participant.ID), zap.Error(err))
	}
	w.WriteHeader(http.StatusOK)
}

// Heartbeat stamps the device check-in that keeps a participant counted
// as active.
// POST /mobile-heartbeat/v1
func (h *MobileHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "unparsable form body")
		return
	}
	_, participant := h.resolve(w, r)
	if participant == nil {
		return
	}
	if err := h.participants.StampLiveness(r.Context(), participant.ID, repository.LivenessHeartbeatCheckin, h.now()); err != nil {
		h.logger.Error("failed to stamp heartbeat checkin",
			zap.Int64("participant_id", participant.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusOK)
}
