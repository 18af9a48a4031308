package api

import (
	"errors"
	"net/http"

	"github.com/KU-AILAB/CCTV-Timeline/internal/cloud"
	"github.com/KU-AILAB/CCTV-Timeline/internal/export"
	"github.com/KU-AILAB/CCTV-Timeline/internal/review"
	"github.com/KU-AILAB/CCTV-Timeline/internal/segments"
	"github.com/KU-AILAB/CCTV-Timeline/internal/upload"
)

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var (
		apiErr *cloud.APIError
		finErr *review.FinalizationError
		cteErr *upload.ChunkTransferError
	)

	switch {
	case errors.Is(err, upload.ErrNoFileSelected), errors.Is(err, review.ErrNoSession):
		WriteError(w, http.StatusBadRequest, err.Error(), "NO_FILE_SELECTED")
	case errors.Is(err, upload.ErrUnsupportedFormat):
		WriteError(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_FORMAT")
	case errors.Is(err, upload.ErrEmptyFile):
		WriteError(w, http.StatusBadRequest, err.Error(), "EMPTY_FILE")
	case errors.Is(err, review.ErrInvalidStartTime), errors.Is(err, segments.ErrInvalidInterval),
		errors.Is(err, export.ErrUnsupportedFormat), errors.Is(err, export.ErrInvalidOutputDir):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, upload.ErrNoPendingUpload):
		WriteError(w, http.StatusNotFound, err.Error(), "NO_PENDING_UPLOAD")
	case errors.Is(err, segments.ErrIntervalNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, upload.ErrTransferInProgress), errors.Is(err, review.ErrBusy):
		WriteError(w, http.StatusConflict, err.Error(), "BUSY")
	case errors.Is(err, review.ErrInvalidTransition), errors.Is(err, review.ErrNotReviewing),
		errors.Is(err, review.ErrSessionReplaced):
		WriteError(w, http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, review.ErrNoIntervals):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "NO_INTERVALS")
	case errors.As(err, &finErr), errors.As(err, &cteErr), errors.As(err, &apiErr),
		errors.Is(err, upload.ErrTransferStalled), errors.Is(err, upload.ErrAckOutOfRange):
		WriteError(w, http.StatusBadGateway, err.Error(), "BACKEND_ERROR")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}
