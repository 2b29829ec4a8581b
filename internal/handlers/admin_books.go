package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/biboandbobo2/psych-dev-backend/internal/logger"
	"github.com/biboandbobo2/psych-dev-backend/internal/services"
)

type AdminBookHandler struct {
	log       *logger.Logger
	ingestion *services.IngestionService
	books     *services.BookService
}

func NewAdminBookHandler(log *logger.Logger, ingestion *services.IngestionService, books *services.BookService) *AdminBookHandler {
	return &AdminBookHandler{
		log:       log.With("handler", "AdminBookHandler"),
		ingestion: ingestion,
		books:     books,
	}
}

// StartIngestion kicks off processing for an uploaded book and returns
// the job id the admin UI polls.
func (h *AdminBookHandler) StartIngestion(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeValidation, "invalid book id")
		return
	}

	job, err := h.ingestion.Start(c.Request.Context(), bookID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBookNotFound):
			RespondError(c, http.StatusNotFound, CodeNotFound, "book not found")
		case errors.Is(err, services.ErrAlreadyProcessing):
			RespondError(c, http.StatusConflict, CodeAlreadyProcessing, "book is already being processed")
		case errors.Is(err, services.ErrAlreadyReady):
			RespondError(c, http.StatusBadRequest, CodeAlreadyReady, "book is already processed; delete it first to reprocess")
		case errors.Is(err, services.ErrSourceMissing):
			RespondError(c, http.StatusBadRequest, CodeFileNotFound, "source PDF has not been uploaded")
		default:
			h.log.Error("start ingestion failed", "book_id", bookID, "error", err)
			RespondError(c, http.StatusInternalServerError, CodeInternal, "failed to start ingestion")
		}
		return
	}

	RespondOK(c, http.StatusAccepted, gin.H{
		"jobId":  job.ID,
		"bookId": job.BookID,
		"status": job.Status,
	})
}

// Delete removes a book together with its chunks, jobs and raw file.
func (h *AdminBookHandler) Delete(c *gin.Context) {
	bookID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, CodeValidation, "invalid book id")
		return
	}

	if err := h.books.Delete(c.Request.Context(), bookID); err != nil {
		if errors.Is(err, services.ErrBookNotFound) {
			RespondError(c, http.StatusNotFound, CodeNotFound, "book not found")
			return
		}
		h.log.Error("delete book failed", "book_id", bookID, "error", err)
		RespondError(c, http.StatusInternalServerError, CodeInternal, "failed to delete book")
		return
	}

	RespondOK(c, http.StatusOK, gin.H{"deleted": true})
}
