package handlers

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-importer/internal/api/middleware"
	"github.com/dvloznov/statement-importer/internal/domain"
	"github.com/dvloznov/statement-importer/internal/jobs"
	"github.com/dvloznov/statement-importer/internal/pipeline"
	"github.com/dvloznov/statement-importer/internal/schema"
	"github.com/dvloznov/statement-importer/internal/store"
)

// writeServiceError maps err to a status code. Unexpected errors are logged
// and reported as fallback.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, fallback string) {
	var verrs schema.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		middleware.WriteErrorDetails(w, http.StatusUnprocessableEntity, "Validation failed", verrs)
	case errors.Is(err, pipeline.ErrUnsupportedFileType), errors.Is(err, pipeline.ErrEmptyFile):
		middleware.WriteError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, pipeline.ErrFileTooLarge):
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, rootMessage(err))
	case errors.Is(err, pipeline.ErrTooManyRows):
		middleware.WriteError(w, http.StatusUnprocessableEntity, rootMessage(err))
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, store.ErrSchemaInUse):
		middleware.WriteError(w, http.StatusConflict, "Schema is used by existing imports")
	case errors.Is(err, store.ErrDuplicateName):
		middleware.WriteError(w, http.StatusConflict, "Name already exists")
	case errors.Is(err, domain.ErrInvalidTransition):
		middleware.WriteError(w, http.StatusConflict, "Invalid import state")
	default:
		log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, http.StatusInternalServerError, fallback)
	}
}

// rootMessage returns the text of the sentinel at the bottom of err's chain.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
