package api

import (
	"alcyxob/coachsync/internal/logging"
	"alcyxob/coachsync/internal/service"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// respondError maps the service error taxonomy to a status code. Denials
// carry no detail so callers cannot probe for existence.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrForbidden):
		abortWithError(c, http.StatusForbidden, "Forbidden")
	case errors.Is(err, service.ErrNotFound):
		abortWithError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		abortWithError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrInvariantViolation):
		abortWithError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, service.ErrValidation):
		abortWithError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrTransient), errors.Is(err, service.ErrMediaUnavailable):
		logging.Ctx(c.Request.Context()).Warn().Err(err).Msg("Dependency unavailable")
		abortWithError(c, http.StatusServiceUnavailable, "Service temporarily unavailable, retry later")
	default:
		logging.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("Unhandled error")
		abortWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}

// pathID reads an ObjectID path parameter, answering 400 when malformed.
func pathID(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid "+name+" format")
		return primitive.NilObjectID, false
	}
	return id, true
}

// parseIDs converts hex strings from a request body.
func parseIDs(hexes []string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, len(hexes))
	for i, h := range hexes {
		id, err := primitive.ObjectIDFromHex(h)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

// optionalID parses an optional hex ID, treating "" as unset.
func optionalID(hex string) (*primitive.ObjectID, error) {
	if hex == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
