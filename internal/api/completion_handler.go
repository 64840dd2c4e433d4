package api

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/service"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CompletionHandler exposes completion logging, approval and meal photos.
type CompletionHandler struct {
	completions service.CompletionService
}

func NewCompletionHandler(completions service.CompletionService) *CompletionHandler {
	return &CompletionHandler{completions: completions}
}

// --- DTOs ---

// LogCompletionRequest carries exactly one of Exercise or Meal.
type LogCompletionRequest struct {
	OccurrenceKey string                 `json:"occurrenceKey"`
	Exercise      *domain.ExerciseResult `json:"exercise"`
	Meal          *MealRequest           `json:"meal"`
}

type MealRequest struct {
	OptionID string `json:"optionId" binding:"required"`
	PhotoRef string `json:"photoRef"`
	Notes    string `json:"notes"`
}

type DecisionRequest struct {
	ExpectedRevision *int64 `json:"expectedRevision"`
	Reason           string `json:"reason"`
}

type PhotoUploadRequest struct {
	ContentType string `json:"contentType" binding:"required"`
}

// LogCompletion handles POST /items/:itemId/completions.
func (h *CompletionHandler) LogCompletion(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req LogCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	payload := service.CompletionPayload{Exercise: req.Exercise}
	if req.Meal != nil {
		optionID, err := primitive.ObjectIDFromHex(req.Meal.OptionID)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid optionId format")
			return
		}
		payload.Meal = &service.MealPayload{OptionID: optionID, PhotoRef: req.Meal.PhotoRef, Notes: req.Meal.Notes}
	}
	id, _ := identityFromContext(c)

	completion, err := h.completions.LogCompletion(c.Request.Context(), id, itemID, req.OccurrenceKey, payload)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if completion.Revision > 1 {
		status = http.StatusOK
	}
	c.JSON(status, completion)
}

func (h *CompletionHandler) GetCompletion(c *gin.Context) {
	completionID, ok := pathID(c, "completionId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	completion, err := h.completions.GetCompletion(c.Request.Context(), id, completionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, completion)
}

func (h *CompletionHandler) ListProgramCompletions(c *gin.Context) {
	programID, ok := pathID(c, "programId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	list, err := h.completions.ListCompletions(c.Request.Context(), id, programID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *CompletionHandler) ListItemCompletions(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	list, err := h.completions.ListItemCompletions(c.Request.Context(), id, itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *CompletionHandler) Approve(c *gin.Context) {
	h.decide(c, h.completions.Approve)
}

func (h *CompletionHandler) Reject(c *gin.Context) {
	h.decide(c, h.completions.Reject)
}

func (h *CompletionHandler) Revoke(c *gin.Context) {
	h.decide(c, h.completions.Revoke)
}

type decideFunc func(ctx context.Context, id domain.Identity, completionID primitive.ObjectID, in service.DecisionInput) (*domain.Completion, error)

func (h *CompletionHandler) decide(c *gin.Context, fn decideFunc) {
	completionID, ok := pathID(c, "completionId")
	if !ok {
		return
	}
	var req DecisionRequest
	// The body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
			return
		}
	}
	id, _ := identityFromContext(c)
	completion, err := fn(c.Request.Context(), id, completionID, service.DecisionInput(req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, completion)
}

// RequestPhotoUpload handles POST /items/:itemId/photos.
func (h *CompletionHandler) RequestPhotoUpload(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req PhotoUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	id, _ := identityFromContext(c)
	upload, err := h.completions.RequestPhotoUpload(c.Request.Context(), id, itemID, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, upload)
}

// PhotoURL handles GET /completions/:completionId/photo.
func (h *CompletionHandler) PhotoURL(c *gin.Context) {
	completionID, ok := pathID(c, "completionId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	url, err := h.completions.PhotoURL(c.Request.Context(), id, completionID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
