package api

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/service"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProgramHandler exposes program authoring.
type ProgramHandler struct {
	authoring service.AuthoringService
}

func NewProgramHandler(authoring service.AuthoringService) *ProgramHandler {
	return &ProgramHandler{authoring: authoring}
}

// --- DTOs ---

type CreateProgramRequest struct {
	SubjectID   string              `json:"subjectId" binding:"required"`
	Kind        domain.ProgramKind  `json:"kind" binding:"required"`
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description"`
	StartDate   *time.Time          `json:"startDate"`
	EndDate     *time.Time          `json:"endDate"`
	Units       []CreateUnitRequest `json:"units"`
}

type CreateUnitRequest struct {
	Name         string              `json:"name" binding:"required"`
	Notes        string              `json:"notes"`
	ScheduledFor *time.Time          `json:"scheduledFor"`
	Sequence     int                 `json:"sequence"`
	Items        []CreateItemRequest `json:"items"`
}

type CreateItemRequest struct {
	Name     string                 `json:"name" binding:"required"`
	Notes    string                 `json:"notes"`
	Sequence int                    `json:"sequence"`
	Exercise *domain.ExerciseTarget `json:"exercise"`
	Options  []OptionRequest        `json:"options"`
}

type OptionRequest struct {
	Name       string  `json:"name" binding:"required"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
	Calories   float64 `json:"calories"`
	Protein    float64 `json:"protein"`
	Carbs      float64 `json:"carbs"`
	Fat        float64 `json:"fat"`
	IsOptional bool    `json:"isOptional"`
}

type UpdateProgramRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
}

type UpdateUnitRequest struct {
	Name         *string    `json:"name"`
	Notes        *string    `json:"notes"`
	ScheduledFor *time.Time `json:"scheduledFor"`
}

type UpdateItemRequest struct {
	Name     *string                `json:"name"`
	Notes    *string                `json:"notes"`
	Exercise *domain.ExerciseTarget `json:"exercise"`
}

type ReassignRequest struct {
	SubjectID string `json:"subjectId" binding:"required"`
}

type ReorderRequest struct {
	OrderedIDs []string `json:"orderedIds" binding:"required"`
}

func (r OptionRequest) draft() service.OptionDraft {
	return service.OptionDraft{
		Name: r.Name, Quantity: r.Quantity, Unit: r.Unit,
		Calories: r.Calories, Protein: r.Protein, Carbs: r.Carbs, Fat: r.Fat,
		IsOptional: r.IsOptional,
	}
}

func (r CreateItemRequest) draft() service.ItemDraft {
	d := service.ItemDraft{Name: r.Name, Notes: r.Notes, Sequence: r.Sequence, Exercise: r.Exercise}
	for _, o := range r.Options {
		d.Options = append(d.Options, o.draft())
	}
	return d
}

func (r CreateUnitRequest) draft() service.UnitDraft {
	d := service.UnitDraft{Name: r.Name, Notes: r.Notes, ScheduledFor: r.ScheduledFor, Sequence: r.Sequence}
	for _, it := range r.Items {
		d.Items = append(d.Items, it.draft())
	}
	return d
}

// --- Programs ---

// CreateProgram handles POST /programs.
func (h *ProgramHandler) CreateProgram(c *gin.Context) {
	var req CreateProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	subjectID, err := primitive.ObjectIDFromHex(req.SubjectID)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid subjectId format")
		return
	}
	id, _ := identityFromContext(c)

	draft := service.ProgramDraft{
		SubjectID:   subjectID,
		Kind:        req.Kind,
		Name:        req.Name,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}
	for _, u := range req.Units {
		draft.Units = append(draft.Units, u.draft())
	}

	tree, err := h.authoring.CreateProgram(c.Request.Context(), id, draft)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tree)
}

// ListPrograms handles GET /programs?subjectId=&coachId=.
func (h *ProgramHandler) ListPrograms(c *gin.Context) {
	subjectID, err := optionalID(c.Query("subjectId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid subjectId format")
		return
	}
	coachID, err := optionalID(c.Query("coachId"))
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid coachId format")
		return
	}
	id, _ := identityFromContext(c)

	programs, err := h.authoring.ListPrograms(c.Request.Context(), id, service.ProgramFilter{SubjectID: subjectID, CoachID: coachID})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, programs)
}

func (h *ProgramHandler) GetProgram(c *gin.Context) {
	programID, ok := pathID(c, "programId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	tree, err := h.authoring.GetProgram(c.Request.Context(), id, programID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tree)
}

func (h *ProgramHandler) UpdateProgram(c *gin.Context) {
	programID, ok := pathID(c, "programId")
	if !ok {
		return
	}
	var req UpdateProgramRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	id, _ := identityFromContext(c)
	program, err := h.authoring.UpdateProgram(c.Request.Context(), id, programID, service.ProgramPatch(req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, program)
}

func (h *ProgramHandler) DeleteProgram(c *gin.Context) {
	programID, ok := pathID(c, "programId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	if err := h.authoring.DeleteProgram(c.Request.Context(), id, programID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProgramHandler) ReassignProgram(c *gin.Context) {
	programID, ok := pathID(c, "programId")
	if !ok {
		return
	}
	var req ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	subjectID, err := primitive.ObjectIDFromHex(req.SubjectID)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid subjectId format")
		return
	}
	id, _ := identityFromContext(c)
	program, err := h.authoring.ReassignProgram(c.Request.Context(), id, programID, subjectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, program)
}

// --- Units ---

func (h *ProgramHandler) AddUnit(c *gin.Context) {
	programID, ok := pathID(c, "programId")
	if !ok {
		return
	}
	var req CreateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	id, _ := identityFromContext(c)
	unit, err := h.authoring.AddUnit(c.Request.Context(), id, programID, req.draft())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, unit)
}

func (h *ProgramHandler) UpdateUnit(c *gin.Context) {
	unitID, ok := pathID(c, "unitId")
	if !ok {
		return
	}
	var req UpdateUnitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	id, _ := identityFromContext(c)
	unit, err := h.authoring.UpdateUnit(c.Request.Context(), id, unitID, service.UnitPatch(req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, unit)
}

func (h *ProgramHandler) ReorderUnits(c *gin.Context) {
	programID, ok := pathID(c, "programId")
	if !ok {
		return
	}
	ordered, ok := bindOrder(c)
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	if err := h.authoring.ReorderUnits(c.Request.Context(), id, programID, ordered); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteUnit handles DELETE /units/:unitId?cascade=true.
func (h *ProgramHandler) DeleteUnit(c *gin.Context) {
	unitID, ok := pathID(c, "unitId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	if err := h.authoring.DeleteUnit(c.Request.Context(), id, unitID, cascade(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- Items ---

func (h *ProgramHandler) AddItem(c *gin.Context) {
	unitID, ok := pathID(c, "unitId")
	if !ok {
		return
	}
	var req CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	id, _ := identityFromContext(c)
	item, err := h.authoring.AddItem(c.Request.Context(), id, unitID, req.draft())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *ProgramHandler) UpdateItem(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	id, _ := identityFromContext(c)
	item, err := h.authoring.UpdateItem(c.Request.Context(), id, itemID, service.ItemPatch(req))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *ProgramHandler) ReorderItems(c *gin.Context) {
	unitID, ok := pathID(c, "unitId")
	if !ok {
		return
	}
	ordered, ok := bindOrder(c)
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	if err := h.authoring.ReorderItems(c.Request.Context(), id, unitID, ordered); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProgramHandler) DeleteItem(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	if err := h.authoring.DeleteItem(c.Request.Context(), id, itemID, cascade(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ProgramHandler) AddOption(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	var req OptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}
	id, _ := identityFromContext(c)
	option, err := h.authoring.AddOption(c.Request.Context(), id, itemID, req.draft())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, option)
}

func (h *ProgramHandler) RemoveOption(c *gin.Context) {
	itemID, ok := pathID(c, "itemId")
	if !ok {
		return
	}
	optionID, ok := pathID(c, "optionId")
	if !ok {
		return
	}
	id, _ := identityFromContext(c)
	if err := h.authoring.RemoveOption(c.Request.Context(), id, itemID, optionID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func bindOrder(c *gin.Context) ([]primitive.ObjectID, bool) {
	var req ReorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Validation error: "+err.Error())
		return nil, false
	}
	ids, err := parseIDs(req.OrderedIDs)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid ID in orderedIds")
		return nil, false
	}
	return ids, true
}

func cascade(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("cascade"))
	return v
}
