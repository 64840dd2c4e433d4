package api

import (
	"alcyxob/coachsync/internal/domain"
	"alcyxob/coachsync/internal/identity"
	"alcyxob/coachsync/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(
	router *gin.Engine,
	provider identity.Provider,
	authoringService service.AuthoringService,
	completionService service.CompletionService,
	notificationHandler *NotificationHandler,
) {
	programHandler := NewProgramHandler(authoringService)
	completionHandler := NewCompletionHandler(completionService)

	authMiddleware := AuthMiddleware(provider)
	coachOnly := RoleMiddleware(domain.RoleCoach)
	subjectOnly := RoleMiddleware(domain.RoleSubject)

	router.Use(RequestLogger())

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")

	// The websocket authenticates with its first frame, not a header.
	if notificationHandler != nil {
		apiV1.GET("/notifications/ws", notificationHandler.Subscribe)
	}

	protected := apiV1.Group("")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", func(c *gin.Context) {
			id, err := identityFromContext(c)
			if err != nil {
				abortWithError(c, http.StatusInternalServerError, "Failed to read identity")
				return
			}
			c.JSON(http.StatusOK, gin.H{"userId": id.ActorID.Hex(), "role": id.Role})
		})

		// --- Programs ---
		programs := protected.Group("/programs")
		{
			programs.POST("", coachOnly, programHandler.CreateProgram)
			programs.GET("", programHandler.ListPrograms)
			programs.GET("/:programId", programHandler.GetProgram)
			programs.PATCH("/:programId", coachOnly, programHandler.UpdateProgram)
			// Administrators may delete too; the service decides.
			programs.DELETE("/:programId", RoleMiddleware(domain.RoleCoach, domain.RoleAdministrator), programHandler.DeleteProgram)
			programs.POST("/:programId/reassign", coachOnly, programHandler.ReassignProgram)
			programs.POST("/:programId/units", coachOnly, programHandler.AddUnit)
			programs.PUT("/:programId/units/order", coachOnly, programHandler.ReorderUnits)
			programs.GET("/:programId/completions", completionHandler.ListProgramCompletions)
		}

		// --- Units ---
		units := protected.Group("/units")
		units.Use(coachOnly)
		{
			units.PATCH("/:unitId", programHandler.UpdateUnit)
			units.DELETE("/:unitId", programHandler.DeleteUnit)
			units.POST("/:unitId/items", programHandler.AddItem)
			units.PUT("/:unitId/items/order", programHandler.ReorderItems)
		}

		// --- Items ---
		items := protected.Group("/items")
		{
			items.PATCH("/:itemId", coachOnly, programHandler.UpdateItem)
			items.DELETE("/:itemId", coachOnly, programHandler.DeleteItem)
			items.POST("/:itemId/options", coachOnly, programHandler.AddOption)
			items.DELETE("/:itemId/options/:optionId", coachOnly, programHandler.RemoveOption)

			items.POST("/:itemId/completions", subjectOnly, completionHandler.LogCompletion)
			items.GET("/:itemId/completions", completionHandler.ListItemCompletions)
			items.POST("/:itemId/photos", subjectOnly, completionHandler.RequestPhotoUpload)
		}

		// --- Completions ---
		completions := protected.Group("/completions")
		{
			completions.GET("/:completionId", completionHandler.GetCompletion)
			completions.GET("/:completionId/photo", completionHandler.PhotoURL)
			completions.POST("/:completionId/approve", coachOnly, completionHandler.Approve)
			completions.POST("/:completionId/reject", coachOnly, completionHandler.Reject)
			completions.POST("/:completionId/revoke", coachOnly, completionHandler.Revoke)
		}
	}
}
