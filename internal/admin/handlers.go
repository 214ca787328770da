package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"salonhub-backend/internal/models"
	"salonhub-backend/internal/scheduler"
	"salonhub-backend/pkg/utils"
)

var Scheduler *scheduler.Scheduler

// Init wires the handler dependencies.
func Init(s *scheduler.Scheduler) {
	Scheduler = s
}

// HandleGetJobs returns the schedule and last-run state of every
// registered job
func HandleGetJobs(c *gin.Context) {
	statuses, err := Scheduler.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch job status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": statuses})
}

// HandleRunJob triggers a job outside its schedule. The run itself is
// synchronous so the caller sees the outcome.
func HandleRunJob(c *gin.Context) {
	jobID := c.Param("id")
	if !Scheduler.Known(jobID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job: " + jobID})
		return
	}

	if err := Scheduler.RunJob(c.Request.Context(), jobID, models.JobTriggerManual); err != nil {
		utils.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Job completed", "job": jobID})
}
