package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicmap/civicmap/app/database"
	"github.com/civicmap/civicmap/app/pipeline"
	"github.com/civicmap/civicmap/app/tasks"
)

func NewHandler(postRepo database.PostRepository, locRepo database.LocationRepository,
	processor *pipeline.Processor, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		postRepo:  postRepo,
		locRepo:   locRepo,
		processor: processor,
		scheduler: scheduler,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if postCount, err := h.postRepo.GetPostCount(c.Request.Context()); err == nil {
		health["posts"] = postCount
	}
	if locationCount, err := h.locRepo.GetLocationCount(c.Request.Context()); err == nil {
		health["locations"] = locationCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListPosts(c *gin.Context) {
	posts, err := h.postRepo.GetAllPosts(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_posts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"posts": posts,
		"total": len(posts),
	})
}

func (h *Handler) APIListLocations(c *gin.Context) {
	locations, err := h.locRepo.GetLocations(c.Request.Context())
	if err != nil {
		slog.Error("Database error", "operation", "get_locations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"locations": locations,
		"total":     len(locations),
	})
}

func (h *Handler) APIGetStatus(c *gin.Context) {
	status := h.processor.Status()

	response := map[string]interface{}{
		"processing": status,
	}

	if postCount, err := h.postRepo.GetPostCount(c.Request.Context()); err == nil {
		response["post_count"] = postCount
	}
	if locationCount, err := h.locRepo.GetLocationCount(c.Request.Context()); err == nil {
		response["location_count"] = locationCount
	}

	c.JSON(http.StatusOK, response)
}

// APITriggerProcess enqueues a processing cycle instead of running it
// inline, so a slow cycle never ties up an HTTP worker. Overlap with an
// already running cycle is resolved by the processor itself.
func (h *Handler) APITriggerProcess(c *gin.Context) {
	task := tasks.NewProcessQueueTask(h.processor)
	if err := h.scheduler.EnqueueTask(task); err != nil {
		slog.Error("Error enqueueing process task", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue processing task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Processing cycle enqueued",
		"task": gin.H{
			"id":   task.ID,
			"type": task.Type,
		},
	})
}
