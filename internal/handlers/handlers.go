package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/id-verify/internal/imaging"
	"github.com/example/id-verify/internal/metrics"
	"github.com/example/id-verify/internal/task"
	"github.com/example/id-verify/internal/usecase"
)

// MaxBodyBytes bounds a submit request: four base64 images plus JSON overhead.
const MaxBodyBytes = 24 << 20

// submitBody is the submit request wire format. Each slot carries exactly one
// of img_base64_str or img_url.
type submitBody struct {
	IDCard         imaging.Input `json:"id_card"`
	IDCardBack     imaging.Input `json:"id_card_back"`
	HealthCard     imaging.Input `json:"health_card"`
	HoldCardSelfie imaging.Input `json:"hold_card_selfie"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.VerificationUseCase, authMiddleware gin.HandlerFunc) {
	router.Use(prometheusMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1", authMiddleware)

	v1.POST("/selfie-id/verify", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

		var body submitBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
			return
		}

		taskID, err := uc.Submit(c.Request.Context(), usecase.SubmitRequest{
			IDCardFront: body.IDCard,
			IDCardBack:  body.IDCardBack,
			HealthCard:  body.HealthCard,
			Selfie:      body.HoldCardSelfie,
		})
		if err != nil {
			if errors.Is(err, usecase.ErrInvalidInput) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create verification task"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"task_id": taskID})
	})

	// While the task is in flight the response body carries no verdict
	// fields; clients detect completion by the presence of is_valid_bool.
	v1.GET("/selfie-id/verify", func(c *gin.Context) {
		taskID := c.Query("task_id")
		if taskID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "task_id is required"})
			return
		}

		poll, err := uc.Poll(c.Request.Context(), taskID)
		if err != nil {
			if errors.Is(err, usecase.ErrTaskNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "unknown task_id"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read task"})
			return
		}

		switch {
		case poll.Status == task.StatusFailed:
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": string(poll.Status),
				"error":  "verification could not be completed",
			})
		case poll.Result != nil:
			c.JSON(http.StatusOK, poll.Result)
		default:
			c.JSON(http.StatusOK, gin.H{"status": string(poll.Status)})
		}
	})

	v1.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// prometheusMiddleware records request counts and latency per route.
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start).Seconds())
	}
}
