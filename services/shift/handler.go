package shift

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"shiftline-backend/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	{
		v1.POST("/shifts", h.CreateShift)
		v1.GET("/shifts", h.RecentShifts)
		v1.GET("/shifts/statistics", h.Statistics)
		v1.DELETE("/shifts/:id", h.CancelShift)
		v1.GET("/shifts/active", h.ActiveSnapshot)
		v1.GET("/shifts/active/stream", h.StreamActive)
		v1.POST("/shifts/active/packings", h.LogPacking)
		v1.POST("/shifts/active/advance", h.AdvanceActiveTask)
	}
}

func (h *Handler) CreateShift(c *gin.Context) {
	var req CreateShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid shift payload", err))
		return
	}

	shift, err := h.svc.CreateShift(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "shift created", "shift": shift})
}

func (h *Handler) RecentShifts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	shifts, err := h.svc.RecentShifts(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, shifts)
}

func (h *Handler) Statistics(c *gin.Context) {
	stats, err := h.svc.Statistics(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) CancelShift(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errutil.BadRequest("invalid shift id", err))
		return
	}

	if err := h.svc.CancelShift(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "shift cancelled"})
}

func (h *Handler) ActiveSnapshot(c *gin.Context) {
	snap, shiftID, err := h.svc.ActiveSnapshot(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shift_id": shiftID, "data": snap})
}

type logPackingRequest struct {
	SID      int             `json:"sid"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (h *Handler) LogPacking(c *gin.Context) {
	var req logPackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid packing payload", err))
		return
	}

	log, err := h.svc.LogPacking(c.Request.Context(), req.SID, req.Metadata)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, log)
}

func (h *Handler) AdvanceActiveTask(c *gin.Context) {
	next, err := h.svc.AdvanceActiveTask(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active_task_index": next})
}

// StreamActive bridges the shift's event channel onto SSE. The first frame
// is a full snapshot; everything after is live events. Delivery is
// at-most-once: a reconnecting client starts from a fresh snapshot.
func (h *Handler) StreamActive(c *gin.Context) {
	ctx := c.Request.Context()

	shiftID, events, cancel, err := h.svc.SubscribeActive(ctx)
	if err != nil {
		c.Error(err)
		return
	}
	defer cancel()

	snap, _, err := h.svc.ActiveSnapshot(ctx)
	if err != nil {
		c.Error(err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("shift_init", gin.H{"shift_id": shiftID, "data": snap})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}
