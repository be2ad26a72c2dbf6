package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"train-ticketing/models"
	"train-ticketing/policy"
)

// GetStations returns all known stations
func (h *Handler) GetStations(c *gin.Context) {
	ok(c, http.StatusOK, "", h.Schedules.GetAllStations())
}

// SearchSchedules searches for schedules by stations, date and time of day
func (h *Handler) SearchSchedules(c *gin.Context) {
	var req models.ScheduleSearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	results, err := h.Schedules.Search(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", results)
}

// GetSchedule returns one schedule with live availability
func (h *Handler) GetSchedule(c *gin.Context) {
	schedule, err := h.Schedules.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", schedule)
}

type statusRequest struct {
	Status models.ScheduleStatus `json:"status" binding:"required"`
}

// SetScheduleStatus suspends, cancels or reactivates a schedule; operators only
func (h *Handler) SetScheduleStatus(c *gin.Context) {
	if c.GetString(roleKey) != policy.RoleOperator {
		h.fail(c, models.ErrUnauthorized)
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	id := c.Param("id")
	if err := h.Schedules.SetStatus(c.Request.Context(), id, req.Status); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Schedule "+id+" is now "+string(req.Status), nil)
}
