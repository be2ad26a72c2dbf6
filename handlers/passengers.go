package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"train-ticketing/models"
)

// AddPassenger registers a traveller under the user
func (h *Handler) AddPassenger(c *gin.Context) {
	var req models.PassengerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	p, err := h.Passengers.Add(c.Request.Context(), c.GetString(userKey), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, "Passenger added", p)
}

// ListPassengers returns the user's travellers, default first
func (h *Handler) ListPassengers(c *gin.Context) {
	passengers, err := h.Passengers.List(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", passengers)
}

// DeletePassenger removes a traveller no ticket refers to
func (h *Handler) DeletePassenger(c *gin.Context) {
	if err := h.Passengers.Delete(c.Request.Context(), c.GetString(userKey), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Passenger deleted", nil)
}

// SetDefaultPassenger makes a traveller the user's default
func (h *Handler) SetDefaultPassenger(c *gin.Context) {
	p, err := h.Passengers.SetDefault(c.Request.Context(), c.GetString(userKey), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Default passenger updated", p)
}
