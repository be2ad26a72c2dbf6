package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListOrders returns the user's orders with their tickets
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.Orders.ListOrders(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", orders)
}

// GetOrder returns one order with its tickets
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.Orders.GetOrder(c.Request.Context(), c.GetString(userKey), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", order)
}
