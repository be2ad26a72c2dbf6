package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"train-ticketing/models"
)

// PurchaseTicket buys one seat for one of the user's passengers
func (h *Handler) PurchaseTicket(c *gin.Context) {
	var req models.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	req.UserID = c.GetString(userKey)

	result, err := h.Tickets.Purchase(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, fmt.Sprintf("Ticket purchased, seat %s", result.Ticket.SeatNumber), result)
}

// ListTickets returns the user's tickets
func (h *Handler) ListTickets(c *gin.Context) {
	tickets, err := h.Tickets.ListTickets(c.Request.Context(), c.GetString(userKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", tickets)
}

// GetTicket returns one ticket
func (h *Handler) GetTicket(c *gin.Context) {
	ticket, err := h.Tickets.GetTicket(c.Request.Context(), c.GetString(userKey), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "", ticket)
}

// RefundTicket refunds a paid or issued ticket
func (h *Handler) RefundTicket(c *gin.Context) {
	result, err := h.Tickets.Refund(c.Request.Context(), models.RefundRequest{
		TicketID: c.Param("id"),
		UserID:   c.GetString(userKey),
		Role:     c.GetString(roleKey),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result.Message, result)
}

// ChangeTicket rebooks a ticket onto another schedule or class
func (h *Handler) ChangeTicket(c *gin.Context) {
	var req models.ChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	req.TicketID = c.Param("id")
	req.UserID = c.GetString(userKey)

	result, err := h.Tickets.Change(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result.Message, result)
}

// CheckIn marks a ticket as used
func (h *Handler) CheckIn(c *gin.Context) {
	ticket, err := h.Tickets.CheckIn(c.Request.Context(), c.GetString(userKey), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, "Checked in", ticket)
}
