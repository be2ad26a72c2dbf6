// Package handlers exposes the ticketing services over HTTP with gin.
//
// Authentication is handled upstream: the acting user arrives in the
// X-User-ID header and an optional role in X-User-Role.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"train-ticketing/models"
	"train-ticketing/services"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"

	userKey = "user_id"
	roleKey = "user_role"
)

// Handler holds the services behind the API
type Handler struct {
	Schedules  *services.ScheduleService
	Tickets    *services.TicketService
	Orders     *services.OrderService
	Passengers *services.PassengerService
	Logger     *logrus.Logger
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	if h.Logger == nil {
		h.Logger = logrus.StandardLogger()
	}

	router := gin.New()
	router.Use(gin.Recovery(), h.requestLogger())

	// CORS configuration
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", HeaderUserID, HeaderUserRole},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	api := router.Group("/api")
	{
		// Timetable routes
		api.GET("/stations", h.GetStations)
		api.GET("/schedules", h.SearchSchedules)
		api.GET("/schedules/:id", h.GetSchedule)
		api.POST("/schedules/:id/status", h.identify, h.SetScheduleStatus)

		// Ticket routes
		tickets := api.Group("/tickets", h.identify)
		tickets.POST("", h.PurchaseTicket)
		tickets.GET("", h.ListTickets)
		tickets.GET("/:id", h.GetTicket)
		tickets.POST("/:id/refund", h.RefundTicket)
		tickets.POST("/:id/change", h.ChangeTicket)
		tickets.POST("/:id/checkin", h.CheckIn)

		// Order routes
		orders := api.Group("/orders", h.identify)
		orders.GET("", h.ListOrders)
		orders.GET("/:id", h.GetOrder)

		// Passenger routes
		passengers := api.Group("/passengers", h.identify)
		passengers.POST("", h.AddPassenger)
		passengers.GET("", h.ListPassengers)
		passengers.DELETE("/:id", h.DeletePassenger)
		passengers.POST("/:id/default", h.SetDefaultPassenger)
	}

	// 404 handler
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.Response{Success: false, Message: "Route not found"})
	})

	return router
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.Logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("Request served")
	}
}

// identify rejects requests without an acting user
func (h *Handler) identify(c *gin.Context) {
	userID := c.GetHeader(HeaderUserID)
	if userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.Response{
			Success: false,
			Message: HeaderUserID + " header is required",
		})
		return
	}
	c.Set(userKey, userID)
	c.Set(roleKey, c.GetHeader(HeaderUserRole))
	c.Next()
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := models.HTTPStatus(err)
	entry := h.Logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	message := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		entry.Error("Request failed")
		message = "Internal error, the request could not be completed"
	} else {
		entry.Info("Request rejected")
	}
	c.JSON(status, models.Response{Success: false, Message: message})
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.Response{Success: false, Message: err.Error()})
}

func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, models.Response{Success: true, Message: message, Data: data})
}
