package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkorchagin/skyfare/internal/service/booking"
)

type BookingHandler struct {
	service booking.BookingUseCase
}

func NewBookingHandler(service booking.BookingUseCase) *BookingHandler {
	return &BookingHandler{service: service}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("/quote", h.quote)
	router.POST("/", h.create)
	router.GET("/:public_id", h.details)
	router.PUT("/:public_id/passengers", h.assignPassengers)
}

func (h *BookingHandler) RegisterAdmin(router *gin.RouterGroup) {
	router.DELETE("/:id", h.adminCancel)
}

func (h *BookingHandler) quote(c *gin.Context) {
	var req booking.QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quote, err := h.service.Quote(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, quote)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req booking.CreateBookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.UserID = userID(c)

	created, err := h.service.CreateDraft(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *BookingHandler) details(c *gin.Context) {
	details, err := h.service.Details(c.Request.Context(), c.Param("public_id"), accessToken(c), userID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *BookingHandler) assignPassengers(c *gin.Context) {
	var req booking.AssignPassengersInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.PublicID = c.Param("public_id")
	req.AccessToken = accessToken(c)
	req.UserID = userID(c)
	req.Client = booking.ClientMetadata{
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		Fingerprint: c.GetHeader("X-Fingerprint"),
	}

	updated, err := h.service.AssignPassengers(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *BookingHandler) adminCancel(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	cancelled, err := h.service.AdminCancel(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelled)
}
