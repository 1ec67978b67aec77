package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkorchagin/skyfare/internal/service/booking"
	"github.com/pkorchagin/skyfare/internal/service/catalog"
)

type FlightHandler struct {
	catalog  catalog.CatalogUseCase
	bookings booking.BookingUseCase
}

func NewFlightHandler(catalogSvc catalog.CatalogUseCase, bookingSvc booking.BookingUseCase) *FlightHandler {
	return &FlightHandler{catalog: catalogSvc, bookings: bookingSvc}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.GET("/", h.list)
	router.GET("/:id", h.get)
	router.GET("/:id/schedule", h.schedule)
	router.GET("/availability/:flight_tariff_id", h.availability)
}

func (h *FlightHandler) list(c *gin.Context) {
	flights, err := h.catalog.ListFlights(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, flights)
}

func (h *FlightHandler) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	flight, err := h.catalog.GetFlight(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, flight)
}

func (h *FlightHandler) schedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	schedule, err := h.catalog.FlightSchedule(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, schedule)
}

func (h *FlightHandler) availability(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("flight_tariff_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid flight_tariff_id"})
		return
	}
	availability, err := h.bookings.AvailableSeats(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, availability)
}
