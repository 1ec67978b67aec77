package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkorchagin/skyfare/internal/domain"
	"github.com/pkorchagin/skyfare/internal/service/consent"
)

type ConsentHandler struct {
	service consent.ConsentUseCase
}

func NewConsentHandler(service consent.ConsentUseCase) *ConsentHandler {
	return &ConsentHandler{service: service}
}

func (h *ConsentHandler) Register(router *gin.RouterGroup) {
	router.GET("/:type", h.current)
	router.POST("/events", h.record)
}

func (h *ConsentHandler) RegisterAdmin(router *gin.RouterGroup) {
	router.PUT("/:type", h.publish)
}

func (h *ConsentHandler) current(c *gin.Context) {
	doc, err := h.service.Current(c.Request.Context(), domain.ConsentDocType(c.Param("type")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *ConsentHandler) record(c *gin.Context) {
	var req consent.RecordInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.ClientIP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()
	if req.UserID == nil {
		req.UserID = userID(c)
	}

	ev, err := h.service.Record(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

type publishConsentRequest struct {
	Content string `json:"content"`
}

func (h *ConsentHandler) publish(c *gin.Context) {
	var req publishConsentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := h.service.Publish(c.Request.Context(), domain.ConsentDocType(c.Param("type")), req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}
