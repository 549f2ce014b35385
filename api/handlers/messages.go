package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// SendMessage - отправка сообщения другу
func (h *Handler) SendMessage(c *gin.Context) {
	toUserID, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), currentUserID(c), toUserID, req.Text)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// ListMessages - история переписки с другом
func (h *Handler) ListMessages(c *gin.Context) {
	otherUserID, ok := paramID(c, "user_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, err := h.messages.History(c.Request.Context(), currentUserID(c), otherUserID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}
