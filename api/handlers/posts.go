package handlers

import (
	"net/http"
	"strconv"

	"github.com/EvgeniiGolubev/backend-test-task/services"

	"github.com/gin-gonic/gin"
)

// CreatePost создает новый пост
func (h *Handler) CreatePost(c *gin.Context) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	post, err := h.posts.CreatePost(c.Request.Context(), currentUserID(c), req.Title, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, post)
}

func (h *Handler) DeletePost(c *gin.Context) {
	postID, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.posts.DeletePost(c.Request.Context(), currentUserID(c), postID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Post deleted"})
}

// GetFeed получает ленту постов каналов, на которые подписан пользователь
func (h *Handler) GetFeed(c *gin.Context) {
	var lastID int64
	limit := services.DEFAULT_FEED_LIMIT

	if lastIDStr := c.Query("last_id"); lastIDStr != "" {
		if parsed, err := strconv.ParseInt(lastIDStr, 10, 64); err == nil {
			lastID = parsed
		}
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 && parsed <= services.MAX_FEED_LIMIT {
			limit = parsed
		}
	}

	feed, err := h.posts.GetFeed(c.Request.Context(), currentUserID(c), lastID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}
