package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.users.FindByID(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) GetSubscriptions(c *gin.Context) {
	users, err := h.profile.GetSubscriptions(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": users})
}

func (h *Handler) GetSubscribers(c *gin.Context) {
	subscribers, err := h.profile.GetSubscribers(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscribers": subscribers})
}

// GetPendingSubscribers - входящие заявки, ещё не подтверждённые пользователем
func (h *Handler) GetPendingSubscribers(c *gin.Context) {
	users, err := h.profile.GetPendingSubscribers(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": users})
}

func (h *Handler) GetFriends(c *gin.Context) {
	friends, err := h.profile.GetFriends(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friends})
}

// ChangeSubscription - подписка (subscribe=true) или отписка текущего пользователя от канала channel_id
func (h *Handler) ChangeSubscription(c *gin.Context) {
	channelID, ok := paramID(c, "channel_id")
	if !ok {
		return
	}
	subscribe, ok := queryBool(c, "subscribe")
	if !ok {
		return
	}

	if err := h.engine.SetFollowing(c.Request.Context(), currentUserID(c), channelID, subscribe); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscription updated"})
}

// ChangeStatus - подтверждение (status=true) или отклонение подписчика subscriber_id
func (h *Handler) ChangeStatus(c *gin.Context) {
	subscriberID, ok := paramID(c, "subscriber_id")
	if !ok {
		return
	}
	accept, ok := queryBool(c, "status")
	if !ok {
		return
	}

	if err := h.engine.RespondToFollower(c.Request.Context(), currentUserID(c), subscriberID, accept); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Subscriber status updated"})
}
