package routes

import (
	"github.com/EvgeniiGolubev/backend-test-task/api/handlers"
	"github.com/EvgeniiGolubev/backend-test-task/api/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func PublicApi(router *gin.Engine, h *handlers.Handler) *gin.RouterGroup {
	publicEndpoints := router.Group("/api/v1/")
	{
		publicEndpoints.POST("auth/register", h.Register)
		publicEndpoints.POST("auth/login", h.Login)
	}
	return publicEndpoints
}

func ProtectedApi(router *gin.Engine, h *handlers.Handler, resolver middleware.TokenResolver) *gin.RouterGroup {
	protectedEndpoints := router.Group("/api/v1/", middleware.AuthMiddleware(resolver))
	{
		protectedEndpoints.POST("auth/logout", h.Logout)

		// Профиль, подписки и друзья
		protectedEndpoints.GET("profile", h.GetProfile)
		protectedEndpoints.GET("profile/subscriptions", h.GetSubscriptions)
		protectedEndpoints.GET("profile/subscribers", h.GetSubscribers)
		protectedEndpoints.GET("profile/subscribers/pending", h.GetPendingSubscribers)
		protectedEndpoints.GET("profile/friends", h.GetFriends)
		protectedEndpoints.POST("profile/change-subscription/:channel_id", h.ChangeSubscription)
		protectedEndpoints.POST("profile/change-status/:subscriber_id", h.ChangeStatus)

		// Посты и лента
		protectedEndpoints.POST("posts", h.CreatePost)
		protectedEndpoints.DELETE("posts/:id", h.DeletePost)
		protectedEndpoints.GET("feed", h.GetFeed)

		// Сообщения друзьям
		protectedEndpoints.POST("messages/:user_id", h.SendMessage)
		protectedEndpoints.GET("messages/:user_id", h.ListMessages)

		protectedEndpoints.GET("ws", h.Notifications)
	}
	return protectedEndpoints
}

func MetricsApi(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
