package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/EvgeniiGolubev/backend-test-task/api/middleware"
	"github.com/EvgeniiGolubev/backend-test-task/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler - HTTP обработчики поверх сервисов
type Handler struct {
	users    *services.UserService
	profile  *services.ProfileService
	engine   *services.RelationEngine
	posts    *services.PostService
	messages *services.MessageService
	ws       *services.WSConnManager
}

type Deps struct {
	Users    *services.UserService
	Profile  *services.ProfileService
	Engine   *services.RelationEngine
	Posts    *services.PostService
	Messages *services.MessageService
	WS       *services.WSConnManager
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		users:    deps.Users,
		profile:  deps.Profile,
		engine:   deps.Engine,
		posts:    deps.Posts,
		messages: deps.Messages,
		ws:       deps.WS,
	}
}

// errorStatus сопоставляет ошибки сервисов HTTP статусам
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrSelfRelation),
		errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrEmptyPost):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrParticipantNotFound),
		errors.Is(err, services.ErrRelationNotFound),
		errors.Is(err, services.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotFriends):
		return http.StatusForbidden
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrUserExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(middleware.USER_ID_KEY)
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// queryBool читает обязательный булев параметр запроса (true/false)
func queryBool(c *gin.Context, name string) (bool, bool) {
	value, err := strconv.ParseBool(c.Query(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name + ", expected true or false"})
		return false, false
	}
	return value, true
}
