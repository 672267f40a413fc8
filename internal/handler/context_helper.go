package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/middleware"
	"github.com/taskdesk/taskdesk-api/internal/models"
)

func principalFromContext(c *gin.Context) (models.Principal, bool) {
	return middleware.PrincipalFromContext(c)
}
