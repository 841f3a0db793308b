package handler

import "github.com/gin-gonic/gin"

// Register 注册API路由
func Register(api *gin.RouterGroup, h *CloneHandler) {
	api.POST("/segment", h.Segment)
	api.GET("/selection/:id", h.GetSelection)
	api.POST("/composite", h.Composite)
}
