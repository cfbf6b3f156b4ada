package handlers

import (
	"sort"

	"crmflow/internal/services"
	"crmflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type CatalogHandler struct {
	catalog *services.ActionCatalog
}

func NewCatalogHandler() *CatalogHandler {
	return &CatalogHandler{catalog: services.GetActionCatalog()}
}

// List 列出全部已注册的动作类型及其元数据
func (h *CatalogHandler) List(c *gin.Context) {
	entries := h.catalog.List()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ActionType < entries[j].ActionType })
	response.Success(c, entries)
}
