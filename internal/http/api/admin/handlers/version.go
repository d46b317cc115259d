package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BuildVersion is stamped at link time via
// -ldflags "-X .../handlers.BuildVersion=v1.2.3".
var BuildVersion = "dev"

// VersionHandler reports the running build version.
type VersionHandler struct{}

// NewVersionHandler constructs a version handler.
func NewVersionHandler() *VersionHandler {
	return &VersionHandler{}
}

// GetVersion returns the build version string.
func (h *VersionHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": BuildVersion})
}
