package web

import (
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServeEmbeddedPage writes an embedded HTML document that must not be cached.
func ServeEmbeddedPage(contextGin *gin.Context, filesystem fs.ReadFileFS, path string) {
	data, readErr := filesystem.ReadFile(path)
	if readErr != nil {
		contextGin.AbortWithStatus(http.StatusNotFound)
		return
	}
	contextGin.Header("Cache-Control", "no-store")
	contextGin.Header("X-Content-Type-Options", "nosniff")
	contextGin.Data(http.StatusOK, "text/html; charset=utf-8", data)
}
