package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/tts-stream-service/internal/core"
	"github.com/gin-gonic/gin"
)

const defaultContentType = "application/octet-stream"

var downloadContentTypes = map[string]string{
	".html": "text/html",
	".js":   "application/javascript",
	".css":  "text/css",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
}

// contentTypeFor looks the extension up in a fixed table; anything else,
// audio included, is served as an opaque attachment.
func contentTypeFor(name string) string {
	if contentType, ok := downloadContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return contentType
	}

	return defaultContentType
}

// handleDownload serves a file from the temp directory. Only bare file names
// resolve; anything that could escape the directory is reported as missing.
func (s *Server) handleDownload(c *gin.Context) {
	name := c.Param("filename")

	if name == "" || name == "." || name == ".." || filepath.Base(name) != name || strings.ContainsAny(name, `/\`) {
		s.abortNotFound(c, name)

		return
	}

	path := filepath.Join(s.deps.TempDir, name)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		s.abortNotFound(c, name)

		return
	}

	c.Header("Content-Type", contentTypeFor(name))
	c.Header(headerCacheControl, cacheNoCache)
	c.FileAttachment(path, name)
}

func (s *Server) abortNotFound(c *gin.Context, name string) {
	s.abortWithError(c, http.StatusNotFound, core.CodeNotFound,
		"File not found: "+name, core.ErrorTypeInvalidRequest)
}
