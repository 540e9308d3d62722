package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

const webPlayerIndex = "index.html"

// handleWebPlayer serves the static player from the web player directory.
// Nested paths are allowed but may not climb out of the directory.
func (s *Server) handleWebPlayer(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("filepath"), "/")
	if name == "" {
		name = webPlayerIndex
	}

	if !webPathAllowed(name) {
		s.abortNotFound(c, name)

		return
	}

	file, err := os.Open(filepath.Join(s.deps.WebPlayerDir, filepath.FromSlash(name)))
	if err != nil {
		s.abortNotFound(c, name)

		return
	}

	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.abortNotFound(c, name)

		return
	}

	c.Header("Content-Type", contentTypeFor(name))
	c.Header(headerCacheControl, cacheNoCache)

	// ServeContent, unlike ServeFile, does not redirect requests for index.html.
	http.ServeContent(c.Writer, c.Request, info.Name(), info.ModTime(), file)
}

func webPathAllowed(name string) bool {
	if strings.Contains(name, `\`) || filepath.IsAbs(name) {
		return false
	}

	for _, segment := range strings.Split(name, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}

	return true
}
