package handler

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/support-bot/internal/transcript"
)

// TranscriptOpener reads a stored transcript by file name.
type TranscriptOpener interface {
	Open(name string) ([]byte, error)
}

type TranscriptHandler struct {
	files TranscriptOpener
	key   []byte
}

// NewTranscriptHandler serves requester transcripts. With a non-empty key every
// request must carry the token the close notice linked to.
func NewTranscriptHandler(files TranscriptOpener, key []byte) *TranscriptHandler {
	return &TranscriptHandler{files: files, key: key}
}

// Get serves the requester copy of a transcript. Full transcripts carry staff
// notes and are only posted to the log channel.
func (h *TranscriptHandler) Get(c *gin.Context) {
	name := c.Param("name")
	if !strings.HasSuffix(name, "-user.html") || strings.ContainsAny(name, `/\`) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	if len(h.key) > 0 && !transcript.Verify(h.key, name, c.Query("token")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	data, err := h.files.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read transcript"})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}
