package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/Wikid82/argus/internal/api/response"
	"github.com/Wikid82/argus/internal/cerberus"
)

// UploadHandler acknowledges files that passed the upload guard.
type UploadHandler struct{}

func NewUploadHandler() *UploadHandler { return &UploadHandler{} }

// Create must be mounted behind Cerberus.UploadGuard.
func (h *UploadHandler) Create(c *gin.Context) {
	v, ok := c.Get(cerberus.UploadKey)
	up, _ := v.(*cerberus.ScannedUpload)
	if !ok || up == nil {
		response.Error(c, http.StatusInternalServerError, "upload guard not configured")
		return
	}

	body := gin.H{
		"filename":  up.Upload.Filename,
		"stored_as": filepath.Base(up.Upload.Path),
		"size":      up.Upload.Size,
		"mime_type": up.Upload.MIMEType,
		"scanned":   up.Outcome != nil,
	}
	if up.Outcome != nil {
		body["scan"] = up.Outcome.Result
	}
	c.JSON(http.StatusCreated, body)
}
