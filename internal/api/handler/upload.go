package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstream/corpusd/internal/api/middleware"
	"github.com/docstream/corpusd/internal/service"
)

// UploadHandler handles document intake endpoints.
type UploadHandler struct {
	intake *service.IntakeService
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(intake *service.IntakeService) *UploadHandler {
	return &UploadHandler{intake: intake}
}

// uploadForm is the JSON body of a deferred upload: the client declares the
// content hash and receives a presigned write target for the bytes.
type uploadForm struct {
	Filename    string `json:"filename" binding:"required"`
	MimeType    string `json:"mime_type" binding:"required"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash" binding:"required"`
}

// Upload handles POST /api/v1/documents.
//
// Two content types are accepted: multipart/form-data carries the file bytes
// inline, application/json declares a content hash and defers the bytes to a
// presigned upload.
func (h *UploadHandler) Upload(c *gin.Context) {
	if c.ContentType() == "application/json" {
		h.uploadDeferred(c)
		return
	}
	h.uploadInline(c)
}

func (h *UploadHandler) uploadInline(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read uploaded file"})
		return
	}

	mimeType := fileHeader.Header.Get("Content-Type")
	req := &service.UploadRequest{
		OwnerID:      middleware.OwnerID(c),
		Filename:     fileHeader.Filename,
		MimeType:     mimeType,
		DeclaredSize: fileHeader.Size,
		ContentHash:  c.PostForm("content_hash"),
		Content:      content,
	}

	result, err := h.intake.Upload(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(statusFor(result), result)
}

func (h *UploadHandler) uploadDeferred(c *gin.Context) {
	var form uploadForm
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	req := &service.UploadRequest{
		OwnerID:      middleware.OwnerID(c),
		Filename:     form.Filename,
		MimeType:     form.MimeType,
		DeclaredSize: form.Size,
		ContentHash:  form.ContentHash,
	}

	result, err := h.intake.Upload(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(statusFor(result), result)
}

func statusFor(result *service.UploadResult) int {
	if result.Duplicate {
		return http.StatusOK
	}
	return http.StatusAccepted
}
