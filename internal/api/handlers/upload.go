package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat_web/internal/service"
)

type UploadHandler struct {
	uploadService *service.UploadService
	maxSize       int64
}

func NewUploadHandler(uploadService *service.UploadService, maxSize int64) *UploadHandler {
	return &UploadHandler{uploadService: uploadService, maxSize: maxSize}
}

// Upload 接收 multipart 表單中的 file 欄位
func (h *UploadHandler) Upload(c *gin.Context) {
	// 預留表單其他欄位的空間
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+1<<20)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, fmt.Errorf("%w: limit %d bytes", service.ErrFileTooLarge, h.maxSize))
			return
		}
		writeError(c, fmt.Errorf("%w: file is required", service.ErrInvalidArgument))
		return
	}
	if fileHeader.Size > h.maxSize {
		writeError(c, fmt.Errorf("%w: limit %d bytes", service.ErrFileTooLarge, h.maxSize))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer file.Close()

	result, err := h.uploadService.Save(fileHeader.Filename, file)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
