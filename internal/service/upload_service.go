package service

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/i2vstudio/api/internal/config"
)

// sniffSize covers every signature filetype knows about
const sniffSize = 261

// UploadService stores uploaded images in the shared uploads directory
type UploadService struct {
	dir     string
	maxSize int64
}

// NewUploadService creates an upload service rooted at cfg.Dir
func NewUploadService(cfg config.UploadsConfig) *UploadService {
	return &UploadService{
		dir:     cfg.Dir,
		maxSize: cfg.MaxSize(),
	}
}

// Dir returns the uploads directory
func (s *UploadService) Dir() string {
	return s.dir
}

// SaveImage writes the uploaded image under a unique, time-based name and
// returns its absolute path
func (s *UploadService) SaveImage(file *multipart.FileHeader) (string, error) {
	if file == nil {
		return "", invalidRequest("No file uploaded")
	}
	if s.maxSize > 0 && file.Size > s.maxSize {
		return "", invalidRequest("File size exceeds %dMB limit", s.maxSize/(1024*1024))
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	head = head[:n]

	if !filetype.IsImage(head) {
		return "", invalidRequest("Unsupported image type")
	}
	kind, _ := filetype.Match(head)

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if ext == "" {
		ext = "." + kind.Extension
	}

	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve uploads dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create uploads dir: %w", err)
	}

	name := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.New().String()[:8], ext)
	dstPath := filepath.Join(dir, name)

	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dstPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to write %s: %w", dstPath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("failed to write %s: %w", dstPath, err)
	}

	return dstPath, nil
}
