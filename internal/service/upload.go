package service

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
)

// UploadResult POST /upload/ 的回應
type UploadResult struct {
	Filename    string `json:"filename"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// UploadService 將上傳的檔案存到本機目錄
// 檔名以內容的 blake2b 雜湊決定, 相同內容只存一份, 也避免路徑穿越
type UploadService struct {
	dir       string
	urlPrefix string
	maxSize   int64
	log       *slog.Logger
}

func NewUploadService(dir, urlPrefix string, maxSize int64, log *slog.Logger) (*UploadService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadService{
		dir:       dir,
		urlPrefix: strings.TrimRight(urlPrefix, "/"),
		maxSize:   maxSize,
		log:       log,
	}, nil
}

// Dir 上傳目錄, 供靜態檔案路由使用
func (s *UploadService) Dir() string { return s.dir }

// URLPrefix 對外的 URL 前綴
func (s *UploadService) URLPrefix() string { return s.urlPrefix }

// Save 讀取 r 並存檔; 超過上限回傳 ErrFileTooLarge
func (s *UploadService) Save(filename string, r io.Reader) (*UploadResult, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrFileTooLarge, s.maxSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidArgument)
	}

	mt := mimetype.Detect(data)
	sum := blake2b.Sum256(data)
	stored := hex.EncodeToString(sum[:16]) + extension(filename, mt)

	target := filepath.Join(s.dir, stored)
	if _, err := os.Stat(target); err != nil {
		if err := writeAtomic(s.dir, target, data); err != nil {
			return nil, err
		}
	}

	s.log.Info("file uploaded", "filename", filename, "stored", stored, "size", len(data), "mime", mt.String())
	return &UploadResult{
		Filename:    filepath.Base(filename),
		URL:         path.Join(s.urlPrefix, stored),
		ContentType: mt.String(),
		Size:        int64(len(data)),
	}, nil
}

// extension 以偵測到的類型為主, 偵測不到時才用原始副檔名
func extension(filename string, mt *mimetype.MIME) string {
	if ext := mt.Extension(); ext != "" {
		return ext
	}
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	for _, r := range ext[min(1, len(ext)):] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	return nil
}
