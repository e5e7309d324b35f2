// internal/services/storage_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/handoff-backend/internal/config"
)

// EvidenceStore keeps files attached to disputes.
type EvidenceStore interface {
	Upload(ctx context.Context, file io.Reader, filename string, size int64, options UploadOptions) (*UploadResult, error)
}

type StorageService struct {
	s3Client s3iface.S3API
	config   config.AWSConfig
	logger   *logrus.Logger
}

type UploadResult struct {
	URL      string `json:"url"`
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

type UploadOptions struct {
	Folder       string
	MaxSize      int64 // in bytes
	AllowedTypes []string
}

// EvidenceUploadOptions limits dispute evidence to photos and PDFs.
func EvidenceUploadOptions(disputeID uuid.UUID) UploadOptions {
	return UploadOptions{
		Folder:       "disputes/" + disputeID.String(),
		MaxSize:      10 * 1024 * 1024, // 10MB
		AllowedTypes: []string{".jpg", ".jpeg", ".png", ".pdf"},
	}
}

func NewStorageService(cfg config.AWSConfig, logger *logrus.Logger) (*StorageService, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.AccessKeyID == "" {
		// No S3 for local development
		return &StorageService{config: cfg, logger: logger}, nil
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return NewStorageServiceWithClient(s3.New(sess), cfg, logger), nil
}

func NewStorageServiceWithClient(client s3iface.S3API, cfg config.AWSConfig, logger *logrus.Logger) *StorageService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StorageService{s3Client: client, config: cfg, logger: logger}
}

func (s *StorageService) Upload(ctx context.Context, file io.Reader, filename string, size int64, options UploadOptions) (*UploadResult, error) {
	if options.MaxSize > 0 && size > options.MaxSize {
		return nil, fmt.Errorf("file size %d bytes exceeds maximum allowed size %d bytes", size, options.MaxSize)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if len(options.AllowedTypes) > 0 {
		allowed := false
		for _, allowedType := range options.AllowedTypes {
			if ext == allowedType {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, fmt.Errorf("file type %s is not allowed", ext)
		}
	}

	fileBytes, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if options.MaxSize > 0 && int64(len(fileBytes)) > options.MaxSize {
		return nil, fmt.Errorf("file exceeds maximum allowed size %d bytes", options.MaxSize)
	}

	// Trust the content, not the client-supplied header.
	contentType := http.DetectContentType(fileBytes)
	if !contentMatchesExt(contentType, ext) {
		return nil, fmt.Errorf("file content %s does not match extension %s", contentType, ext)
	}

	key := s.generateFileName(filename, options.Folder)

	if s.s3Client == nil {
		return s.uploadToLocal(fileBytes, key, contentType), nil
	}

	_, err = s.s3Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.S3Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(fileBytes),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(fileBytes))),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &UploadResult{
		URL:      s.getS3URL(key),
		Key:      key,
		Size:     int64(len(fileBytes)),
		MimeType: contentType,
	}, nil
}

func (s *StorageService) uploadToLocal(fileBytes []byte, key, contentType string) *UploadResult {
	s.logger.WithField("key", key).Info("S3 not configured, evidence kept as local reference only")
	return &UploadResult{
		URL:      fmt.Sprintf("local://%s", key),
		Key:      key,
		Size:     int64(len(fileBytes)),
		MimeType: contentType,
	}
}

// PresignedURL lets an admin view private evidence for a limited time.
func (s *StorageService) PresignedURL(key string, expiration time.Duration) (string, error) {
	if s.s3Client == nil {
		return "", fmt.Errorf("S3 client not configured")
	}

	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(expiration)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url, nil
}

func (s *StorageService) generateFileName(originalName, folder string) string {
	ext := strings.ToLower(filepath.Ext(originalName))
	filename := fmt.Sprintf("%s_%s%s", time.Now().Format("20060102"), uuid.New().String()[:8], ext)

	if folder != "" {
		return fmt.Sprintf("%s/%s", folder, filename)
	}
	return filename
}

func (s *StorageService) getS3URL(key string) string {
	if s.config.CloudFrontURL != "" {
		return fmt.Sprintf("%s/%s", s.config.CloudFrontURL, key)
	}

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s",
		s.config.S3Bucket, s.config.Region, key)
}

func contentMatchesExt(contentType, ext string) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return contentType == "image/jpeg"
	case ".png":
		return contentType == "image/png"
	case ".pdf":
		return contentType == "application/pdf"
	}
	return true
}
