// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package r2 stores and retrieves objects in a Cloudflare R2 bucket
// through its S3-compatible API. The bucket, endpoint, and access
// keys come from CLOUDFLARE_R2_* environment variables; credentials
// are read per invocation and never written anywhere.
package r2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pebbleworks/cf/lib/pebble"
)

// Defaults for the optional CLOUDFLARE_R2_* variables.
const (
	DefaultPublicURL    = "https://pub-87cd59069cf0444aad048f7bddec99af.r2.dev"
	DefaultFolderPrefix = "uploads/"
)

// s3API is the slice of the S3 client the bucket operations use.
// Tests substitute a fake.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Bucket is one R2 bucket plus the public URL base used to build
// shareable links.
type Bucket struct {
	api          s3API
	name         string
	publicURL    string
	folderPrefix string
}

// FromEnv builds a Bucket from the CLOUDFLARE_R2_* environment.
// Missing required variables are a configuration error naming the
// variable.
func FromEnv(ctx context.Context) (*Bucket, error) {
	name, err := requireEnv("CLOUDFLARE_R2_BUCKET_NAME")
	if err != nil {
		return nil, err
	}
	endpoint, err := requireEnv("CLOUDFLARE_R2_S3_API_URL")
	if err != nil {
		return nil, err
	}
	accessKey, err := requireEnv("CLOUDFLARE_R2_ACCESS_KEY_ID")
	if err != nil {
		return nil, err
	}
	secretKey, err := requireEnv("CLOUDFLARE_R2_SECRET_ACCESS_KEY")
	if err != nil {
		return nil, err
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, pebble.Sys("CONFIG_ERROR", fmt.Sprintf("Failed to configure R2: %v", err))
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		// R2 serves buckets at the endpoint path, not as virtual
		// hosts.
		o.UsePathStyle = true
	})

	return &Bucket{
		api:          client,
		name:         name,
		publicURL:    envOr("CLOUDFLARE_R2_PUBLIC_URL", DefaultPublicURL),
		folderPrefix: envOr("CLOUDFLARE_R2_FOLDER_PREFIX", DefaultFolderPrefix),
	}, nil
}

func requireEnv(name string) (string, error) {
	value := os.Getenv(name)
	if value == "" {
		return "", pebble.Sys("CONFIG_ERROR", fmt.Sprintf("Failed to configure R2: %s not set", name)).
			WithFix(fmt.Sprintf("add %s to your .env file", name))
	}
	return value, nil
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

// UploadResult reports a stored object.
type UploadResult struct {
	Success     bool   `json:"success"`
	Key         string `json:"key"`
	Size        int    `json:"size"`
	ContentType string `json:"content_type"`
	PublicURL   string `json:"public_url"`
	Bucket      string `json:"bucket"`
}

// Object is one stored object in a listing.
type Object struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	PublicURL    string    `json:"public_url"`
}

// ListResult is a bounded object listing.
type ListResult struct {
	Success bool     `json:"success"`
	Count   int      `json:"count"`
	Prefix  string   `json:"prefix"`
	Objects []Object `json:"objects"`
}

// DeleteResult reports a removed object.
type DeleteResult struct {
	Success bool   `json:"success"`
	Deleted bool   `json:"deleted"`
	Key     string `json:"key"`
}

// InfoResult reports object metadata. Exists false means the key is
// absent, which is an answer rather than a failure.
type InfoResult struct {
	Success     bool   `json:"success"`
	Key         string `json:"key"`
	Exists      bool   `json:"exists"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	LastMod     string `json:"last_modified,omitempty"`
	ETag        string `json:"etag,omitempty"`
	PublicURL   string `json:"public_url,omitempty"`
}

// Upload stores a local file. With an empty customKey the object key
// is the folder prefix plus the file's base name. The public URL is
// filled in only when public is set.
func (b *Bucket) Upload(ctx context.Context, filePath, customKey string, public bool) (UploadResult, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return UploadResult{}, pebble.Input("FILE_NOT_FOUND",
				fmt.Sprintf("File not found: %s", filePath))
		}
		return UploadResult{}, pebble.Sys("INTERNAL", fmt.Sprintf("reading %s: %v", filePath, err))
	}

	key := customKey
	if key == "" {
		key = b.folderPrefix + filepath.Base(filePath)
	}
	contentType := guessContentType(filePath)

	_, err = b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return UploadResult{}, pebble.Net("UPLOAD_FAILED", fmt.Sprintf("Upload failed: %v", err)).
			WithDetails(map[string]any{"file": filePath, "key": key})
	}

	result := UploadResult{
		Success:     true,
		Key:         key,
		Size:        len(content),
		ContentType: contentType,
		Bucket:      b.name,
	}
	if public {
		result.PublicURL = b.publicURL + "/" + key
	}
	return result, nil
}

// List returns up to limit objects under prefix.
func (b *Bucket) List(ctx context.Context, prefix string, limit int) (ListResult, error) {
	objects := []Object{}
	var continuation *string
	for len(objects) < limit {
		page, err := b.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.name),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return ListResult{}, pebble.Net("LIST_FAILED", fmt.Sprintf("Failed to list objects: %v", err))
		}
		for _, obj := range page.Contents {
			if len(objects) >= limit {
				break
			}
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				PublicURL:    b.publicURL + "/" + aws.ToString(obj.Key),
			})
		}
		if page.NextContinuationToken == nil {
			break
		}
		continuation = page.NextContinuationToken
	}

	return ListResult{
		Success: true,
		Count:   len(objects),
		Prefix:  prefix,
		Objects: objects,
	}, nil
}

// Delete removes an object. Deleting an absent key succeeds; S3
// deletes are idempotent.
func (b *Bucket) Delete(ctx context.Context, key string) (DeleteResult, error) {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		return DeleteResult{}, pebble.Net("DELETE_FAILED", fmt.Sprintf("Failed to delete object: %v", err)).
			WithDetails(map[string]any{"key": key})
	}
	return DeleteResult{Success: true, Deleted: true, Key: key}, nil
}

// Info reports object metadata, or exists false for an absent key.
func (b *Bucket) Info(ctx context.Context, key string) (InfoResult, error) {
	head, err := b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return InfoResult{Success: true, Key: key, Exists: false}, nil
		}
		return InfoResult{}, pebble.Net("INFO_FAILED", fmt.Sprintf("Failed to get object info: %v", err)).
			WithDetails(map[string]any{"key": key})
	}

	result := InfoResult{
		Success:     true,
		Key:         key,
		Exists:      true,
		Size:        aws.ToInt64(head.ContentLength),
		ContentType: aws.ToString(head.ContentType),
		ETag:        aws.ToString(head.ETag),
		PublicURL:   b.publicURL + "/" + key,
	}
	if head.LastModified != nil {
		result.LastMod = head.LastModified.UTC().Format(time.RFC3339)
	}
	return result, nil
}

// isNotFound detects an absent object across the shapes the SDK
// reports it in.
func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "404") || strings.Contains(msg, "NoSuchKey")
}

// guessContentType maps a file extension to its MIME type, falling
// back to a generic byte stream.
func guessContentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
