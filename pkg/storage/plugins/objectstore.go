package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mlforge/core/pkg/models"
)

// ObjectStorePlugin is the S3-protocol StoragePlugin backend. It serves both
// object-store-A (real S3, default endpoint resolution) and object-store-B
// (a GCS bucket addressed through GCS's S3 interoperability mode, selected
// by setting config.Options["endpoint"] to the interop host) — one client,
// two backends, per DESIGN.md's dependency-reuse decision.
type ObjectStorePlugin struct {
	client   *s3.Client
	bucket   string
	prefix   string
	cacheDir string
}

// NewObjectStorePlugin constructs an uninitialized object-store plugin.
func NewObjectStorePlugin() *ObjectStorePlugin {
	return &ObjectStorePlugin{}
}

// Initialize builds an s3.Client from config. Options: "bucket" (required),
// "prefix" (optional key prefix), "endpoint" (optional — set for GCS
// interop), "region", "access_key"/"secret_key", "cache_dir" (local fetch
// cache, defaults to os.TempDir()/mlforge-cache).
func (p *ObjectStorePlugin) Initialize(config *models.PluginConfig) error {
	opts := config.Options
	bucket, _ := opts["bucket"].(string)
	if bucket == "" {
		return fmt.Errorf("object store plugin requires options.bucket")
	}
	p.bucket = bucket
	if prefix, ok := opts["prefix"].(string); ok {
		p.prefix = strings.Trim(prefix, "/")
	}
	p.cacheDir, _ = opts["cache_dir"].(string)
	if p.cacheDir == "" {
		p.cacheDir = filepath.Join(os.TempDir(), "mlforge-cache")
	}

	region, _ := opts["region"].(string)
	if region == "" {
		region = "us-east-1"
	}

	ctx := context.Background()
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))

	if accessKey, ok := opts["access_key"].(string); ok && accessKey != "" {
		secretKey, _ := opts["secret_key"].(string)
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return fmt.Errorf("failed to load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint, ok := opts["endpoint"].(string); ok && endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	p.client = s3.NewFromConfig(awsCfg, s3Opts...)
	return nil
}

func (p *ObjectStorePlugin) key(modelID, version, name string) string {
	if p.prefix == "" {
		return fmt.Sprintf("%s/%s/%s", modelID, version, name)
	}
	return fmt.Sprintf("%s/%s/%s/%s", p.prefix, modelID, version, name)
}

// URI returns the canonical s3:// URI for a version directory.
func (p *ObjectStorePlugin) URI(modelID, version string) string {
	return fmt.Sprintf("s3://%s/%s", p.bucket, p.key(modelID, version, ""))
}

// LocalDir returns the local cache directory for a version.
func (p *ObjectStorePlugin) LocalDir(modelID, version string) string {
	return filepath.Join(p.cacheDir, modelID, version)
}

// Save uploads every file under localDir to the bucket, manifest last so a
// concurrent Fetch never observes a manifest pointing at missing shards.
func (p *ObjectStorePlugin) Save(modelID, version, localDir string) (string, error) {
	ctx := context.Background()
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return "", fmt.Errorf("failed to read staging directory: %w", err)
	}

	var manifestEntry os.DirEntry
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if entry.Name() == "manifest.json" {
			manifestEntry = entry
			continue
		}
		if err := p.putFile(ctx, modelID, version, localDir, entry.Name()); err != nil {
			return "", err
		}
	}
	if manifestEntry != nil {
		if err := p.putFile(ctx, modelID, version, localDir, manifestEntry.Name()); err != nil {
			return "", err
		}
	}

	return p.URI(modelID, version), nil
}

func (p *ObjectStorePlugin) putFile(ctx context.Context, modelID, version, localDir, name string) error {
	data, err := os.ReadFile(filepath.Join(localDir, name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(modelID, version, name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	return nil
}

// Fetch downloads the manifest and every declared weight shard into the
// local cache, returning the local directory (C4's cold-load path).
func (p *ObjectStorePlugin) Fetch(modelID, version string) (string, error) {
	ctx := context.Background()
	dest := p.LocalDir(modelID, version)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	manifestData, err := p.getObject(ctx, modelID, version, "manifest.json")
	if err != nil {
		return "", fmt.Errorf("failed to fetch manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dest, "manifest.json"), manifestData, 0o644); err != nil {
		return "", fmt.Errorf("failed to cache manifest: %w", err)
	}

	var manifest models.ModelManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse manifest: %w", err)
	}

	for _, shard := range manifest.WeightShards {
		data, err := p.getObject(ctx, modelID, version, shard)
		if err != nil {
			return "", fmt.Errorf("failed to fetch shard %s: %w", shard, err)
		}
		if err := os.WriteFile(filepath.Join(dest, shard), data, 0o644); err != nil {
			return "", fmt.Errorf("failed to cache shard %s: %w", shard, err)
		}
	}
	if manifest.PrepFile != "" {
		data, err := p.getObject(ctx, modelID, version, manifest.PrepFile)
		if err != nil {
			return "", fmt.Errorf("failed to fetch prep file: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dest, manifest.PrepFile), data, 0o644); err != nil {
			return "", fmt.Errorf("failed to cache prep file: %w", err)
		}
	}

	return dest, nil
}

func (p *ObjectStorePlugin) getObject(ctx context.Context, modelID, version, name string) ([]byte, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(modelID, version, name)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Exists checks for the presence of the manifest object.
func (p *ObjectStorePlugin) Exists(modelID, version string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(modelID, version, "manifest.json")),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HealthCheck verifies the bucket is reachable.
func (p *ObjectStorePlugin) HealthCheck() (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := p.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.bucket)})
	if err != nil {
		return false, err
	}
	return true, nil
}
