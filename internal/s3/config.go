package s3

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds S3 connection configuration for the archive object store.
// Supports AWS S3, MinIO, and other S3-compatible storage.
type Config struct {
	// Endpoint is the S3 endpoint URL (e.g., "s3.amazonaws.com" or "minio.local:9000")
	Endpoint string

	// Bucket is the S3 bucket name
	Bucket string

	// AccessKeyID is the S3 access key ID
	AccessKeyID string

	// SecretAccessKey is the S3 secret access key
	SecretAccessKey string

	// Region is the S3 region (default: "us-east-1")
	Region string

	// Prefix is prepended to every object key, letting multiple deployments
	// share a bucket (e.g. "codehub" -> "codehub/{workspace_id}/...").
	Prefix string

	// ForcePathStyle forces path-style addressing (required for MinIO)
	// When true: http://endpoint/bucket/key
	// When false: minio-go picks the style from the endpoint (virtual-hosted
	// http://bucket.endpoint/key for endpoints it recognizes, such as AWS S3)
	ForcePathStyle bool

	// UseSSL enables HTTPS connections (default: true)
	UseSSL bool
}

// ParseConfig parses S3 configuration from a map (from JSON/CLI input).
func ParseConfig(data map[string]interface{}) (*Config, error) {
	if data == nil {
		return nil, errors.New("s3 config is nil")
	}

	cfg := &Config{
		Region: "us-east-1", // Default region
		UseSSL: true,        // Default to HTTPS
	}

	// Required fields
	if endpoint, ok := data["endpoint"].(string); ok && endpoint != "" {
		cfg.Endpoint = endpoint
	} else {
		return nil, errors.New("s3 endpoint is required")
	}

	if bucket, ok := data["bucket"].(string); ok && bucket != "" {
		cfg.Bucket = bucket
	} else {
		return nil, errors.New("s3 bucket is required")
	}

	if accessKeyID, ok := data["accessKeyId"].(string); ok && accessKeyID != "" {
		cfg.AccessKeyID = accessKeyID
	} else {
		return nil, errors.New("s3 accessKeyId is required")
	}

	if secretAccessKey, ok := data["secretAccessKey"].(string); ok && secretAccessKey != "" {
		cfg.SecretAccessKey = secretAccessKey
	} else {
		return nil, errors.New("s3 secretAccessKey is required")
	}

	// Optional fields
	if region, ok := data["region"].(string); ok && region != "" {
		cfg.Region = region
	}

	if prefix, ok := data["prefix"].(string); ok {
		cfg.Prefix = prefix
	}

	if forcePathStyle, ok := data["forcePathStyle"].(bool); ok {
		cfg.ForcePathStyle = forcePathStyle
	}

	if useSSL, ok := data["useSSL"].(bool); ok {
		cfg.UseSSL = useSSL
	}

	return cfg, nil
}

// ValidateConfig validates the S3 configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("s3 config is nil")
	}

	if cfg.Endpoint == "" {
		return errors.New("s3 endpoint is required")
	}

	if cfg.Bucket == "" {
		return errors.New("s3 bucket is required")
	}

	if cfg.AccessKeyID == "" {
		return errors.New("s3 accessKeyId is required")
	}

	if cfg.SecretAccessKey == "" {
		return errors.New("s3 secretAccessKey is required")
	}

	return nil
}

// ToMap converts Config to a map for storage in JSON fields.
func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"endpoint":        c.Endpoint,
		"bucket":          c.Bucket,
		"accessKeyId":     c.AccessKeyID,
		"secretAccessKey": c.SecretAccessKey,
		"region":          c.Region,
		"prefix":          c.Prefix,
		"forcePathStyle":  c.ForcePathStyle,
		"useSSL":          c.UseSSL,
	}
}

// join prefixes a key with cfg.Prefix, if set.
func (c *Config) join(key string) string {
	if c.Prefix == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", c.Prefix, key)
}

// ArchiveDataKey returns the object key for an archive's tar.zst payload.
// Format: {prefix}/{workspaceID}/{archiveOpID}/home.tar.zst
func (c *Config) ArchiveDataKey(workspaceID, archiveOpID string) string {
	return c.join(fmt.Sprintf("%s/%s/home.tar.zst", workspaceID, archiveOpID))
}

// ArchiveMetaKey returns the object key for an archive's commit marker.
// Its presence (not the data object's) defines durability.
func (c *Config) ArchiveMetaKey(workspaceID, archiveOpID string) string {
	return c.ArchiveDataKey(workspaceID, archiveOpID) + ".meta"
}

// RestoreMarkerKey returns the object key for a workspace's restore marker.
func (c *Config) RestoreMarkerKey(workspaceID string) string {
	return c.join(fmt.Sprintf("%s/.restore_marker", workspaceID))
}

// RestoreErrorKey returns the object key for a workspace's restore failure sidecar.
func (c *Config) RestoreErrorKey(workspaceID string) string {
	return c.join(fmt.Sprintf("%s/.restore_error", workspaceID))
}

// ArchivePrefix returns the key prefix under which every object belonging to
// a single archive_op_id lives, used for GC listing and protection checks.
func (c *Config) ArchivePrefix(workspaceID, archiveOpID string) string {
	return c.join(fmt.Sprintf("%s/%s/", workspaceID, archiveOpID))
}

// WorkspacePrefix returns the key prefix under which every object belonging
// to a workspace lives, used by the GC loop to enumerate archive candidates.
func (c *Config) WorkspacePrefix(workspaceID string) string {
	return c.join(workspaceID + "/")
}

// WorkspaceIDFromKey extracts the workspace_id segment out of a committed
// archive_key, inverting ArchiveDataKey/ArchiveMetaKey's layout. Returns ""
// if key does not look like one of this config's object keys.
func (c *Config) WorkspaceIDFromKey(key string) string {
	trimmed := key
	if c.Prefix != "" {
		withSlash := c.Prefix + "/"
		if !strings.HasPrefix(trimmed, withSlash) {
			return ""
		}
		trimmed = strings.TrimPrefix(trimmed, withSlash)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	return parts[0]
}

// ArchiveOpIDFromKey extracts the archive_op_id segment out of a key shaped
// like {prefix}/{workspace_id}/{archive_op_id}/..., inverting ArchivePrefix.
// Returns "" for keys with no archive_op_id segment, such as
// {workspace_id}/.restore_marker, which sits directly under the workspace
// prefix.
func (c *Config) ArchiveOpIDFromKey(key string) string {
	trimmed := key
	if c.Prefix != "" {
		withSlash := c.Prefix + "/"
		if !strings.HasPrefix(trimmed, withSlash) {
			return ""
		}
		trimmed = strings.TrimPrefix(trimmed, withSlash)
	}
	parts := strings.SplitN(trimmed, "/", 3)
	if len(parts) < 3 || parts[1] == "" {
		return ""
	}
	return parts[1]
}
