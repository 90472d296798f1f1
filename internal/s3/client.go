package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps minio-go to implement the archive object store described by
// the coordinator's archive/restore job contract: a workspace's home
// directory is archived as a tar.zst blob committed by a ".meta" sidecar,
// and restores are certified by a ".restore_marker" object.
type Client struct {
	mc     *minio.Client
	bucket string
	cfg    *Config
}

// NewClient creates a new S3 client from configuration.
func NewClient(cfg *Config) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	lookup := minio.BucketLookupAuto
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{
		mc:     mc,
		bucket: cfg.Bucket,
		cfg:    cfg,
	}, nil
}

// NewClientFromMap creates a new S3 client from a map configuration.
func NewClientFromMap(data map[string]interface{}) (*Client, error) {
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return NewClient(cfg)
}

// RestoreMarker certifies that a restore identified by RestoreOpID completed
// against the volume. Its presence (with a matching RestoreOpID) lets a
// restore job short-circuit on retry without re-downloading the archive.
type RestoreMarker struct {
	RestoreOpID string    `json:"restore_op_id"`
	ArchiveKey  string    `json:"archive_key"`
	RestoredAt  time.Time `json:"restored_at"`
}

// RestoreFailure is the optional sidecar a restore job writes on failure and
// removes on a subsequent success.
type RestoreFailure struct {
	RestoreOpID string    `json:"restore_op_id"`
	Error       string    `json:"error"`
	FailedAt    time.Time `json:"failed_at"`
}

// UploadArchiveData uploads the tar.zst payload for an archive. Callers must
// write the commit marker (PutArchiveMeta) only after this call succeeds:
// the marker's presence, not the data object's, is what defines an archive
// as durable.
func (c *Client) UploadArchiveData(ctx context.Context, workspaceID, archiveOpID string, reader io.Reader, size int64) error {
	key := c.cfg.ArchiveDataKey(workspaceID, archiveOpID)

	_, err := c.mc.PutObject(ctx, c.bucket, key, reader, size, minio.PutObjectOptions{
		ContentType: "application/zstd",
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive data to s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// PresignedArchiveUploadURL returns a time-limited URL the Kubernetes backend's
// archive Job can PUT a tar payload to directly, without routing the bytes
// through the Agent process the way the Docker backend does (it has no
// shell access to a remote daemon's volumes, so the job itself must speak
// to S3).
func (c *Client) PresignedArchiveUploadURL(ctx context.Context, workspaceID, archiveOpID string, expiry time.Duration) (string, error) {
	key := c.cfg.ArchiveDataKey(workspaceID, archiveOpID)
	u, err := c.mc.PresignedPutObject(ctx, c.bucket, key, expiry)
	if err != nil {
		return "", fmt.Errorf("presigning upload url for s3://%s/%s: %w", c.bucket, key, err)
	}
	return u.String(), nil
}

// PresignedArchiveDownloadURL returns a time-limited URL the Kubernetes
// backend's restore Job can GET a tar payload from directly.
func (c *Client) PresignedArchiveDownloadURL(ctx context.Context, workspaceID, archiveOpID string, expiry time.Duration) (string, error) {
	key := c.cfg.ArchiveDataKey(workspaceID, archiveOpID)
	u, err := c.mc.PresignedGetObject(ctx, c.bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("presigning download url for s3://%s/%s: %w", c.bucket, key, err)
	}
	return u.String(), nil
}

// PutArchiveMeta writes the commit marker for an archive. sha256Hex is the
// checksum of the uploaded tar.zst payload, written as a single line.
func (c *Client) PutArchiveMeta(ctx context.Context, workspaceID, archiveOpID, sha256Hex string) error {
	key := c.cfg.ArchiveMetaKey(workspaceID, archiveOpID)
	body := []byte(sha256Hex + "\n")

	_, err := c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("failed to write commit marker to s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// GetArchiveMeta reads the sha256 checksum recorded in an archive's commit
// marker. Returns (false, "", nil) if the marker does not exist.
func (c *Client) GetArchiveMeta(ctx context.Context, workspaceID, archiveOpID string) (committed bool, sha256Hex string, err error) {
	key := c.cfg.ArchiveMetaKey(workspaceID, archiveOpID)

	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return false, "", fmt.Errorf("failed to open commit marker s3://%s/%s: %w", c.bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, "", nil
		}
		return false, "", fmt.Errorf("failed to read commit marker s3://%s/%s: %w", c.bucket, key, err)
	}

	return true, strings.TrimSpace(string(data)), nil
}

// ArchiveDataExists reports whether the tar.zst payload for an archive_op_id
// is present, regardless of whether it has been committed. Used by the
// archive job's idempotency check: a dangling payload without a marker is
// safely overwritten on retry.
func (c *Client) ArchiveDataExists(ctx context.Context, workspaceID, archiveOpID string) (bool, error) {
	key := c.cfg.ArchiveDataKey(workspaceID, archiveOpID)
	return c.objectExists(ctx, key)
}

// DownloadArchiveData opens the tar.zst payload for an archive. The caller
// must close the returned reader.
func (c *Client) DownloadArchiveData(ctx context.Context, workspaceID, archiveOpID string) (io.ReadCloser, error) {
	key := c.cfg.ArchiveDataKey(workspaceID, archiveOpID)

	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download archive data from s3://%s/%s: %w", c.bucket, key, err)
	}
	return obj, nil
}

// WriteRestoreMarker writes (or overwrites) the restore marker for a
// workspace. Called last in a restore job, after the volume is populated.
func (c *Client) WriteRestoreMarker(ctx context.Context, workspaceID string, marker RestoreMarker) error {
	key := c.cfg.RestoreMarkerKey(workspaceID)

	body, err := json.Marshal(marker)
	if err != nil {
		return fmt.Errorf("failed to marshal restore marker: %w", err)
	}

	_, err = c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to write restore marker to s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// ReadRestoreMarker reads a workspace's restore marker. Returns (nil, nil)
// if no marker has ever been written.
func (c *Client) ReadRestoreMarker(ctx context.Context, workspaceID string) (*RestoreMarker, error) {
	key := c.cfg.RestoreMarkerKey(workspaceID)

	obj, err := c.mc.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open restore marker s3://%s/%s: %w", c.bucket, key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read restore marker s3://%s/%s: %w", c.bucket, key, err)
	}

	var marker RestoreMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("failed to decode restore marker s3://%s/%s: %w", c.bucket, key, err)
	}
	return &marker, nil
}

// WriteRestoreFailure writes the failure sidecar for a workspace's restore
// job. Removed on a subsequent successful restore via ClearRestoreFailure.
func (c *Client) WriteRestoreFailure(ctx context.Context, workspaceID string, failure RestoreFailure) error {
	key := c.cfg.RestoreErrorKey(workspaceID)

	body, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("failed to marshal restore failure: %w", err)
	}

	_, err = c.mc.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to write restore failure to s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// ClearRestoreFailure removes the failure sidecar, if any, for a workspace.
func (c *Client) ClearRestoreFailure(ctx context.Context, workspaceID string) error {
	key := c.cfg.RestoreErrorKey(workspaceID)

	exists, err := c.objectExists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to clear restore failure at s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

// ListArchiveObjects lists every object key under a workspace's prefix,
// used by the garbage collector to enumerate candidates for deletion.
func (c *Client) ListArchiveObjects(ctx context.Context, workspaceID string) ([]string, error) {
	prefix := c.cfg.WorkspacePrefix(workspaceID)

	var keys []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects under s3://%s/%s: %w", c.bucket, prefix, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// ArchiveObject is one object found under a workspace's archive prefix,
// tagged with the archive_op_id it belongs to (if any) and when it was last
// written. GC groups these per archive_op_id to apply retention count and
// the orphan grace window.
type ArchiveObject struct {
	Key          string
	ArchiveOpID  string
	LastModified time.Time
}

// ListArchiveObjectsWithInfo is ListArchiveObjects plus the metadata GC
// needs to decide retention and grace: which archive_op_id each object
// belongs to and its last-modified time.
func (c *Client) ListArchiveObjectsWithInfo(ctx context.Context, workspaceID string) ([]ArchiveObject, error) {
	prefix := c.cfg.WorkspacePrefix(workspaceID)

	var out []ArchiveObject
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects under s3://%s/%s: %w", c.bucket, prefix, obj.Err)
		}
		out = append(out, ArchiveObject{
			Key:          obj.Key,
			ArchiveOpID:  c.cfg.ArchiveOpIDFromKey(obj.Key),
			LastModified: obj.LastModified,
		})
	}
	return out, nil
}

// ListWorkspaceIDs discovers every workspace_id with at least one object
// under the archive prefix by listing the whole bucket prefix and reading
// off each key's first path segment. GC uses this so its sweep universe is
// the bucket itself — not only the workspace ids the coordinator's
// protection-set query happened to name in a given batch — which is what
// lets it ever reclaim a workspace that has been hard-deleted out-of-band
// and no longer has a row to name it.
func (c *Client) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	root := ""
	if c.cfg.Prefix != "" {
		root = c.cfg.Prefix + "/"
	}

	seen := make(map[string]struct{})
	var ids []string
	for obj := range c.mc.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    root,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list bucket s3://%s/%s: %w", c.bucket, root, obj.Err)
		}
		id := c.cfg.WorkspaceIDFromKey(obj.Key)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// DeleteObject removes a single object by key.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	if err := c.mc.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", c.bucket, key, err)
	}
	return nil
}

func (c *Client) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := c.mc.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat s3://%s/%s: %w", c.bucket, key, err)
	}
	return true, nil
}

// TestConnection tests the S3 connection by checking if the bucket exists.
func (c *Client) TestConnection(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", c.bucket)
	}
	return nil
}

// EnsureBucket creates the bucket if it doesn't exist.
func (c *Client) EnsureBucket(ctx context.Context, region string) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{
			Region: region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket %q: %w", c.bucket, err)
		}
	}

	return nil
}

// Bucket returns the configured bucket name.
func (c *Client) Bucket() string {
	return c.bucket
}
