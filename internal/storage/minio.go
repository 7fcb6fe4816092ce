package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"cardDesigner/internal/config"
)

// Client 存放背景图、访客照片与打印产物。
// 读写走内网 endpoint；预签名链接由浏览器和打印机访问，必须用公网 endpoint 签名。
type Client struct {
	internalClient *minio.Client
	publicClient   *minio.Client
	bucketName     string
}

// ObjectMeta 描述 Bucket 中对象的关键信息。
type ObjectMeta struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

func metaFromInfo(info minio.ObjectInfo) ObjectMeta {
	return ObjectMeta{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}
}

func parseBucketLookup(value string) (minio.BucketLookupType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "auto":
		return minio.BucketLookupAuto, nil
	case "dns":
		return minio.BucketLookupDNS, nil
	case "path":
		return minio.BucketLookupPath, nil
	}
	return minio.BucketLookupAuto, fmt.Errorf("invalid minio bucket lookup %q", value)
}

// NewClient 初始化内外网两个客户端，并确保目标 Bucket 存在。
func NewClient(cfg config.MinIOConfig) (*Client, error) {
	lookup, err := parseBucketLookup(cfg.BucketLookup)
	if err != nil {
		return nil, err
	}
	newMinio := func(endpoint string, secure bool) (*minio.Client, error) {
		return minio.New(endpoint, &minio.Options{
			Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
			Secure:       secure,
			Region:       cfg.Region,
			BucketLookup: lookup,
		})
	}

	internalClient, err := newMinio(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("init internal minio client: %w", err)
	}

	public, err := url.Parse(cfg.PublicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("parse minio public endpoint: %w", err)
	}
	if public.Host == "" {
		return nil, errors.New("invalid minio public endpoint, host missing")
	}
	publicClient, err := newMinio(public.Host, public.Scheme == "https")
	if err != nil {
		return nil, fmt.Errorf("init public minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ensureBucket(ctx, internalClient, cfg); err != nil {
		return nil, err
	}

	return &Client{
		internalClient: internalClient,
		publicClient:   publicClient,
		bucketName:     cfg.Bucket,
	}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, cfg config.MinIOConfig) error {
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if !cfg.AutoCreateBucket {
		return fmt.Errorf("bucket %q does not exist (auto create disabled)", cfg.Bucket)
	}
	if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
		return fmt.Errorf("make bucket %q: %w", cfg.Bucket, err)
	}
	return nil
}

// UploadFile 写入对象。上传后的 key 都带 uuid，内容不会被覆盖，因此允许长期缓存。
func (c *Client) UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error) {
	info, err := c.internalClient.PutObject(ctx, c.bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "private, max-age=31536000, immutable",
	})
	if err != nil {
		return nil, fmt.Errorf("put object %q: %w", objectName, err)
	}
	return &info, nil
}

// OpenObject 打开对象并返回元数据，调用方负责关闭 reader。
func (c *Client) OpenObject(ctx context.Context, objectKey string) (io.ReadCloser, ObjectMeta, error) {
	obj, err := c.internalClient.GetObject(ctx, c.bucketName, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectMeta{}, fmt.Errorf("get object %q: %w", objectKey, err)
	}
	// GetObject 是惰性的，对象不存在要到 Stat 才会报出来。
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		return nil, ObjectMeta{}, fmt.Errorf("stat object %q: %w", objectKey, err)
	}
	return obj, metaFromInfo(info), nil
}

// StatObject 读取对象元数据；对象不存在时可用 IsNoSuchKey 判断。
func (c *Client) StatObject(ctx context.Context, objectKey string) (ObjectMeta, error) {
	info, err := c.internalClient.StatObject(ctx, c.bucketName, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMeta{}, fmt.Errorf("stat object %q: %w", objectKey, err)
	}
	return metaFromInfo(info), nil
}

// GeneratePresignedURL 生成对象的限时下载链接。
func (c *Client) GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error) {
	return c.GeneratePresignedURLWithParams(ctx, objectKey, duration, nil)
}

// GeneratePresignedURLWithParams 生成带响应参数（如 response-content-disposition）的限时链接。
func (c *Client) GeneratePresignedURLWithParams(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error) {
	var query url.Values
	if len(params) > 0 {
		query = make(url.Values, len(params))
		for k, v := range params {
			query.Set(k, v)
		}
	}
	presigned, err := c.publicClient.PresignedGetObject(ctx, c.bucketName, objectKey, duration, query)
	if err != nil {
		return "", fmt.Errorf("generate presigned url for %q: %w", objectKey, err)
	}
	return presigned.String(), nil
}

// ListObjects 列出前缀下最多 limit 个对象。
func (c *Client) ListObjects(ctx context.Context, prefix string, limit int) ([]ObjectMeta, error) {
	if limit <= 0 {
		limit = 50
	}
	// 提前结束遍历时要取消 ctx，否则 minio 的列举 goroutine 会阻塞在 channel 上。
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make([]ObjectMeta, 0, limit)
	for object := range c.internalClient.ListObjects(ctx, c.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list objects under %q: %w", prefix, object.Err)
		}
		result = append(result, metaFromInfo(object))
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

// DeleteObject 删除对象，对象不存在视为成功。
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	objectKey = strings.TrimSpace(objectKey)
	if objectKey == "" {
		return nil
	}
	err := c.internalClient.RemoveObject(ctx, c.bucketName, objectKey, minio.RemoveObjectOptions{})
	if err != nil && !IsNoSuchKey(err) {
		return fmt.Errorf("remove object %q: %w", objectKey, err)
	}
	return nil
}

// DeletePrefix 批量删除前缀下的全部对象，例如清理所有打印产物。已不存在的对象被忽略，其余错误合并返回。
func (c *Client) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return errors.New("refusing to delete an empty prefix")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listed := c.internalClient.ListObjects(ctx, c.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	var listErr error
	toRemove := make(chan minio.ObjectInfo)
	go func() {
		defer close(toRemove)
		for object := range listed {
			if object.Err != nil {
				listErr = object.Err
				return
			}
			select {
			case toRemove <- object:
			case <-ctx.Done():
				return
			}
		}
	}()

	var errs []error
	for removeErr := range c.internalClient.RemoveObjects(ctx, c.bucketName, toRemove, minio.RemoveObjectsOptions{}) {
		if removeErr.Err != nil && !IsNoSuchKey(removeErr.Err) {
			errs = append(errs, fmt.Errorf("remove object %q: %w", removeErr.ObjectName, removeErr.Err))
		}
	}
	if listErr != nil {
		errs = append(errs, fmt.Errorf("list objects under %q: %w", prefix, listErr))
	}
	return errors.Join(errs...)
}
