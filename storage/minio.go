package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"StemMixer/config"
	"StemMixer/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioScheme stem 资源存放在 MinIO 时使用的 URL scheme：minio://bucket/key
const MinioScheme = "minio"

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
}

// MinioClient 封装了 MinIO 客户端
type MinioClient struct {
	client     *minio.Client
	bucketName string
}

// NewMinioClient 创建一个新的 MinIO 客户端
func NewMinioClient(cfg *config.Config) (*MinioClient, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	return &MinioClient{
		client:     client,
		bucketName: cfg.MinioBucket,
	}, nil
}

// Bucket 默认存储桶
func (m *MinioClient) Bucket() string {
	return m.bucketName
}

// ParseObjectURL 解析 minio://bucket/key，bucket 为空时使用默认存储桶
func (m *MinioClient) ParseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid object URL %s: %w", rawURL, err)
	}
	if u.Scheme != MinioScheme {
		return "", "", fmt.Errorf("%s: %w", rawURL, ErrUnsupportedScheme)
	}
	bucket = u.Host
	if bucket == "" {
		bucket = m.bucketName
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("object URL %s has no key", rawURL)
	}
	return bucket, key, nil
}

// ObjectURL 生成对象的 minio:// 地址
func (m *MinioClient) ObjectURL(key string) string {
	return fmt.Sprintf("%s://%s/%s", MinioScheme, m.bucketName, strings.TrimPrefix(key, "/"))
}

// Fetch 实现 Fetcher，下载对象完整内容
func (m *MinioClient) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, key, err := m.ParseObjectURL(rawURL)
	if err != nil {
		return nil, err
	}

	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象失败 %s/%s: %w", bucket, key, err)
	}
	defer object.Close()

	data, err := readLimited(object, rawURL)
	if err != nil {
		return nil, err
	}
	logger.Debug("stem 对象下载完成",
		logger.String("bucket", bucket),
		logger.String("key", key),
		logger.Int("size", len(data)))
	return data, nil
}

// PutObject 上传对象并返回 minio:// 地址
func (m *MinioClient) PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := m.client.PutObject(ctx, m.bucketName, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("上传对象失败 %s: %w", key, err)
	}
	return m.ObjectURL(key), nil
}

// ListObjects 列出前缀下的所有对象，按 key 排序
func (m *MinioClient) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	exists, err := m.client.BucketExists(ctx, m.bucketName)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶是否存在失败: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("存储桶 %s 不存在", m.bucketName)
	}

	var objects []ObjectInfo
	objectCh := m.client.ListObjects(ctx, m.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			logger.Warn("列出对象时出错", logger.ErrorField(object.Err))
			continue
		}
		objects = append(objects, ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			LastModified: object.LastModified,
			ContentType:  object.ContentType,
		})
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
