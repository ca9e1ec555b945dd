package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/hitoshi/merchantfeed/internal/model"
)

// ArtifactInfo は保存済みフィード成果物のメタデータ。
type ArtifactInfo struct {
	Filename     string
	SizeBytes    int64
	LastModified time.Time
}

// Store はフィード成果物ストレージのインターフェース。
type Store interface {
	// Put は成果物を全置換で保存する。書き込みはオブジェクト単位でアトミックなため、
	// 読者が途中状態のファイルを見ることはない。
	Put(ctx context.Context, filename string, data []byte) error

	// Open は成果物の読み取りストリームを開く。
	// 存在しない場合はmodel.ErrArtifactNotFoundを返す。
	Open(ctx context.Context, filename string) (io.ReadCloser, error)

	// Stat は成果物のメタデータを取得する。
	// 存在しない場合はmodel.ErrArtifactNotFoundを返す。
	Stat(ctx context.Context, filename string) (*ArtifactInfo, error)
}

// MinioStore はMinIOを使用した成果物ストレージ。
// バケットは非公開で運用し、配信はフィードキーを検証するHTTPハンドラー経由のみとする。
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore はMinioStoreを生成する。
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

// EnsureBucket はバケットが存在しない場合に作成する。起動時に1回呼ぶ。
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("バケットの確認に失敗しました: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("バケットの作成に失敗しました: %w", err)
	}
	return nil
}

// Put は成果物を全置換で保存する。
func (s *MinioStore) Put(ctx context.Context, filename string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, filename,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/xml; charset=utf-8"},
	)
	if err != nil {
		return fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}
	return nil
}

// Open は成果物の読み取りストリームを開く。
func (s *MinioStore) Open(ctx context.Context, filename string) (io.ReadCloser, error) {
	// GetObjectは遅延評価のため、存在確認を先に行う
	if _, err := s.Stat(ctx, filename); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, filename, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("フィードの読み取りに失敗しました: %w", err)
	}
	return obj, nil
}

// Stat は成果物のメタデータを取得する。
func (s *MinioStore) Stat(ctx context.Context, filename string) (*ArtifactInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, filename, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, model.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("フィードのメタデータ取得に失敗しました: %w", err)
	}
	return &ArtifactInfo{
		Filename:     filename,
		SizeBytes:    info.Size,
		LastModified: info.LastModified,
	}, nil
}

// compile-time interface check
var _ Store = (*MinioStore)(nil)
