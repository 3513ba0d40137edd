package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
)

const (
	metaRunID      = "run-id"
	metaType       = "artifact-type"
	metaUploadedAt = "uploaded-at"
)

// ObjectStore is the part of the S3 API the archive needs; tests fake it in memory
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ ObjectStore = (*s3.Client)(nil)

// S3StorageGateway archives runs to S3
// Key layout: <prefix>/<runID>/<name>
type S3StorageGateway struct {
	client ObjectStore
	bucket string
	prefix string
	now    func() time.Time
}

// S3Config holds S3 storage gateway configuration
type S3Config struct {
	Bucket       string
	Prefix       string // Optional key prefix
	Region       string // AWS region (optional, uses default if empty)
	Endpoint     string // Custom endpoint for S3-compatible stores (optional)
	UsePathStyle bool
}

// NewS3StorageGateway creates a gateway from the default AWS credential chain
func NewS3StorageGateway(ctx context.Context, cfg S3Config) (*S3StorageGateway, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return NewS3StorageGatewayWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewS3StorageGatewayWithClient creates a gateway with a custom S3 client
func NewS3StorageGatewayWithClient(client ObjectStore, bucket, prefix string) *S3StorageGateway {
	return &S3StorageGateway{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// SaveArtifact uploads an artifact. Uploading the same name again replaces it.
func (g *S3StorageGateway) SaveArtifact(ctx context.Context, req output.SaveArtifactRequest) (*output.ArtifactMetadata, error) {
	if req.RunID == "" || req.Name == "" {
		return nil, fmt.Errorf("archive artifact: run id and name are required")
	}
	key := g.key(req.RunID, req.Name)
	uploadedAt := g.now().UTC()

	contentType := req.ContentType
	if contentType == "" {
		contentType = contentTypeFor(req.Name)
	}

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(req.Content),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			metaRunID:      req.RunID,
			metaType:       string(req.ArtifactType),
			metaUploadedAt: uploadedAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s to S3: %w", key, err)
	}

	return &output.ArtifactMetadata{
		RunID:       req.RunID,
		Name:        req.Name,
		Type:        req.ArtifactType,
		StoragePath: fmt.Sprintf("s3://%s/%s", g.bucket, key),
		ContentType: contentType,
		Size:        int64(len(req.Content)),
		UploadedAt:  uploadedAt,
	}, nil
}

// LoadArtifact downloads one archived artifact
func (g *S3StorageGateway) LoadArtifact(ctx context.Context, runID, name string) (*output.Artifact, error) {
	key := g.key(runID, name)
	obj, err := g.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("artifact %s: %w", key, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("download %s from S3: %w", key, err)
	}
	defer obj.Body.Close()

	content, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	meta := output.ArtifactMetadata{
		RunID:       runID,
		Name:        name,
		Type:        output.ArtifactType(obj.Metadata[metaType]),
		StoragePath: fmt.Sprintf("s3://%s/%s", g.bucket, key),
		ContentType: aws.ToString(obj.ContentType),
		Size:        int64(len(content)),
	}
	if ts, err := time.Parse(time.RFC3339, obj.Metadata[metaUploadedAt]); err == nil {
		meta.UploadedAt = ts
	}
	return &output.Artifact{Content: content, Metadata: meta}, nil
}

// ListArtifacts lists the archived artifacts of a run, sorted by name
func (g *S3StorageGateway) ListArtifacts(ctx context.Context, runID string) ([]*output.ArtifactMetadata, error) {
	prefix := g.key(runID) + "/"
	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	})

	var list []*output.ArtifactMetadata
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list S3 objects under %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			meta := &output.ArtifactMetadata{
				RunID:       runID,
				Name:        name,
				Type:        ArtifactTypeFor(name),
				StoragePath: fmt.Sprintf("s3://%s/%s", g.bucket, key),
				ContentType: contentTypeFor(name),
				Size:        aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				meta.UploadedAt = *obj.LastModified
			}
			list = append(list, meta)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (g *S3StorageGateway) key(parts ...string) string {
	if g.prefix != "" {
		parts = append([]string{g.prefix}, parts...)
	}
	return path.Join(parts...)
}
