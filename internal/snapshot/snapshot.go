// Package snapshot archives the rendered HTML of each campaign at send
// time. The campaign row already carries the snapshot used for delivery;
// the archive keeps a durable copy outside the database for audits and
// re-renders.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archiver stores and retrieves rendered campaign documents.
type Archiver interface {
	Put(ctx context.Context, campaignID uuid.UUID, html string) error
	Get(ctx context.Context, campaignID uuid.UUID) (string, error)
}

func objectKey(campaignID uuid.UUID) string {
	return fmt.Sprintf("campaigns/%s/%s.html", time.Now().UTC().Format("2006/01"), campaignID)
}

// LocalArchiver stores snapshots on the local filesystem, one file per
// campaign. Suitable for development and single-node deployments.
type LocalArchiver struct {
	dir string
}

// NewLocalArchiver creates a filesystem archiver rooted at dir.
func NewLocalArchiver(dir string) (*LocalArchiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &LocalArchiver{dir: dir}, nil
}

func (a *LocalArchiver) path(campaignID uuid.UUID) string {
	return filepath.Join(a.dir, campaignID.String()+".html")
}

// Put writes the rendered document atomically via a temp file rename.
func (a *LocalArchiver) Put(_ context.Context, campaignID uuid.UUID, html string) error {
	tmp := a.path(campaignID) + ".tmp"
	if err := os.WriteFile(tmp, []byte(html), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, a.path(campaignID))
}

// Get reads a previously archived document.
func (a *LocalArchiver) Get(_ context.Context, campaignID uuid.UUID) (string, error) {
	data, err := os.ReadFile(a.path(campaignID))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// S3Archiver stores snapshots in an S3 bucket, keyed by year/month and
// campaign ID.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// NewS3Archiver creates an S3-backed archiver using the default AWS
// credential chain.
func NewS3Archiver(ctx context.Context, bucket, region string) (*S3Archiver, error) {
	if region == "" {
		region = os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Archiver{
		client: s3.NewFromConfig(awsCfg),
		bucket: bucket,
	}, nil
}

// Put uploads the rendered document.
func (a *S3Archiver) Put(ctx context.Context, campaignID uuid.UUID, html string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(objectKey(campaignID)),
		Body:        bytes.NewReader([]byte(html)),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}

// Get downloads an archived document. Lists the campaign prefix first
// because the key embeds the archive month.
func (a *S3Archiver) Get(ctx context.Context, campaignID uuid.UUID) (string, error) {
	list, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String("campaigns/"),
	})
	if err != nil {
		return "", fmt.Errorf("list snapshots: %w", err)
	}

	suffix := campaignID.String() + ".html"
	for _, obj := range list.Contents {
		key := aws.ToString(obj.Key)
		if filepath.Base(key) == suffix {
			out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(a.bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return "", err
			}
			defer out.Body.Close()
			buf := new(bytes.Buffer)
			if _, err := buf.ReadFrom(out.Body); err != nil {
				return "", err
			}
			return buf.String(), nil
		}
	}
	return "", fmt.Errorf("snapshot for campaign %s not found", campaignID)
}
