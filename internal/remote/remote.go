// Package remote implements the object-store client of spec §4.1: head
// (superblock + total length from user-metadata) and ranged GET, plus
// the install helper used by the `install` CLI verb.
package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/lazysquash/lazysquash/internal/archiveerr"
)

// MetadataKey is the well-known, case-preserved object user-metadata
// key carrying the base64-encoded superblock (spec §6.2).
const MetadataKey = "lazysquash-superblock"

// s3API is the narrow subset of *s3.Client that Remote depends on,
// mirrored from the "swappable backend" pattern used throughout
// rclone's backend packages and claircore's narrow http/db
// collaborator interfaces: it lets tests substitute a fake without
// standing up real network or SDK-internal mocks.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Remote is the object-store client of spec §4.1.
type Remote struct {
	api    s3API
	bucket string
	key    string
	log    *logrus.Entry
}

// New constructs a Remote bound to bucket/key, using ambient AWS
// credentials and the given region (falling back to the SDK's default
// resolution chain when region is empty), matching the "falls back to
// ambient" contract of spec §6.5.
func New(ctx context.Context, region, bucket, key string, log *logrus.Entry) (*Remote, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, archiveerr.New("remote.New", archiveerr.Transport, err)
	}
	return &Remote{
		api:    s3.NewFromConfig(cfg),
		bucket: bucket,
		key:    key,
		log:    log.WithField("component", "remote"),
	}, nil
}

// newWithAPI is used by tests to inject a fake s3API.
func newWithAPI(api s3API, bucket, key string, log *logrus.Entry) *Remote {
	return &Remote{api: api, bucket: bucket, key: key, log: log.WithField("component", "remote")}
}

// Head fetches the user-metadata carrying the bootstrap superblock and
// the total object length, per spec §4.1 / §6.2.
func (r *Remote) Head(ctx context.Context) (sbBytes []byte, totalLength int64, err error) {
	out, err := r.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, 0, archiveerr.New("remote.Head", archiveerr.Transport, err)
	}

	encoded, ok := lookupMetadata(out.Metadata, MetadataKey)
	if !ok || encoded == "" {
		return nil, 0, archiveerr.New("remote.Head", archiveerr.Bootstrap,
			fmt.Errorf("object metadata key %q absent", MetadataKey))
	}

	sbBytes, err = base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, 0, archiveerr.New("remote.Head", archiveerr.Bootstrap,
			fmt.Errorf("invalid base64 superblock metadata: %w", err))
	}

	if out.ContentLength == nil {
		return nil, 0, archiveerr.New("remote.Head", archiveerr.Bootstrap, fmt.Errorf("missing content length"))
	}
	return sbBytes, *out.ContentLength, nil
}

// lookupMetadata looks a key up case-insensitively, since S3 SDKs
// normalize user-metadata key casing inconsistently across
// implementations while spec §6.2 calls for the key to be
// "case-preserved" on write.
func lookupMetadata(m map[string]string, key string) (string, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if eqFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func eqFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// GetRange retrieves an inclusive byte range [start, endInclusive]
// from the remote object, per spec §4.1 / §6.2 ("Range requests use
// inclusive bytes=start-end semantics").
func (r *Remote) GetRange(ctx context.Context, start, endInclusive int64) (io.ReadCloser, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, endInclusive)
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, archiveerr.New("remote.GetRange", archiveerr.Transport, err)
	}
	return out.Body, nil
}

// Install reads the first sbSize bytes of the local archive at
// localPath, base64-encodes them into the well-known user-metadata
// key, and uploads the whole archive. Used by the `install` CLI verb
// only (spec §4.1).
func (r *Remote) Install(ctx context.Context, localPath string, sbSize int64) error {
	f, err := os.Open(localPath)
	if err != nil {
		return archiveerr.New("remote.Install", archiveerr.Bootstrap, err)
	}
	defer f.Close()

	sbBuf := make([]byte, sbSize)
	if _, err := io.ReadFull(f, sbBuf); err != nil {
		return archiveerr.New("remote.Install", archiveerr.Bootstrap, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return archiveerr.New("remote.Install", archiveerr.Bootstrap, err)
	}

	fi, err := f.Stat()
	if err != nil {
		return archiveerr.New("remote.Install", archiveerr.Bootstrap, err)
	}

	encoded := base64.StdEncoding.EncodeToString(sbBuf)
	r.log.WithField("bucket", r.bucket).WithField("key", r.key).Infof("uploading %d bytes", fi.Size())

	_, err = r.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(r.bucket),
		Key:      aws.String(r.key),
		Body:     f,
		Metadata: map[string]string{MetadataKey: encoded},
	})
	if err != nil {
		return archiveerr.New("remote.Install", archiveerr.Transport, err)
	}
	return nil
}
