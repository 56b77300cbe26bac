package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

type fakeS3 struct {
	headOut *s3.HeadObjectOutput
	headErr error
	getOut  *s3.GetObjectOutput
	getErr  error
	putIn   *s3.PutObjectInput
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.headOut, f.headErr
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putIn = in
	return &s3.PutObjectOutput{}, nil
}

func TestHeadDecodesSuperblock(t *testing.T) {
	sb := []byte("0123456789abcdef")
	encoded := base64.StdEncoding.EncodeToString(sb)
	fake := &fakeS3{
		headOut: &s3.HeadObjectOutput{
			ContentLength: aws.Int64(1 << 20),
			Metadata:      map[string]string{MetadataKey: encoded},
		},
	}
	r := newWithAPI(fake, "bucket", "key", testLog())

	gotSB, length, err := r.Head(context.Background())
	require.NoError(t, err)
	require.Equal(t, sb, gotSB)
	require.EqualValues(t, 1<<20, length)
}

func TestHeadMissingMetadataFails(t *testing.T) {
	fake := &fakeS3{
		headOut: &s3.HeadObjectOutput{ContentLength: aws.Int64(10), Metadata: map[string]string{}},
	}
	r := newWithAPI(fake, "bucket", "key", testLog())

	_, _, err := r.Head(context.Background())
	require.Error(t, err)
}

func TestGetRangeUsesInclusiveByteRange(t *testing.T) {
	var capturedRange string
	fake := &fakeS3{}
	r := newWithAPI(fakeRangeCapture(fake, &capturedRange), "bucket", "key", testLog())

	_, err := r.GetRange(context.Background(), 100, 199)
	require.NoError(t, err)
	require.Equal(t, "bytes=100-199", capturedRange)
}

// fakeRangeCapture wraps fakeS3.GetObject to capture the Range header
// without duplicating the whole s3API surface.
type rangeCaptureS3 struct {
	*fakeS3
	capture *string
}

func (r *rangeCaptureS3) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	*r.capture = aws.ToString(in.Range)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(nil))}, nil
}

func fakeRangeCapture(f *fakeS3, capture *string) *rangeCaptureS3 {
	return &rangeCaptureS3{fakeS3: f, capture: capture}
}
