package upload

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zdtools/zdexport/pkg/export"
)

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
}

func (f *fakeUploader) Upload(_ context.Context, params *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.inputs = append(f.inputs, params)
	data, _ := io.ReadAll(params.Body)
	f.bodies = append(f.bodies, string(data))
	if f.err != nil {
		return nil, f.err
	}
	return &manager.UploadOutput{Key: params.Key}, nil
}

func TestUploadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zendesk_orgs_20240501_101500.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,Acme\n"), 0o644))

	fake := &fakeUploader{}
	c := NewWithUploader(fake, Config{Bucket: "exports", Prefix: "/helpdesk/daily/"})

	uri, err := c.UploadFile(context.Background(), &export.FileMetadata{Path: path, Size: 15, Checksum: "abc123", RowCount: 2})
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/helpdesk/daily/zendesk_orgs_20240501_101500.csv", uri)

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "exports", aws.ToString(in.Bucket))
	assert.Equal(t, "helpdesk/daily/zendesk_orgs_20240501_101500.csv", aws.ToString(in.Key))
	assert.Equal(t, "text/csv; charset=utf-8", aws.ToString(in.ContentType))
	assert.Equal(t, map[string]string{"sha256": "abc123", "rows": "2"}, in.Metadata)
	assert.Equal(t, "id,name\n1,Acme\n", fake.bodies[0])
}

func TestUploadFile_Errors(t *testing.T) {
	fake := &fakeUploader{err: errors.New("access denied")}
	c := NewWithUploader(fake, Config{Bucket: "exports"})

	_, err := c.UploadFile(context.Background(), nil)
	assert.Error(t, err)

	_, err = c.UploadFile(context.Background(), &export.FileMetadata{Path: filepath.Join(t.TempDir(), "missing.csv")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "tags.json")
	require.NoError(t, os.WriteFile(path, []byte("[]\n"), 0o644))
	_, err = c.UploadFile(context.Background(), &export.FileMetadata{Path: path})
	assert.ErrorContains(t, err, "access denied")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "a.csv", NewWithUploader(nil, Config{}).Key("/tmp/out/a.csv"))
	assert.Equal(t, "p/q/a.csv", NewWithUploader(nil, Config{Prefix: "p/q"}).Key("a.csv"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", ContentType("x.JSON"))
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ContentType("x.xlsx"))
	assert.Equal(t, "application/octet-stream", ContentType("x.bin"))
}

func TestNewS3Client_RequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), Config{})
	assert.ErrorIs(t, err, ErrNoBucket)
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Bucket: "b"}.Enabled())
}
