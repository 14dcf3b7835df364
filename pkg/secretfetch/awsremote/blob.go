package awsremote

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BlobProvider implements secretfetch.Provider for REMOTE_BLOB addresses,
// either "arn:aws:s3:::bucket/key" or "bucket/key", grounded on the
// teacher's pkg/provider/s3 client construction.
type BlobProvider struct {
	client *s3.Client
}

func NewBlobProvider(cfg aws.Config) *BlobProvider {
	return &BlobProvider{client: s3.NewFromConfig(cfg)}
}

func (p *BlobProvider) Fetch(ctx context.Context, address string) ([]byte, string, error) {
	bucket, key, err := splitBlobAddress(address)
	if err != nil {
		return nil, "", err
	}

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("s3: GetObject(%s): %w", address, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("s3: reading body of %s: %w", address, err)
	}

	contentType := ""
	if out.ContentType != nil {
		contentType = *out.ContentType
	}
	return data, contentType, nil
}

func (*BlobProvider) DefaultFormat() string { return "text" }

func splitBlobAddress(address string) (bucket, key string, err error) {
	s := address
	if strings.HasPrefix(s, "arn:") && strings.Contains(s, ":s3:::") {
		idx := strings.Index(s, ":s3:::")
		s = s[idx+len(":s3:::"):]
	}
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("s3: address %q must be bucket/key or an S3 object ARN", address)
	}
	return parts[0], parts[1], nil
}
