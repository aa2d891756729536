package objectclient

import (
	"fmt"
	"strings"
)

// ObjectURL formats the location stored on a document.
func ObjectURL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// ParseObjectURL extracts the bucket and key from an s3:// location or a
// virtual-hosted-style S3 URL such as
// https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf
func ParseObjectURL(u string) (bucket, key string, err error) {
	switch {
	case strings.HasPrefix(u, "s3://"):
		rest := strings.TrimPrefix(u, "s3://")
		bucket, key, _ = strings.Cut(rest, "/")
	case strings.HasPrefix(u, "https://"):
		host, path, _ := strings.Cut(strings.TrimPrefix(u, "https://"), "/")
		bucket, _, _ = strings.Cut(host, ".")
		key = path
	default:
		return "", "", fmt.Errorf("unsupported object location %q", u)
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("object location %q has no bucket or key", u)
	}
	return bucket, key, nil
}
