package encode

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/lychee-technology/flattab"
)

// UploadOutputDir walks opts.OutputDir and uploads every file under it to
// opts.S3OutputURI ("s3://bucket/prefix"), preserving the relative path as
// the object key. Publishing a run's output assumes the bucket already
// exists; this step never creates one.
func UploadOutputDir(ctx context.Context, opts *flattab.Options) error {
	bucket, prefix, err := parseS3URI(opts.S3OutputURI)
	if err != nil {
		return err
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return flattab.IOErrorf(opts.S3OutputURI, "loading aws config: %v", err)
	}
	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client)

	return filepath.WalkDir(opts.OutputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return flattab.IOErrorf(path, "walking output_dir: %v", err)
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(opts.OutputDir, path)
		if err != nil {
			return flattab.IOErrorf(path, "computing relative path: %v", err)
		}
		key := joinS3Key(prefix, filepath.ToSlash(rel))

		in, err := os.Open(path)
		if err != nil {
			return flattab.IOErrorf(path, "opening file for s3 upload: %v", err)
		}
		defer in.Close()

		if _, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   in,
		}); err != nil {
			return flattab.IOErrorf(path, "uploading to s3: %v", err)
		}
		return nil
	})
}

func parseS3URI(uri string) (bucket, prefix string, err error) {
	const schema = "s3://"
	if !strings.HasPrefix(uri, schema) {
		return "", "", flattab.ConfigErrorf("s3_output_uri", "must start with s3://, got %q", uri)
	}
	rest := strings.TrimPrefix(uri, schema)
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		return "", "", flattab.ConfigErrorf("s3_output_uri", "missing bucket in %q", uri)
	}
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return bucket, prefix, nil
}

func joinS3Key(prefix, rel string) string {
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}
