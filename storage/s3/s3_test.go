package s3_test

import (
	"context"
	"flag"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	ocflS3 "github.com/dcsio/ocflcore/storage/s3"
	"github.com/dcsio/ocflcore/storage/storagetest"
)

var (
	endpoint  = flag.String("endpoint", "http://localhost:9000", "s3-compatible endpoint")
	bucket    = flag.String("bucket", "ocflcore-test", "bucket name")
	accessKey = getenvDefault("TEST_AWS_ACCESS_KEY_ID", "minioadmin")
	secretKey = getenvDefault("TEST_AWS_SECRET_ACCESS_KEY", "minioadmin")
	region    = getenvDefault("TEST_AWS_REGION", "us-east-1")
)

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(m.Run())
}

// TestS3Backend runs the shared storage conformance suite against a live
// S3-compatible endpoint (minio by default). It's skipped unless
// OCFLCORE_S3_TEST=1 is set, since it requires a running server.
func TestS3Backend(t *testing.T) {
	if os.Getenv("OCFLCORE_S3_TEST") != "1" {
		t.Skip("set OCFLCORE_S3_TEST=1 to run against a live s3-compatible endpoint")
	}
	cli := newTestClient(t)
	b := ocflS3.New(cli, *bucket, "")
	storagetest.Suite(t, b)
}

func newTestClient(t *testing.T) *awss3.Client {
	t.Helper()
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		t.Fatal(err)
	}
	return awss3.NewFromConfig(cfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(*endpoint)
		o.UsePathStyle = true
	})
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
