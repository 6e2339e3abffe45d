package acquire

import (
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3API is the part of the S3 client used to download images.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the S3 client. Endpoint is only needed for S3 compatible stores such as MinIO,
// static keys are used when both are set, the default credential chain otherwise.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Fetcher downloads s3://bucket/key URLs.
type S3Fetcher struct {
	Client S3API
}

// NewS3Fetcher builds an S3 client from cfg.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load aws config")
	}

	opts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Fetcher{Client: s3.NewFromConfig(awsCfg, opts...)}, nil
}

func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string, w io.Writer) error {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return err
	}

	out, err := f.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "unable to get s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	_, err = io.Copy(w, out.Body)

	return errors.Wrap(err, "unable to read object")
}

func parseS3URL(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", errors.Wrap(err, "unable to parse url")
	}
	if u.Scheme != "s3" {
		return "", "", errors.Wrapf(ErrUnsupportedScheme, "%q", u.Scheme)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", errors.Errorf("invalid s3 url %q", rawURL)
	}

	return u.Host, key, nil
}

var _ Fetcher = (*S3Fetcher)(nil)
