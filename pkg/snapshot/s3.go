package snapshot

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

const (
	defaultUploadPartSize = 8 * 1024 * 1024
	defaultMaxConcurrency = 4
)

// S3Config configures the S3 client. Credentials come from the default AWS
// chain.
type S3Config struct {
	Region string `mapstructure:"region" yaml:"region"`
	// Endpoint overrides the service endpoint, for S3-compatible servers.
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	UsePathStyle   bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
	UploadPartSize int64  `mapstructure:"upload_part_size" yaml:"upload_part_size"`
	MaxConcurrency int    `mapstructure:"max_concurrency" yaml:"max_concurrency"`
}

// S3Store reads and writes snapshot objects in S3.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3Store loads the AWS configuration and builds the client and
// uploader.
func NewS3Store(ctx context.Context, cfg S3Config, log *zap.Logger) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "load AWS configuration")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	partSize := cfg.UploadPartSize
	if partSize < manager.MinUploadPartSize {
		partSize = defaultUploadPartSize
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrency
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
	})

	return &S3Store{client: client, uploader: uploader, logger: log}, nil
}

// Bucket returns a Store rooted at bucket.
func (s *S3Store) Bucket(bucket string) Store {
	return &s3Bucket{store: s, bucket: bucket}
}

type s3Bucket struct {
	store  *S3Store
	bucket string
}

// Create streams the object through a multipart upload fed by a pipe.
func (b *s3Bucket) Create(ctx context.Context, key string) (ObjectWriter, error) {
	pr, pw := io.Pipe()
	w := &s3Writer{pw: pw, done: make(chan error, 1)}
	go func() {
		_, err := b.store.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			Body:        pr,
			ContentType: aws.String("application/octet-stream"),
		})
		// unblock a writer still pushing data into a failed upload
		pr.CloseWithError(err)
		w.done <- err
	}()
	b.store.logger.Debug("snapshot upload started",
		zap.String("bucket", b.bucket),
		zap.String("key", key))
	return w, nil
}

func (b *s3Bucket) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := b.store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "get snapshot object s3://"+b.bucket+"/"+key).
			WithCode(errors.CodeFileFailed)
	}
	return out.Body, nil
}

type s3Writer struct {
	pw   *io.PipeWriter
	done chan error
	err  error
	shut bool
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.pw.Write(p) }

func (w *s3Writer) Close() error {
	if w.shut {
		return w.err
	}
	w.shut = true
	_ = w.pw.Close()
	if err := <-w.done; err != nil {
		w.err = errors.Wrap(err, errors.ErrorTypeFile, "upload snapshot").WithCode(errors.CodeFileFailed)
	}
	return w.err
}

// Abort fails the upload; the uploader aborts the multipart upload.
func (w *s3Writer) Abort(err error) {
	if w.shut {
		return
	}
	w.shut = true
	if err == nil {
		err = io.ErrClosedPipe
	}
	w.pw.CloseWithError(err)
	<-w.done
}
