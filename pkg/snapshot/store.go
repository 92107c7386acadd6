package snapshot

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
	"github.com/ajitpratap0/voxelflow/pkg/metrics"
)

// Store opens snapshot objects by key.
type Store interface {
	// Create returns a writer for key. The object becomes visible only when
	// Close succeeds; Abort discards it.
	Create(ctx context.Context, key string) (ObjectWriter, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ObjectWriter is a pending object.
type ObjectWriter interface {
	io.WriteCloser
	Abort(err error)
}

// FileStore keeps snapshots on the local filesystem. Keys are paths.
type FileStore struct{}

func (FileStore) Create(_ context.Context, key string) (ObjectWriter, error) {
	if dir := filepath.Dir(key); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "create snapshot directory")
		}
	}
	f, err := os.CreateTemp(filepath.Dir(key), "."+filepath.Base(key)+".*")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "create snapshot file").WithCode(errors.CodeFileFailed)
	}
	return &fileWriter{f: f, target: key}, nil
}

func (FileStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "open snapshot file").WithCode(errors.CodeFileFailed)
	}
	return f, nil
}

// fileWriter writes to a temporary file renamed into place on Close.
type fileWriter struct {
	f      *os.File
	target string
	done   bool
}

func (w *fileWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *fileWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.f.Close(); err != nil {
		_ = os.Remove(w.f.Name())
		return errors.Wrap(err, errors.ErrorTypeFile, "close snapshot file")
	}
	if err := os.Rename(w.f.Name(), w.target); err != nil {
		_ = os.Remove(w.f.Name())
		return errors.Wrap(err, errors.ErrorTypeFile, "publish snapshot file")
	}
	return nil
}

func (w *fileWriter) Abort(error) {
	if w.done {
		return
	}
	w.done = true
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}

// Resolver maps snapshot URIs to stores. "s3://bucket/key" goes to S3,
// anything else is a local path. The S3 client is created on first use.
type Resolver struct {
	S3     S3Config
	logger *zap.Logger

	mu sync.Mutex
	s3 *S3Store
}

// NewResolver creates a resolver. A nil logger falls back to the process
// logger.
func NewResolver(cfg S3Config, log *zap.Logger) *Resolver {
	if log == nil {
		log = logger.Get()
	}
	return &Resolver{S3: cfg, logger: log.With(zap.String("component", "snapshot"))}
}

// Resolve returns the store and key for uri.
func (r *Resolver) Resolve(ctx context.Context, uri string) (Store, string, error) {
	if uri == "" {
		return nil, "", errors.New(errors.ErrorTypeInvalidParameter, "snapshot location is empty")
	}
	bucket, key, ok := parseS3URI(uri)
	if !ok {
		return FileStore{}, uri, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.s3 == nil {
		s, err := NewS3Store(ctx, r.S3, r.logger)
		if err != nil {
			return nil, "", err
		}
		r.s3 = s
	}
	return r.s3.Bucket(bucket), key, nil
}

func parseS3URI(uri string) (string, string, bool) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", false
	}
	bucket, key, _ := strings.Cut(rest, "/")
	return bucket, key, bucket != "" && key != ""
}

// Save writes dca to uri.
func (r *Resolver) Save(ctx context.Context, uri string, dca *datamodel.DataContainerArray, opts Options) (*Manifest, error) {
	store, key, err := r.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	w, err := store.Create(ctx, key)
	if err != nil {
		return nil, err
	}
	m, err := Write(w, dca, opts)
	if err != nil {
		w.Abort(err)
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	metrics.SnapshotBytes.WithLabelValues("write").Add(float64(m.TotalBytes()))
	r.logger.Info("snapshot saved",
		zap.String("uri", uri),
		zap.Strings("containers", m.ContainerNames()),
		zap.Int64("bytes", m.TotalBytes()),
		zap.String("compression", m.Compression))
	return m, nil
}

// Load reads the selected containers from uri.
func (r *Resolver) Load(ctx context.Context, uri string, containers []string) (*datamodel.DataContainerArray, *Manifest, error) {
	store, key, err := r.Resolve(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	dca, m, err := Read(rc, containers)
	if err != nil {
		return nil, nil, err
	}
	metrics.SnapshotBytes.WithLabelValues("read").Add(float64(m.TotalBytes()))
	return dca, m, nil
}

// LoadManifest reads only the manifest at uri.
func (r *Resolver) LoadManifest(ctx context.Context, uri string) (*Manifest, error) {
	store, key, err := r.Resolve(ctx, uri)
	if err != nil {
		return nil, err
	}
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return ReadManifest(rc)
}
