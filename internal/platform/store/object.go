package store

import (
	"context"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/fhir-emulator/internal/platform/fhir"
)

// ObjectConfig configures an S3-compatible bucket laid out like the files
// directory: <prefix>/<ResourceType>/<name>.json.
type ObjectConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Object reads records from object storage.
type Object struct {
	client  *minio.Client
	bucket  string
	prefix  string
	logger  zerolog.Logger
	workers int
}

// NewObject connects to the bucket described by cfg.
func NewObject(cfg ObjectConfig, logger zerolog.Logger) (*Object, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.Endpoint)
	}
	return &Object{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		logger:  logger.With().Str("component", "store.object").Logger(),
		workers: defaultReadWorkers,
	}, nil
}

// folderPrefix returns the listing prefix for the given path segments,
// always ending in "/" unless it is the bucket root.
func folderPrefix(root string, parts ...string) string {
	p := path.Join(append([]string{root}, parts...)...)
	if p == "" || p == "." {
		return ""
	}
	return p + "/"
}

// recordKeys keeps the primary record objects directly under prefix, in
// name order.
func recordKeys(prefix string, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if name == "" || strings.Contains(name, "/") || !IsRecordFile(name) {
			continue
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// folderNames extracts the child folder names from a non-recursive listing.
func folderNames(prefix string, keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		name := strings.TrimPrefix(k, prefix)
		if !strings.HasSuffix(name, "/") {
			continue
		}
		name = strings.TrimSuffix(name, "/")
		if validSegment(name) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (o *Object) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range o.client.ListObjects(ctx, o.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, "list %s/%s", o.bucket, prefix)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func (o *Object) read(ctx context.Context, key string) ([]byte, error) {
	obj, err := o.client.GetObject(ctx, o.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(obj)
}

func (o *Object) Load(ctx context.Context, resourceType string) ([]fhir.Record, error) {
	if !validSegment(resourceType) {
		return []fhir.Record{}, nil
	}
	prefix := folderPrefix(o.prefix, resourceType)
	listed, err := o.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := recordKeys(prefix, listed)

	parsed := make([]fhir.Record, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			data, err := o.read(gctx, key)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				o.logger.Debug().Err(err).Str("key", key).Msg("skipping unreadable record")
				return nil
			}
			rec, err := fhir.ParseRecord(data)
			if err != nil {
				o.logger.Debug().Err(err).Str("key", key).Msg("skipping unreadable record")
				return nil
			}
			parsed[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]fhir.Record, 0, len(parsed))
	for _, r := range parsed {
		if !r.IsZero() {
			records = append(records, r)
		}
	}
	return records, nil
}

func (o *Object) Variant(ctx context.Context, resourceType, id string) (fhir.Record, error) {
	name, ok := VariantName(id)
	if !ok || !validSegment(resourceType) {
		return fhir.Record{}, errors.Wrapf(ErrVariantNotFound, "%s/%s", resourceType, id)
	}
	key := folderPrefix(o.prefix, resourceType) + name

	data, err := o.read(ctx, key)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fhir.Record{}, errors.Wrapf(ErrVariantNotFound, "%s/%s", resourceType, id)
		}
		return fhir.Record{}, errors.Wrapf(err, "read %s", key)
	}
	rec, err := fhir.ParseRecord(data)
	if err != nil {
		return fhir.Record{}, errors.Wrapf(err, "parse %s", key)
	}
	return rec, nil
}

func (o *Object) ResourceTypes(ctx context.Context) ([]string, error) {
	prefix := folderPrefix(o.prefix)
	keys, err := o.list(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return folderNames(prefix, keys), nil
}
