// Package repo finds newer client module images in an artifact repository and caches them locally.
//
// Artifacts are keyed <name>-<version>.<format>[.zst|.lz4] where version is a semantic version
// and format is one the pool loader opens: o, a or linkable. A Repo is a bypass.Checker, so it
// plugs straight into the update watcher.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ZenLiuCN/bypass"
	"github.com/ZenLiuCN/fn"
	"github.com/natefinch/atomic"
	"golang.org/x/sync/singleflight"
)

// DefaultName is the artifact name used when the configuration leaves it empty.
const DefaultName = "client"

// Repo resolves artifacts of one module name from a Source.
type Repo struct {
	src   Source
	name  string
	cache string
	log   *bypass.Logger
	group singleflight.Group
}

var _ bypass.Checker = (*Repo)(nil)

// New creates a Repo for module name over src, caching images in cache.
func New(src Source, name, cache string, log *bypass.Logger) *Repo {
	if name == "" {
		name = DefaultName
	}
	if cache == "" {
		cache = filepath.Join(os.TempDir(), "bypass-cache")
	}
	if log == nil {
		log = bypass.NoopLogger()
	}
	return &Repo{src: src, name: name, cache: cache, log: log}
}

// Open builds the source described by cfg.
func Open(ctx context.Context, cfg bypass.RepoConfig) (Store, error) {
	switch cfg.Kind {
	case "dir":
		return NewDirSource(nil, cfg.Dir), nil
	case "minio":
		cl, err := DialMinio(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Region, cfg.UseSSL)
		if err != nil {
			return nil, fmt.Errorf("minio %s: %w", cfg.Endpoint, err)
		}
		return NewMinioSource(cl, cfg.Bucket, cfg.Prefix), nil
	case "s3":
		cl, err := DialS3(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Region)
		if err != nil {
			return nil, fmt.Errorf("s3: %w", err)
		}
		return NewS3Source(cl, cfg.Bucket, cfg.Prefix), nil
	case "":
		return nil, errors.New("repository kind is not configured")
	}
	return nil, fmt.Errorf("unknown repository kind %q", cfg.Kind)
}

// FromConfig builds the Repo described by cfg.
func FromConfig(ctx context.Context, cfg bypass.RepoConfig, log *bypass.Logger) (*Repo, error) {
	src, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(src, cfg.Name, cfg.CacheDir, log), nil
}

func init() {
	bypass.RegisterChecker(func(ctx context.Context, cfg bypass.Config, log *bypass.Logger) (bypass.Checker, error) {
		r, err := FromConfig(ctx, cfg.Repo, log)
		if err != nil {
			return nil, err
		}
		return r, nil
	})
}

// Name is the module name artifacts are matched against.
func (r *Repo) Name() string { return r.name }

// CacheDir is where fetched images are written.
func (r *Repo) CacheDir() string { return r.cache }

// Artifacts lists every artifact of the module, in key order.
func (r *Repo) Artifacts(ctx context.Context) ([]Artifact, error) {
	keys, err := r.src.List(ctx, r.name+"-")
	if err != nil {
		return nil, err
	}
	var arts []Artifact
	for _, k := range keys {
		if a, ok := ParseArtifact(r.name, k); ok {
			arts = append(arts, a)
		}
	}
	return arts, nil
}

// Latest returns the artifact with the highest version.
func (r *Repo) Latest(ctx context.Context) (Artifact, bool, error) {
	arts, err := r.Artifacts(ctx)
	if err != nil {
		return Artifact{}, false, err
	}
	a, ok := latest(arts)
	return a, ok, nil
}

// Check reports the latest artifact when it is newer than current, fetched into the cache.
func (r *Repo) Check(ctx context.Context, current string) (bypass.Update, bool, error) {
	a, ok, err := r.Latest(ctx)
	if err != nil || !ok || !a.Newer(current) {
		return bypass.Update{}, false, err
	}
	p, err := r.Fetch(ctx, a)
	if err != nil {
		return bypass.Update{}, false, err
	}
	return bypass.Update{Version: a.Version, Path: p}, true, nil
}

// Fetch decompresses a into the cache and returns the local path. A cached image is reused;
// concurrent fetches of one artifact share a single download.
func (r *Repo) Fetch(ctx context.Context, a Artifact) (string, error) {
	dst := filepath.Join(r.cache, a.File())
	v, err, shared := r.group.Do(a.Key, func() (any, error) {
		if _, err := os.Stat(dst); err == nil {
			return dst, nil
		}
		if err := os.MkdirAll(r.cache, 0o755); err != nil {
			return nil, err
		}
		src, err := r.src.Open(ctx, a.Key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Key, err)
		}
		defer fn.IgnoreClose(src)
		dec, err := decoder(a.Codec, src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Key, err)
		}
		defer fn.IgnoreClose(dec)
		if err = atomic.WriteFile(dst, dec); err != nil {
			return nil, fmt.Errorf("%s: %w", a.Key, err)
		}
		r.log.Info("artifact fetched", "key", a.Key, "version", a.Version, "path", dst)
		return dst, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		r.log.Debug("artifact fetch shared", "key", a.Key)
	}
	return v.(string), nil
}

// Publish uploads the image at file as version, compressed with codec.
func (r *Repo) Publish(ctx context.Context, sink Sink, file, version string, codec Codec) (Artifact, error) {
	format := filepath.Ext(file)
	if format != "" {
		format = format[1:]
	}
	a, err := NewArtifact(r.name, version, format, codec)
	if err != nil {
		return Artifact{}, err
	}
	f, err := os.Open(file)
	if err != nil {
		return Artifact{}, err
	}
	defer fn.IgnoreClose(f)
	size := int64(-1)
	if codec == CodecNone {
		if fi, err := f.Stat(); err == nil {
			size = fi.Size()
		}
	}
	pr, pw := io.Pipe()
	go func() {
		enc, err := encoder(codec, pw)
		if err == nil {
			_, err = io.Copy(enc, f)
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}
		_ = pw.CloseWithError(err)
	}()
	if err = sink.Put(ctx, a.Key, pr, size); err != nil {
		_ = pr.CloseWithError(err)
		return Artifact{}, fmt.Errorf("%s: %w", a.Key, err)
	}
	r.log.Info("artifact published", "key", a.Key, "version", a.Version)
	return a, nil
}
