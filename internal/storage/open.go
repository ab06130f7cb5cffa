package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"routecodex-go/internal/config"
)

// Open builds, initializes and instruments the backend selected by cfg.
// A network backend that cannot come up must not keep the gateway from
// booting: the failure is logged and Open degrades to the file backend.
// Only a file backend failure (state dir unwritable) is returned.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	name := backendName(cfg)

	b, err := OpenStrict(ctx, cfg)
	if err == nil {
		return b, nil
	}
	if name == "file" {
		return nil, err
	}

	log.WithError(err).WithField("backend", name).
		Warn("storage backend unavailable, degrading to file backend")

	fb := NewFileBackend(cfg.BaseDir)
	if err := fb.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("degrade to file backend: %w", err)
	}
	return Instrument(fb, "file"), nil
}

// OpenStrict is Open without the degrade. Ops tooling wants the real
// backend or an error, never a silent fallback.
func OpenStrict(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	name := backendName(cfg)

	inner, err := build(name, cfg)
	if err != nil {
		return nil, err
	}
	if err := inner.Initialize(ctx); err != nil {
		inner.Close()
		return nil, err
	}
	return Instrument(inner, name), nil
}

func backendName(cfg config.StorageConfig) string {
	if cfg.Backend == "" {
		return "file"
	}
	return cfg.Backend
}

func build(name string, cfg config.StorageConfig) (Backend, error) {
	switch name {
	case "file":
		return NewFileBackend(cfg.BaseDir), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis backend selected without redisAddr")
		}
		return NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix)
	case "mongodb":
		if cfg.MongoURI == "" {
			return nil, errors.New("mongodb backend selected without mongoURI")
		}
		return NewMongoBackend(cfg.MongoURI, cfg.MongoDatabase), nil
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres backend selected without postgresDSN")
		}
		return NewPostgresBackend(cfg.PostgresDSN), nil
	case "git":
		dir := cfg.GitDir
		if dir == "" {
			dir = filepath.Join(cfg.BaseDir, "git")
		}
		return NewGitBackend(dir, GitOptions{
			RemoteURL:   cfg.GitRemoteURL,
			Branch:      cfg.GitBranch,
			Username:    cfg.GitUsername,
			Password:    cfg.GitPassword,
			AuthorName:  cfg.GitAuthorName,
			AuthorEmail: cfg.GitAuthorMail,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", name)
	}
}
