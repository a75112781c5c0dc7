package app

import (
	"database/sql"
	"fmt"
	"strings"

	"playground/internal/gateway/config"
	artifactrepo "playground/internal/gateway/repository/artifact"
	"playground/internal/gateway/repository/projectstore"
	"playground/internal/logging"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

type gatewayStores struct {
	projects *projectstore.Store
	shares   artifactrepo.Store
	db       *sql.DB
}

func (s *gatewayStores) Close() error {
	err := s.projects.Close()
	if s.db != nil {
		if cerr := s.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func initStores(cfg *config.Config) (*gatewayStores, error) {
	projects, err := projectstore.Open(cfg.ProjectStore.Path, cfg.ProjectStore.DSN, projectstore.DefaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open project store: %w", err)
	}
	stores := &gatewayStores{projects: projects}

	var fallback artifactrepo.Store = artifactrepo.NewMemoryStore()
	fallbackLabel := "in-memory"
	if dsn := strings.TrimSpace(cfg.ProjectStore.DSN); dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			_ = projects.Close()
			return nil, fmt.Errorf("failed to open db: %w", err)
		}
		stores.db = db
		fallback = artifactrepo.NewPostgresStore(db)
		fallbackLabel = "postgres"
	}

	shares, err := chooseArtifactStore(cfg, fallback, fallbackLabel)
	if err != nil {
		_ = stores.Close()
		return nil, err
	}
	stores.shares = shares
	return stores, nil
}

func chooseArtifactStore(cfg *config.Config, fallback artifactrepo.Store, fallbackLabel string) (artifactrepo.Store, error) {
	origin := fallback
	if cfg.Artifact.CanUseS3() {
		s3Cfg := artifactrepo.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
		}
		s3Store, err := artifactrepo.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
		}
		logging.L().Info("share store: s3", zap.String("bucket", s3Cfg.Bucket), zap.String("endpoint", s3Cfg.Endpoint))
		origin = s3Store
	} else {
		if cfg.Artifact.Enabled {
			logging.L().Warn("share store: s3 config incomplete, using fallback", zap.String("fallback", fallbackLabel))
		} else {
			logging.L().Info("share store", zap.String("backend", fallbackLabel))
		}
	}
	return artifactrepo.NewCachedStore(origin, artifactrepo.DefaultCacheConfig()), nil
}
