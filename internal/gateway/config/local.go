package config

// applyLocalDefaults points a local run at the docker-compose MinIO when
// ARTIFACT_MINIO_ENDPOINT is set.
func applyLocalDefaults(cfg *Config, env func(string) string) {
	if endpoint := env("ARTIFACT_MINIO_ENDPOINT"); endpoint != "" && !cfg.Artifact.Enabled {
		cfg.Artifact.Enabled = true
		cfg.Artifact.Endpoint = endpoint
		cfg.Artifact.AccessKey = firstNonEmpty(cfg.Artifact.AccessKey, "playground")
		cfg.Artifact.SecretKey = firstNonEmpty(cfg.Artifact.SecretKey, "playground123")
	}
}
