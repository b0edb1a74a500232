//go:build !linux && !darwin

package config

const (
	DEFAULT_CONFIG      = "sheetsync.yaml"
	DEFAULT_WORKDIR     = "."
	DEFAULT_CREDENTIALS = ".google/credentials.json"
)
