package config

import (
	"strings"

	"github.com/yndnr/objmesh-go/internal/telemetry/logger"
)

// Sanitize returns a copy of cfg that is safe to print.
func Sanitize(cfg *NodeConfig) *NodeConfig {
	out := *cfg
	out.Mesh.Seeds = append([]string(nil), cfg.Mesh.Seeds...)
	if out.Coordinator.SealKey != "" {
		out.Coordinator.SealKey = maskSecret(out.Coordinator.SealKey)
	}
	if out.Coordinator.RedisURL != "" {
		out.Coordinator.RedisURL = logger.RedactURL(out.Coordinator.RedisURL)
	}
	return &out
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
