package commands

import (
	"os"
	"path/filepath"
	"testing"

	"kick-miner/internal/infra/config"
)

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"channels":["foo"],"messages":["gm"],"authorization":"abc",
"wait_times":{"livestream_active":{"min":10,"max":20},"livestream_inactive":30}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(config.LoadOptions{Path: path, EnvFile: filepath.Join(dir, "missing.env")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}
