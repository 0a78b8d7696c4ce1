package test

import (
	"path"
	"testing"

	"github.com/flow-hydraulics/credential-vault/configs"
)

// LoadConfig returns a cloud mode config backed by the in-process KMS.
//
// DatabaseType is always `sqlite`.
//
// Configured database DSN points to a file in tempdir created for given test
// and it's automatically cleaned up by t.CleanUp() in the end of test run.
func LoadConfig(t *testing.T) *configs.Config {
	t.Helper()

	t.Setenv("VAULT_KMS_TYPE", configs.KMSTypeLocal)
	t.Setenv("VAULT_ENCRYPTION_KEY", "faae4ed1c30f4e4555ee3a71f1044a8e")
	t.Setenv("VAULT_KMS_PROJECT_ID", "test-project")
	t.Setenv("VAULT_LOG_LEVEL", "error")

	cfg, err := configs.Parse()
	if err != nil {
		t.Fatal(err)
	}

	cfg.DatabaseDSN = path.Join(t.TempDir(), "test.db")
	cfg.DatabaseType = "sqlite"

	configs.ConfigureLogger(cfg.LogLevel)

	return cfg
}
