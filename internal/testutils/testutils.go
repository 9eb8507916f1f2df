package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/nfrund/pulse/internal/config"
	"github.com/nfrund/pulse/internal/logging"
)

// ConfigForTests loads the .env.test file at the project root and returns the
// resulting config. Integration tests are skipped when the file is missing.
func ConfigForTests(t *testing.T) config.Provider {
	t.Helper()

	// Find the project root by looking for go.mod.
	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			break
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}

	env, err := godotenv.Read(filepath.Join(path, ".env.test"))
	if err != nil {
		t.Skipf("skipping integration test: %v", err)
	}

	// t.Setenv restores the environment when the test ends.
	for key, value := range env {
		t.Setenv(key, value)
	}

	logging.New()

	return config.FromEnv()
}
