package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func waitHealthy(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("server did not become healthy")
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	port := freePort(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
server:
  port: %d
  shutdown_timeout: 3s
nats:
  embedded: false
logging:
  level: warn
`, port)), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfgPath)
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitHealthy(t, base)

	body, err := json.Marshal(map[string]any{
		"definition": map[string]any{
			"id":       "daemon-smoke",
			"name":     "Daemon Smoke",
			"category": "monitoring",
			"participants": []map[string]any{
				{"name": "Lens", "role": "analyst", "trust_score": 0.8},
			},
			"phases": []map[string]any{
				{"id": "look", "name": "Look", "actions": []string{"observe"}},
			},
		},
		"discard": true,
	})
	require.NoError(t, err)

	resp, err := http.Post(base+"/api/v1/executions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}
