package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestK8s(t *testing.T, handler http.HandlerFunc) *K8sClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	token := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(token, []byte("secret-token\n"), 0o600))

	return &K8sClient{namespace: "games", baseURL: srv.URL, tokenPath: token, client: srv.Client()}
}

func TestK8sClient_FindPod(t *testing.T) {
	k := newTestK8s(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/namespaces/games/pods", r.URL.Path)
		assert.Equal(t, "app=game,tier=server", r.URL.Query().Get("labelSelector"))
		assert.Equal(t, "status.phase=Running", r.URL.Query().Get("fieldSelector"))
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"items":[{"metadata":{"name":"game-0"}}]}`))
	})

	name, err := k.FindPod(context.Background(), "app=game,tier=server")
	require.NoError(t, err)
	assert.Equal(t, "game-0", name)
}

func TestK8sClient_FindPodNone(t *testing.T) {
	k := newTestK8s(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[]}`))
	})
	_, err := k.FindPod(context.Background(), "app=game")
	assert.ErrorContains(t, err, "no running pod")
}

func TestK8sClient_APIError(t *testing.T) {
	k := newTestK8s(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	_, err := k.StreamLogs(context.Background(), "game-0")
	assert.ErrorContains(t, err, "403")
}

func TestPodLogSource_Open(t *testing.T) {
	k := newTestK8s(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/namespaces/games/pods":
			w.Write([]byte(`{"items":[{"metadata":{"name":"game-0"}}]}`))
		case "/api/v1/namespaces/games/pods/game-0/log":
			assert.Equal(t, "true", r.URL.Query().Get("follow"))
			w.Write([]byte("Alice joined\n"))
		default:
			http.NotFound(w, r)
		}
	})

	src := NewPodLogSource(k, "app=game", zerolog.Nop())
	assert.Equal(t, "pod:app=game", src.Name())
	body, err := src.Open(context.Background())
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "Alice joined\n", string(data))
}
