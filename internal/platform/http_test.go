package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartUploadSessionHitsNamespacedRoute(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]any{"jwt": "session-jwt", "buckets": [][]string{{"aa"}, {"bb"}}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-token", "test-namespace")
	session, err := c.StartUploadSession(context.Background(), "my-script", map[string]FileMetadata{
		"/index.html": {Hash: "aa", Size: 5},
	})
	require.NoError(t, err)
	require.Equal(t, "/namespaces/test-namespace/scripts/my-script/assets-upload-session", gotPath)
	require.Equal(t, "Bearer api-token", gotAuth)
	require.Contains(t, gotBody, "manifest")
	require.Equal(t, "session-jwt", session.Token)
	require.Len(t, session.Buckets, 2)
}

func TestUploadAssetsUsesSessionTokenAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer session-jwt", r.Header.Get("Authorization"))
		require.Equal(t, "true", r.URL.Query().Get("base64"))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]string{"jwt": "completion-jwt"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-token", "ns")
	res, err := c.UploadAssets(context.Background(), "session-jwt", map[string]string{"aa": "YQ=="})
	require.NoError(t, err)
	require.Equal(t, "completion-jwt", res.CompletionToken)
}

func TestPublishScriptSendsCodeAndAssets(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/namespaces/ns/scripts/proj-script", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"result":  map[string]string{"id": "version-7"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-token", "ns")
	res, err := c.PublishScript(context.Background(), &PublishRequest{
		ScriptName:           "proj-script",
		Code:                 []byte("export default {}"),
		Runtime:              RuntimeConfig{Entrypoint: "index.js", CompatibilityDate: "2026-01-01"},
		AssetCompletionToken: "completion-jwt",
		AssetBinding:         "ASSETS",
	})
	require.NoError(t, err)
	require.Equal(t, "version-7", res.VersionID)
	require.Contains(t, gotBody, "code")
	assetsBody, ok := gotBody["assets"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "completion-jwt", assetsBody["jwt"])
	require.Equal(t, "ASSETS", assetsBody["binding"])
}

func TestDoSurfacesPlatformErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"errors":  []map[string]any{{"code": 10021, "message": "script startup exceeded CPU limit"}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "api-token", "ns")
	err := c.ApplySchema(context.Background(), "db-1", "SELECT 1;")
	require.Error(t, err)
	require.Contains(t, err.Error(), "script startup exceeded CPU limit")
}
