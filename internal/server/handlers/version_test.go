package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHandler(t *testing.T) {
	SetVersionInfo("1.0.0", "abc123", "2026-01-02")
	t.Cleanup(func() { SetVersionInfo("dev", "unknown", "unknown") })

	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	VersionHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.0.0", resp.App.Version)
	assert.Equal(t, "abc123", resp.App.Commit)
	assert.Equal(t, runtime.Version(), resp.App.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, resp.Runtime.Platform)
}
