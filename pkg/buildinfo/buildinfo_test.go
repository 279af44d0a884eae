package buildinfo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	info := Get("test-svc")

	assert.Equal(t, "test-svc", info.ServiceName)
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.NotEmpty(t, info.Commit)
	assert.NotEmpty(t, info.BuildTime)
}

func TestGet_Stamped(t *testing.T) {
	oldV, oldC, oldT := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldV, oldC, oldT })

	Version, Commit, BuildTime = "v1.2.3", "abc1234", "2026-10-01T09:00:00Z"

	info := Get(ServiceName)
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "abc1234", info.Commit)
	assert.Equal(t, "2026-10-01T09:00:00Z", info.BuildTime)
	assert.Equal(t, "v1.2.3 (abc1234, 2026-10-01T09:00:00Z)", String())
}

func TestInfo_JSON(t *testing.T) {
	data, err := json.Marshal(Info{ServiceName: "svc", Version: "v1", Commit: "c", BuildTime: "t", GoVersion: "go"})
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"service_name", "version", "commit", "build_time", "go_version"} {
		assert.Contains(t, m, key)
	}
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(ServiceName)(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info Info
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, ServiceName, info.ServiceName)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}
