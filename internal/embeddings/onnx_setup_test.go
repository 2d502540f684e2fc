//go:build cgo

package embeddings

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestONNXRuntime_ArchiveURL(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         string
		lib          string
	}{
		{"linux", "amd64", "https://example.test/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz", "libonnxruntime.so"},
		{"linux", "arm64", "https://example.test/v1.23.0/onnxruntime-linux-aarch64-1.23.0.tgz", "libonnxruntime.so"},
		{"darwin", "amd64", "https://example.test/v1.23.0/onnxruntime-osx-x86_64-1.23.0.tgz", "libonnxruntime.dylib"},
		{"darwin", "arm64", "https://example.test/v1.23.0/onnxruntime-osx-arm64-1.23.0.tgz", "libonnxruntime.dylib"},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			o := onnxRuntime{version: "1.23.0", goos: tt.goos, goarch: tt.goarch, baseURL: "https://example.test"}
			got, err := o.archiveURL()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.lib, o.libraryName())
		})
	}
}

func TestONNXRuntime_UnsupportedPlatform(t *testing.T) {
	o := onnxRuntime{version: "1.23.0", goos: "windows", goarch: "amd64"}
	_, err := o.archiveURL()
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

// releaseTarball builds a minimal runtime archive with the real layout.
func releaseTarball(t *testing.T, prefix string, withLib bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	add := func(name string, body []byte) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(body)
		require.NoError(t, err)
	}
	add(prefix+"/include/onnxruntime_c_api.h", []byte("header"))
	add(prefix+"/lib/libonnxruntime_providers_shared.so", []byte("providers"))
	if withLib {
		add(prefix+"/lib/libonnxruntime.so.1.23.0", []byte("runtime"))
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: prefix + "/lib/libonnxruntime.so", Typeflag: tar.TypeSymlink, Linkname: "libonnxruntime.so.1.23.0",
		}))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestONNXRuntime_Install(t *testing.T) {
	archive := releaseTarball(t, "onnxruntime-linux-x64-1.23.0", true)
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	o := onnxRuntime{
		version: "1.23.0", goos: "linux", goarch: "amd64",
		dir: t.TempDir(), baseURL: srv.URL, client: srv.Client(),
	}
	require.NoError(t, o.install(context.Background()))

	assert.Equal(t, "/v1.23.0/onnxruntime-linux-x64-1.23.0.tgz", requested)
	body, err := os.ReadFile(o.libraryPath())
	require.NoError(t, err, "symlink resolves to the versioned library")
	assert.Equal(t, "runtime", string(body))
	assert.NoFileExists(t, filepath.Join(o.dir, "onnxruntime_c_api.h"), "only lib/ is unpacked")

	entries, err := os.ReadDir(o.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".onnx-", "staging directory is removed")
	}
}

func TestONNXRuntime_InstallRejectsArchiveWithoutLibrary(t *testing.T) {
	archive := releaseTarball(t, "onnxruntime-linux-x64-1.23.0", false)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	o := onnxRuntime{
		version: "1.23.0", goos: "linux", goarch: "amd64",
		dir: t.TempDir(), baseURL: srv.URL, client: srv.Client(),
	}
	err := o.install(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "libonnxruntime.so not in archive")
	assert.NoFileExists(t, filepath.Join(o.dir, "libonnxruntime_providers_shared.so"), "nothing is installed from a bad archive")
}

func TestONNXRuntime_InstallHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	o := onnxRuntime{
		version: "9.9.9", goos: "darwin", goarch: "arm64",
		dir: t.TempDir(), baseURL: srv.URL, client: srv.Client(),
	}
	err := o.install(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestONNXLibraryPath_EnvOverride(t *testing.T) {
	t.Setenv("ONNX_PATH", "/opt/onnx/libonnxruntime.so")
	assert.Equal(t, "/opt/onnx/libonnxruntime.so", ONNXLibraryPath())
}
