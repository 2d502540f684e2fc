//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion matches the onnxruntime_go release fastembed-go
// links against.
const DefaultONNXRuntimeVersion = "1.23.0"

const onnxReleaseBase = "https://github.com/microsoft/onnxruntime/releases/download"

// ErrUnsupportedPlatform is returned for OS/arch pairs without a prebuilt runtime.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// onnxRuntime describes one runtime install: which release, for which
// platform, into which directory.
type onnxRuntime struct {
	version string
	goos    string
	goarch  string
	dir     string
	baseURL string
	client  *http.Client
}

func defaultONNXRuntime(version string) onnxRuntime {
	if version == "" {
		version = DefaultONNXRuntimeVersion
	}
	return onnxRuntime{
		version: version,
		goos:    runtime.GOOS,
		goarch:  runtime.GOARCH,
		dir:     filepath.Join(cacheRoot(), "lib"),
		baseURL: onnxReleaseBase,
		client:  &http.Client{Timeout: 10 * time.Minute},
	}
}

// platform names the release archive for the target, e.g. linux-x64.
func (o onnxRuntime) platform() (string, error) {
	names := map[string]string{
		"linux/amd64":  "linux-x64",
		"linux/arm64":  "linux-aarch64",
		"darwin/amd64": "osx-x86_64",
		"darwin/arm64": "osx-arm64",
	}
	if name, ok := names[o.goos+"/"+o.goarch]; ok {
		return name, nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, o.goos, o.goarch)
}

func (o onnxRuntime) libraryName() string {
	if o.goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

func (o onnxRuntime) libraryPath() string {
	return filepath.Join(o.dir, o.libraryName())
}

// archiveURL is the release tarball, e.g.
// .../v1.23.0/onnxruntime-linux-x64-1.23.0.tgz.
func (o onnxRuntime) archiveURL() (string, error) {
	p, err := o.platform()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/v%s/onnxruntime-%s-%s.tgz", o.baseURL, o.version, p, o.version), nil
}

// install downloads the release and unpacks its lib/ directory. Files land
// in a staging directory first so an interrupted download never leaves a
// half-written library where the loader would find it.
func (o onnxRuntime) install(ctx context.Context) error {
	url, err := o.archiveURL()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(o.dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", o.dir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: status %d", url, resp.StatusCode)
	}

	staging, err := os.MkdirTemp(o.dir, ".onnx-")
	if err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	files, err := o.unpackLib(resp.Body, staging)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", path.Base(url), err)
	}
	for _, name := range files {
		dst := filepath.Join(o.dir, name)
		_ = os.Remove(dst)
		if err := os.Rename(filepath.Join(staging, name), dst); err != nil {
			return fmt.Errorf("installing %s: %w", name, err)
		}
	}
	return nil
}

// unpackLib copies regular files and symlinks under lib/ into dir and
// returns their names. It fails when the main library is missing.
func (o onnxRuntime) unpackLib(r io.Reader, dir string) ([]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	lib := o.libraryName()
	var (
		files []string
		found bool
	)
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if path.Base(path.Dir(name)) != "lib" {
			continue
		}
		base := path.Base(name)
		dst := filepath.Join(dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, dst); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := writeFile(dst, tr); err != nil {
				return nil, err
			}
		default:
			continue
		}
		files = append(files, base)
		if base == lib || strings.HasPrefix(base, lib+".") {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%s not in archive", lib)
	}
	return files, nil
}

func writeFile(dst string, r io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func cacheRoot() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "mailindex")
	}
	return filepath.Join(".", ".mailindex-cache")
}

// defaultModelCacheDir is where fastembed keeps model files when
// embeddings.fastembed.cache_dir is unset.
func defaultModelCacheDir() string {
	return filepath.Join(cacheRoot(), "fastembed")
}

// ONNXLibraryPath returns ONNX_PATH when set, else the managed install if
// present, else "".
func ONNXLibraryPath() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	if p := defaultONNXRuntime("").libraryPath(); fileExists(p) {
		return p
	}
	return ""
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// DownloadONNXRuntime installs the runtime into the user cache directory.
// An empty version means DefaultONNXRuntimeVersion.
func DownloadONNXRuntime(ctx context.Context, version string) error {
	return defaultONNXRuntime(version).install(ctx)
}

// EnsureONNXRuntime makes the runtime available to fastembed-go, downloading
// it on first use, and returns the library path.
func EnsureONNXRuntime(ctx context.Context, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if p := ONNXLibraryPath(); p != "" {
		return p, os.Setenv("ONNX_PATH", p)
	}

	logger.Info("ONNX runtime not found, downloading",
		zap.String("version", DefaultONNXRuntimeVersion),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH))
	if err := DownloadONNXRuntime(ctx, ""); err != nil {
		return "", fmt.Errorf("failed to download ONNX runtime: %w (set ONNX_PATH to use an existing install)", err)
	}
	p := ONNXLibraryPath()
	if p == "" {
		return "", errors.New("ONNX runtime download completed but library not found")
	}
	logger.Info("ONNX runtime installed", zap.String("path", p))
	return p, os.Setenv("ONNX_PATH", p)
}
