//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// onnxRuntimeVersion must match the onnxruntime_go pin in go.mod.
const onnxRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform indicates the current OS/arch has no ONNX
// runtime release archive.
var ErrUnsupportedPlatform = fmt.Errorf("unsupported platform")

// getPlatformArchive maps GOOS/GOARCH to the microsoft/onnxruntime
// release archive platform token.
func getPlatformArchive(goos, goarch string) (string, error) {
	switch goos + "/" + goarch {
	case "linux/amd64":
		return "linux-x64", nil
	case "linux/arm64":
		return "linux-aarch64", nil
	case "darwin/amd64":
		return "osx-x86_64", nil
	case "darwin/arm64":
		return "osx-arm64", nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func getLibraryName(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

// installDir is where geogate keeps its managed runtime copy.
func installDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "geogate", "lib")
}

// GetONNXLibraryPath locates the runtime library: the ONNX_PATH
// override first, then the managed install. Empty when neither exists.
func GetONNXLibraryPath() string {
	if envPath := os.Getenv("ONNX_PATH"); envPath != "" {
		return envPath
	}
	managed := filepath.Join(installDir(), getLibraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// ONNXRuntimeExists reports whether a runtime library is locatable.
func ONNXRuntimeExists() bool {
	return GetONNXLibraryPath() != ""
}

func buildDownloadURL(version, platform string) string {
	return fmt.Sprintf(
		"https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz",
		version, platform, version)
}

// fetchRuntime downloads the pinned release archive and unpacks its
// lib/ contents into the managed install dir.
func fetchRuntime(ctx context.Context) error {
	platform, err := getPlatformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}

	destDir := installDir()
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}

	url := buildDownloadURL(onnxRuntimeVersion, platform)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("downloading onnx runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("onnx runtime download returned status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, onnxRuntimeVersion)
	if err := untarLibs(resp.Body, destDir, prefix); err != nil {
		return fmt.Errorf("extracting onnx runtime: %w", err)
	}
	return nil
}

// untarLibs extracts everything under the archive's lib/ prefix,
// flattened into destDir. Symlinks in the archive (the .so version
// chain) are recreated; a symlink that cannot be created is skipped
// because the target file is extracted alongside it.
func untarLibs(r io.Reader, destDir, prefix string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gzr.Close()

	libName := getLibraryName(runtime.GOOS)
	found := false

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasPrefix(name, prefix) || header.Typeflag == tar.TypeDir {
			continue
		}

		base := filepath.Base(name)
		dest := filepath.Join(destDir, base)

		if header.Typeflag == tar.TypeSymlink {
			os.Remove(dest)
			if err := os.Symlink(header.Linkname, dest); err != nil {
				continue
			}
			if base == libName {
				found = true
			}
			continue
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("creating %s: %w", base, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("writing %s: %w", base, err)
		}
		out.Close()

		if base == libName || strings.HasPrefix(base, libName+".") {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("%s not present in archive", libName)
	}
	return nil
}

// setONNXPathEnv points fastembed-go at the library. A var so tests can
// intercept it.
var setONNXPathEnv = func(path string) error {
	return os.Setenv("ONNX_PATH", path)
}

// EnsureONNXRuntime returns the runtime library path, downloading the
// pinned release into the managed dir when nothing is installed yet.
func EnsureONNXRuntime(ctx context.Context) (string, error) {
	if path := GetONNXLibraryPath(); path != "" {
		return path, nil
	}
	if err := fetchRuntime(ctx); err != nil {
		return "", fmt.Errorf("installing onnx runtime (set ONNX_PATH to use an existing copy): %w", err)
	}
	path := GetONNXLibraryPath()
	if path == "" {
		return "", fmt.Errorf("onnx runtime installed but library not found")
	}
	return path, nil
}
