package embeddings

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ensureFile downloads dst from the first working URL unless it already exists.
func ensureFile(ctx context.Context, logger *zap.Logger, dst string, urls []string, timeout time.Duration) error {
	if fileExists(dst) {
		return nil
	}
	var errs []error
	for i, u := range urls {
		logger.Info("downloading", zap.String("url", u), zap.Int("attempt", i+1), zap.Int("of", len(urls)))
		if err := downloadFile(ctx, u, dst, timeout); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}
		return nil
	}
	return errors.Join(errs...)
}

func downloadFile(ctx context.Context, url, dst string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "nathy-vtuber/1.0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func unzipOne(zipPath, dstDir, wanted string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return err
	}
	defer r.Close()
	for _, f := range r.File {
		if filepath.Base(f.Name) != wanted {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		return writeExecutable(filepath.Join(dstDir, wanted), rc)
	}
	return fmt.Errorf("%s not found in %s", wanted, zipPath)
}

func untarOne(tgzPath, dstDir, wanted string) error {
	f, err := os.Open(tgzPath)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s not found in %s", wanted, tgzPath)
		}
		if err != nil {
			return err
		}
		// Release archives ship libonnxruntime.so as a symlink to a versioned file.
		base := filepath.Base(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || (base != wanted && !strings.HasPrefix(base, wanted+".")) {
			continue
		}
		return writeExecutable(filepath.Join(dstDir, wanted), tr)
	}
}

func writeExecutable(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if runtime.GOOS != "windows" {
		return os.Chmod(path, 0o755)
	}
	return nil
}
