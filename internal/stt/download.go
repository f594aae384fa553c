package stt

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// EnsureModel makes sure the recognizer model file exists at path,
// downloading it from url when absent. Progress is logged at roughly 10%
// steps. Any network or filesystem failure wraps [ErrModelUnavailable].
func EnsureModel(path, url string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: stat %q: %v", ErrModelUnavailable, path, err)
	}

	if url == "" {
		return fmt.Errorf("%w: %q is missing and no download URL is configured", ErrModelUnavailable, path)
	}

	slog.Info("stt: downloading model", "url", url, "path", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: mkdir %q: %v", ErrModelUnavailable, dir, err)
		}
	}

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("%w: fetch %q: %v", ErrModelUnavailable, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: fetch %q: status %s", ErrModelUnavailable, url, resp.Status)
	}

	// Download to a temp file next to the target so a partial download never
	// masquerades as a valid model.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrModelUnavailable, err)
	}
	defer os.Remove(tmp.Name())

	if err := copyWithProgress(tmp, resp.Body, resp.ContentLength); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: download %q: %v", ErrModelUnavailable, url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %v", ErrModelUnavailable, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: move model into place: %v", ErrModelUnavailable, err)
	}

	slog.Info("stt: model downloaded", "path", path)
	return nil
}

// copyWithProgress copies src to dst, logging at each ~10% step when the
// total size is known, or every 32 MiB otherwise.
func copyWithProgress(dst io.Writer, src io.Reader, total int64) error {
	const chunk = 256 * 1024
	buf := make([]byte, chunk)

	step := total / 10
	if step <= 0 {
		step = 32 << 20
	}

	var written, nextLog int64
	nextLog = step
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			written += int64(n)
			if written >= nextLog {
				if total > 0 {
					slog.Info("stt: download progress",
						"percent", written*100/total, "bytes", written)
				} else {
					slog.Info("stt: download progress", "bytes", written)
				}
				nextLog += step
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
