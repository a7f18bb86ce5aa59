package cache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath — запись архива выходит за пределы workspace.
var ErrUnsafePath = errors.New("archive entry escapes workspace")

// packPaths собирает пути внутри workspace в tar.gz-архив.
// Пути в архиве хранятся относительно workspace. Несуществующие
// пути пропускаются: job мог ничего не положить в кэшируемую
// директорию.
func packPaths(workDir string, paths []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, p := range paths {
		root := filepath.Join(workDir, p)
		if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
			continue
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return addEntry(tw, workDir, path, d)
		})
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", p, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

func addEntry(tw *tar.Writer, workDir, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}

	// Симлинки не кэшируются: цель может указывать наружу workspace.
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil
	}

	rel, err := filepath.Rel(workDir, path)
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// unpackPaths разворачивает tar.gz-архив в workspace.
func unpackPaths(workDir string, blob []byte) error {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		target, err := safeJoin(workDir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, fs.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("write %s: %w", hdr.Name, err)
			}
		default:
			// Спецфайлы в кэше не восстанавливаются.
		}
	}
}

// safeJoin проверяет, что запись архива остаётся внутри workspace.
func safeJoin(workDir, name string) (string, error) {
	target := filepath.Join(workDir, filepath.FromSlash(name))
	if target != workDir && !strings.HasPrefix(target, workDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(f, r)
	return err
}
