package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ArchiveExt is the file extension Archive produces.
const ArchiveExt = ".tar.zst"

// Archive streams the snapshot as a zstd-compressed tarball. Entry names
// are relative to the snapshot directory's parent so that extracting the
// archive recreates rollback_<ts>/.
func (s *Snapshot) Archive(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	base := filepath.Dir(s.Dir)
	walkErr := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !d.IsDir() && !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	return errors.Join(walkErr, tw.Close(), zw.Close())
}

// ArchiveName is the object name used for the snapshot's archive.
func (s *Snapshot) ArchiveName() string {
	return filepath.Base(s.Dir) + ArchiveExt
}

// Extract unpacks an archive written by Archive into root and returns the
// snapshot it contained.
func Extract(r io.Reader, root string) (*Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var top string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive: %w", err)
		}

		name := filepath.FromSlash(hdr.Name)
		if !filepath.IsLocal(name) {
			return nil, fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		if top == "" {
			top = strings.SplitN(filepath.ToSlash(name), "/", 2)[0]
		}

		dst := filepath.Join(root, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return nil, err
			}
		case tar.TypeReg:
			if err := writeEntry(dst, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return nil, err
			}
		}
	}

	if top == "" {
		return nil, errors.New("archive is empty")
	}
	return Open(filepath.Join(root, top))
}

func writeEntry(dst string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
