// Package archive packages retrieved images into a single zip deliverable.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/R3E-Network/imagebulk/internal/app/domain/download"
	apperrors "github.com/R3E-Network/imagebulk/internal/errors"
	"github.com/R3E-Network/imagebulk/pkg/logger"
)

// Packer builds an archive from staged images.
type Packer interface {
	Pack(ctx context.Context, images []download.RetrievedImage, label string) (string, error)
}

// Builder writes zip archives into a single output directory.
type Builder struct {
	dir string
	log *logger.Logger
	now func() time.Time
}

var _ Packer = (*Builder)(nil)

// NewBuilder constructs a builder writing to dir.
func NewBuilder(dir string, log *logger.Logger) *Builder {
	if dir == "" {
		dir = "downloads"
	}
	if log == nil {
		log = logger.NewDefault("archive")
	}
	return &Builder{dir: dir, log: log, now: time.Now}
}

// Dir returns the output directory.
func (b *Builder) Dir() string { return b.dir }

// Pack writes every image under its base name into <label>_<unix-millis>.zip
// and returns the archive path. Sources are deleted only after the archive is
// complete; on failure the partial archive is removed and the sources are
// left for the caller.
func (b *Builder) Pack(ctx context.Context, images []download.RetrievedImage, label string) (path string, err error) {
	if len(images) == 0 {
		return "", apperrors.ArchiveFailed(fmt.Errorf("no images to archive"))
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", apperrors.ArchiveFailed(fmt.Errorf("create archive dir: %w", err))
	}

	out, name, err := b.create(download.SafeName(label))
	if err != nil {
		return "", apperrors.ArchiveFailed(fmt.Errorf("create archive: %w", err))
	}
	archivePath := filepath.Join(b.dir, name)
	defer func() {
		if err != nil {
			out.Close()
			if rmErr := os.Remove(archivePath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				b.log.WithError(rmErr).WithField("path", archivePath).Warn("remove partial archive failed")
			}
			path = ""
		}
	}()

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := addFile(zw, img.Path); err != nil {
			return "", apperrors.ArchiveFailed(err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", apperrors.ArchiveFailed(fmt.Errorf("finalize archive: %w", err))
	}
	if err := out.Close(); err != nil {
		return "", apperrors.ArchiveFailed(fmt.Errorf("close archive: %w", err))
	}

	for _, img := range images {
		if rmErr := os.Remove(img.Path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			b.log.WithError(rmErr).WithField("path", img.Path).Warn("remove archived source failed")
		}
	}

	b.log.WithField("archive", name).WithField("files", len(images)).Info("archive built")
	return archivePath, nil
}

// create opens a fresh archive file. Requests for the same label within one
// millisecond get a numeric suffix.
func (b *Builder) create(stem string) (*os.File, string, error) {
	base := fmt.Sprintf("%s_%d", stem, b.now().UnixMilli())
	name := base + ".zip"
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(b.dir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err == nil {
			return f, name, nil
		}
		if !errors.Is(err, os.ErrExist) || i > 100 {
			return nil, "", err
		}
		name = fmt.Sprintf("%s_%d.zip", base, i)
	}
}

func addFile(zw *zip.Writer, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", filepath.Base(src), err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header %s: %w", filepath.Base(src), err)
	}
	header.Name = filepath.Base(src)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", header.Name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("write %s: %w", header.Name, err)
	}
	return nil
}
