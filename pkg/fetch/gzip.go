package fetch

import (
	"errors"
	"io"
	"strings"

	"github.com/hack-pad/hackpadfs"
	"github.com/klauspost/compress/gzip"
)

// OpenMaybeGzip opens name, transparently decompressing ".gz" files.
func OpenMaybeGzip(fsys hackpadfs.FS, name string) (io.ReadCloser, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(name, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipFile{Reader: zr, file: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	file hackpadfs.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}
