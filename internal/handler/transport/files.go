package transport

import (
	"errors"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/webitel/action-gateway/internal/domain/model"
)

const indexFile = "index.html"

// File is a resolved static file under the public directory.
type File struct {
	Path        string
	ContentType string
	Size        int64
	ModTime     time.Time
}

func (f *File) Open() (*os.File, error) { return os.Open(f.Path) }

// ProcessFile resolves requested under the public directory. Paths escaping it,
// missing files and unreadable entries all report file_not_found.
func (c *Core) ProcessFile(conn *model.Connection, requested string) (*File, error) {
	notFound := &model.ActionError{Kind: model.KindFileNotFound, ConnectionType: conn.Type}

	if c.publicDir == "" || strings.Contains(requested, "\x00") {
		return nil, notFound
	}

	root, err := filepath.Abs(c.publicDir)
	if err != nil {
		return nil, notFound
	}

	// [TRAVERSAL_GUARD] Clean against a virtual root first, then verify the join stays inside.
	clean := path.Clean("/" + strings.ReplaceAll(requested, "\\", "/"))
	full := filepath.Join(root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, notFound
	}

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, indexFile)
		info, err = os.Stat(full)
	}
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("FILE_STAT_FAILED", "path", requested, "err", err)
		}
		return nil, notFound
	}
	if !info.Mode().IsRegular() {
		return nil, notFound
	}

	ctype := mime.TypeByExtension(filepath.Ext(full))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	return &File{
		Path:        full,
		ContentType: ctype,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
	}, nil
}
