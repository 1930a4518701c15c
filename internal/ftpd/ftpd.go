// Package ftpd adapts internal/vfs.Service to the goftp.io/server/v2
// driver.Driver interface, the Go-ecosystem equivalent of the original
// implementation's libunftp::storage::StorageBackend impl on
// IntKvFtpFs (src/ftpfs.rs). It is the thin wire-protocol edge of
// vaultfs: every method here resolves to one internal/vfs call and
// translates errors and os.FileInfo shapes at the boundary.
package ftpd

import (
	"bytes"
	"io"
	"os"
	"time"

	ftpserver "goftp.io/server/v2"

	"github.com/nainya/vaultfs/internal/logger"
	"github.com/nainya/vaultfs/internal/vaulterr"
	"github.com/nainya/vaultfs/internal/vfs"
)

// Recorder receives per-command counts and latencies. Kept narrow so
// this package doesn't need to import internal/metrics directly.
type Recorder interface {
	RecordFtpCommand(command, status string, duration time.Duration)
}

// fileInfo adapts vfs.Meta (plus a name) to os.FileInfo, the shape
// goftp.io/server/v2 wants from Stat and ListDir.
type fileInfo struct {
	name string
	meta vfs.Meta
}

func (f fileInfo) Name() string { return f.name }
func (f fileInfo) Size() int64  { return int64(f.meta.Len) }
func (f fileInfo) Mode() os.FileMode {
	if f.meta.IsDir() {
		return os.ModeDir | 0o755
	}
	return 0o644
}
func (f fileInfo) ModTime() time.Time { return f.meta.MTime }
func (f fileInfo) IsDir() bool        { return f.meta.IsDir() }
func (f fileInfo) Sys() any           { return nil }

// Driver implements goftp.io/server/v2's driver.Driver over a single
// internal/vfs.Service. Unlike many FTP driver implementations it holds
// no per-connection state: every vfs call takes a full path, so one
// Driver can be shared across every session goftp.io/server/v2 opens
// (Init is a no-op), matching the original's Arc<RwLock<...>> sharing
// of one IntKvFtpFs across every libunftp connection.
type Driver struct {
	svc *vfs.Service
	log *logger.Logger
	rec Recorder
}

// New wraps svc as a goftp.io/server/v2 driver.
func New(svc *vfs.Service, log *logger.Logger, rec Recorder) *Driver {
	return &Driver{svc: svc, log: log.StoreLogger("ftpd"), rec: rec}
}

// Factory adapts a single *Driver to goftp.io/server/v2's
// driver.DriverFactory, handing every new session the same underlying
// Driver since it carries no per-connection state.
type Factory struct {
	Driver *Driver
}

func (f *Factory) NewDriver() (ftpserver.Driver, error) {
	return f.Driver, nil
}

func (d *Driver) observe(command, path string, start time.Time, err error) error {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if d.rec != nil {
		d.rec.RecordFtpCommand(command, status, time.Since(start))
	}
	d.log.LogFtpCommand(command, path, time.Since(start), err)
	return mapErr(err)
}

// Init is called once per new client session. The driver is stateless
// across sessions, so there is nothing to set up.
func (d *Driver) Init(*ftpserver.Context) error {
	return nil
}

// Stat returns file info for path.
func (d *Driver) Stat(ctx *ftpserver.Context, path string) (os.FileInfo, error) {
	start := time.Now()
	meta, err := d.svc.Metadata(path)
	if err != nil {
		return nil, d.observe("STAT", path, start, err)
	}
	return fileInfo{name: baseName(path), meta: meta}, d.observe("STAT", path, start, nil)
}

// ChangeDir validates that path is a directory.
func (d *Driver) ChangeDir(ctx *ftpserver.Context, path string) error {
	start := time.Now()
	err := d.svc.Cwd(path)
	return d.observe("CWD", path, start, err)
}

// ListDir lists path's entries, invoking callback for each.
func (d *Driver) ListDir(ctx *ftpserver.Context, path string, callback func(os.FileInfo) error) error {
	start := time.Now()
	entries, err := d.svc.List(path)
	if err != nil {
		return d.observe("LIST", path, start, err)
	}
	for _, e := range entries {
		if err := callback(fileInfo{name: e.Name, meta: e.Meta}); err != nil {
			return d.observe("LIST", path, start, err)
		}
	}
	return d.observe("LIST", path, start, nil)
}

// DeleteDir removes the empty directory at path.
func (d *Driver) DeleteDir(ctx *ftpserver.Context, path string) error {
	start := time.Now()
	err := d.svc.Rmd(path)
	return d.observe("RMD", path, start, err)
}

// DeleteFile removes the file at path.
func (d *Driver) DeleteFile(ctx *ftpserver.Context, path string) error {
	start := time.Now()
	err := d.svc.Del(path)
	return d.observe("DELE", path, start, err)
}

// Rename moves the entry at from to to.
func (d *Driver) Rename(ctx *ftpserver.Context, from, to string) error {
	start := time.Now()
	err := d.svc.Rename(from, to)
	return d.observe("RNFR/RNTO", from+" -> "+to, start, err)
}

// MakeDir creates the directory at path.
func (d *Driver) MakeDir(ctx *ftpserver.Context, path string) error {
	start := time.Now()
	err := d.svc.Mkd(path)
	return d.observe("MKD", path, start, err)
}

// GetFile returns the number of bytes from offset to the end of the file
// and a reader over them, supporting FEATURE_RESTART-style resumed
// downloads.
func (d *Driver) GetFile(ctx *ftpserver.Context, path string, offset int64) (int64, io.ReadCloser, error) {
	start := time.Now()
	if offset < 0 {
		offset = 0
	}
	data, err := d.svc.Get(path, uint64(offset))
	if err != nil {
		return 0, nil, d.observe("RETR", path, start, err)
	}
	return int64(len(data)), io.NopCloser(bytes.NewReader(data)), d.observe("RETR", path, start, nil)
}

// PutFile writes data to path. When appendData is true, the write is
// appended at the file's current length (APPE); otherwise it replaces
// the file from offset zero (STOR).
func (d *Driver) PutFile(ctx *ftpserver.Context, path string, data io.Reader, appendData bool) (int64, error) {
	start := time.Now()
	var offset uint64
	if appendData {
		if meta, err := d.svc.Metadata(path); err == nil {
			offset = meta.Len
		}
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return 0, d.observe("STOR", path, start, vaulterr.Wrap(vaulterr.ErrIO, "read upload body: %v", err))
	}
	written, err := d.svc.Put(path, buf, offset)
	if err != nil {
		return 0, d.observe("STOR", path, start, err)
	}
	return int64(written), d.observe("STOR", path, start, nil)
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

// mapErr returns err unchanged; it does not translate the vaulterr kind
// into an FTP status code. goftp.io/server/v2 picks the reply code and
// surfaces the error string to the client.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	return err
}
