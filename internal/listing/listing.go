// Package listing enumerates directories on behalf of remote clients and maps
// filesystem failures to protocol status codes.
package listing

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"github.com/Zycon42/list-dir/internal/protocol"
)

const readBatch = 256

// DirectoryContents lists the regular files, directories and symbolic links
// directly inside path. Other entry kinds are omitted, symbolic links are not
// followed, and the order is whatever the filesystem yields.
//
// Every failure is reported as a status; entries are nil unless the status
// is StatusOK.
func DirectoryContents(path string) (protocol.Status, []string) {
	if path == "" {
		return protocol.StatusBadRequest, nil
	}
	if !strings.HasPrefix(path, "/") {
		return protocol.StatusNotAbsolute, nil
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	dir, err := os.Open(path)
	if err != nil {
		return StatusFromError(err), nil
	}
	defer dir.Close()

	entries := []string{}
	for {
		batch, err := dir.ReadDir(readBatch)
		for _, e := range batch {
			if keep(e.Type()) {
				entries = append(entries, e.Name())
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return StatusFromError(err), nil
		}
	}
	return protocol.StatusOK, entries
}

// keep reports whether an entry of type t is listed. ReadDir never returns
// "." or "..".
func keep(t fs.FileMode) bool {
	return t.IsRegular() || t.IsDir() || t&fs.ModeSymlink != 0
}

// StatusFromError maps a filesystem error to a status code.
func StatusFromError(err error) protocol.Status {
	switch {
	case err == nil:
		return protocol.StatusOK
	case errors.Is(err, syscall.EACCES):
		return protocol.StatusAccessDenied
	case errors.Is(err, syscall.ENOTDIR):
		return protocol.StatusNotDir
	case errors.Is(err, fs.ErrNotExist):
		return protocol.StatusNoEnt
	default:
		return protocol.StatusInternal
	}
}
