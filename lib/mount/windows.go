// SPDX-License-Identifier: GPL-2.0-or-later

//go:build windows

package mount

import (
	"context"
	"time"

	"github.com/keybase/kbfs/dokan"
	"github.com/keybase/kbfs/dokan/winacl"

	"github.com/steamrec/tev/lib/vfs"
)

// NTSTATUS values surfaced to the Dokan driver. The write-protect cases
// all report STATUS_MEDIA_WRITE_PROTECTED, matching a physically
// read-only volume.
var (
	errMediaWriteProtected = dokan.NtError(0xC00000A2) // STATUS_MEDIA_WRITE_PROTECTED
	errInvalidParameter    = dokan.NtError(0xC000000D) // STATUS_INVALID_PARAMETER
	errNoEntry             = dokan.NtError(0xC0000034) // STATUS_OBJECT_NAME_NOT_FOUND
	errNotADirectory       = dokan.NtError(0xC0000103) // STATUS_NOT_A_DIRECTORY
	errFileIsADirectory    = dokan.NtError(0xC00000BA) // STATUS_FILE_IS_A_DIRECTORY
	errIO                  = dokan.NtError(0xC0000185) // STATUS_IO_DEVICE_ERROR
)

// windowsFs implements dokan.FileSystem over a prepared BackupFs. There
// is no handle table to maintain: a successful CreateFile's returned
// dokan.File itself carries the resolved inode.
type windowsFs struct {
	fs *BackupFs
}

type fileHandle struct {
	owner *windowsFs
	inode uint64
}

// MountWindows mounts fs read-only at mountpoint using Dokan, and blocks
// until ctx is cancelled and the unmount completes, or the OS-level mount
// fails. Write protection is enforced in CreateFile and the File
// mutators rather than by a driver flag.
func MountWindows(ctx context.Context, fs *BackupFs, mountpoint string) error {
	mountHandle, err := dokan.Mount(&dokan.Config{
		FileSystem: &windowsFs{fs: fs},
		Path:       mountpoint,
	})
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- mountHandle.BlockTillDone() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = mountHandle.Close()
		<-done
		return ctx.Err()
	}
}

func (w *windowsFs) WithContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return ctx, nil
}

// lookupPath walks path's components one directory at a time via the
// assembled tree's directory map, resolving a full Dokan path to an
// inode; each level scans that directory's children by name.
func (w *windowsFs) lookupPath(comps []string) (uint64, bool) {
	cur := uint64(RootInode)
	for _, c := range comps {
		next, ok := w.fs.Tree.Lookup(cur, c)
		if !ok {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

func splitDokanPath(name string) []string {
	var out []string
	cur := ""
	for _, r := range name {
		switch r {
		case '\\', '/':
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
		default:
			cur += string(r)
		}
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func (w *windowsFs) nodeFor(inode uint64) (node *vfs.Node, isDir bool) {
	if inode == RootInode {
		return nil, true
	}
	n, _ := w.fs.Tree.Node(inode)
	return n, nodeIsDir(n)
}

func (w *windowsFs) CreateFile(
	ctx context.Context,
	fi *dokan.FileInfo,
	data *dokan.CreateData,
) (dokan.File, dokan.CreateStatus, error) {
	if data.DesiredAccess&(dokan.GenericWrite|dokan.FileWriteData|dokan.FileWriteAttributes|dokan.FileWriteEA|dokan.FileAppendData) != 0 {
		return nil, 0, errMediaWriteProtected
	}
	if data.CreateDisposition != dokan.FileOpen {
		return nil, 0, errInvalidParameter
	}

	comps := splitDokanPath(fi.Path())
	inode, ok := w.lookupPath(comps)
	if !ok {
		return nil, 0, errNoEntry
	}

	_, isDir := w.nodeFor(inode)
	if data.CreateOptions&dokan.FileDirectoryFile != 0 && !isDir {
		return nil, 0, errNotADirectory
	}
	if data.CreateOptions&dokan.FileNonDirectoryFile != 0 && isDir {
		return nil, 0, errFileIsADirectory
	}

	h := &fileHandle{owner: w, inode: inode}
	if isDir {
		return h, dokan.ExistingDir, nil
	}
	return h, dokan.ExistingFile, nil
}

func (w *windowsFs) GetDiskFreeSpace(ctx context.Context) (dokan.FreeSpace, error) {
	return dokan.FreeSpace{}, nil
}

func (w *windowsFs) GetVolumeInformation(ctx context.Context) (dokan.VolumeInformation, error) {
	return dokan.VolumeInformation{
		VolumeName:             w.fs.SKU.Name,
		MaximumComponentLength: 255,
		FileSystemName:         "NTFS",
	}, nil
}

func (w *windowsFs) MoveFile(ctx context.Context, src dokan.File, sourceFI *dokan.FileInfo, targetPath string, replaceExisting bool) error {
	return errMediaWriteProtected
}

func (w *windowsFs) ErrorPrint(err error) {}

func (w *windowsFs) Printf(format string, v ...interface{}) {}

func (h *fileHandle) ReadFile(ctx context.Context, fi *dokan.FileInfo, bs []byte, offset int64) (int, error) {
	n, kind := readData(h.owner.fs, h.inode, uint64(offset), bs)
	switch kind {
	case readOK:
		return n, nil
	case readInvalid:
		return 0, errInvalidParameter
	default:
		return 0, errIO
	}
}

func (h *fileHandle) WriteFile(ctx context.Context, fi *dokan.FileInfo, bs []byte, offset int64) (int, error) {
	return 0, errMediaWriteProtected
}

func (h *fileHandle) FlushFileBuffers(ctx context.Context, fi *dokan.FileInfo) error { return nil }

func (h *fileHandle) stat(node *vfs.Node, inode uint64, isDir bool) dokan.Stat {
	crtime := time.Unix(int64(nodeCreationTime(node)), 0)
	st := dokan.Stat{
		Creation:      crtime,
		LastAccess:    crtime,
		LastWrite:     crtime,
		FileSize:      int64(nodeSize(node)),
		NumberOfLinks: 1,
		FileIndex:     inode,
	}
	if isDir {
		st.FileAttributes = dokan.FileAttributeDirectory
	} else {
		st.FileAttributes = dokan.FileAttributeReadonly
	}
	return st
}

func (h *fileHandle) GetFileInformation(ctx context.Context, fi *dokan.FileInfo) (*dokan.Stat, error) {
	node, isDir := h.owner.nodeFor(h.inode)
	st := h.stat(node, h.inode, isDir)
	return &st, nil
}

func (h *fileHandle) FindFiles(ctx context.Context, fi *dokan.FileInfo, pattern string, callback func(*dokan.NamedStat) error) error {
	for _, child := range h.owner.fs.Tree.Children(h.inode) {
		node, ok := h.owner.fs.Tree.Node(child)
		if !ok {
			continue
		}
		ns := &dokan.NamedStat{
			Name: node.Name(),
			Stat: h.stat(node, child, node.IsDir()),
		}
		if err := callback(ns); err != nil {
			return err
		}
	}
	return nil
}

func (h *fileHandle) SetFileTime(context.Context, *dokan.FileInfo, time.Time, time.Time, time.Time) error {
	return errMediaWriteProtected
}

func (h *fileHandle) SetFileAttributes(context.Context, *dokan.FileInfo, dokan.FileAttribute) error {
	return errMediaWriteProtected
}

func (h *fileHandle) SetEndOfFile(context.Context, *dokan.FileInfo, int64) error {
	return errMediaWriteProtected
}

func (h *fileHandle) SetAllocationSize(context.Context, *dokan.FileInfo, int64) error {
	return errMediaWriteProtected
}

func (h *fileHandle) LockFile(context.Context, *dokan.FileInfo, int64, int64) error { return nil }

func (h *fileHandle) UnlockFile(context.Context, *dokan.FileInfo, int64, int64) error { return nil }

func (h *fileHandle) GetFileSecurity(context.Context, *dokan.FileInfo, winacl.SecurityInformation, *winacl.SecurityDescriptor) error {
	return nil
}

func (h *fileHandle) SetFileSecurity(context.Context, *dokan.FileInfo, winacl.SecurityInformation, *winacl.SecurityDescriptor) error {
	return errMediaWriteProtected
}

func (h *fileHandle) CanDeleteFile(context.Context, *dokan.FileInfo) error {
	return errMediaWriteProtected
}

func (h *fileHandle) CanDeleteDirectory(context.Context, *dokan.FileInfo) error {
	return errMediaWriteProtected
}

func (h *fileHandle) Cleanup(context.Context, *dokan.FileInfo) {}

func (h *fileHandle) CloseFile(context.Context, *dokan.FileInfo) {}
