// SPDX-License-Identifier: GPL-2.0-or-later

//go:build !windows

package mount

import (
	"context"
	"sync/atomic"
	"syscall"
	"time"

	"git.lukeshu.com/go/typedsync"
	"github.com/datawire/dlib/dcontext"
	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/steamrec/tev/lib/vfs"
)

const ttl = AttrTTLSeconds * time.Second

// posixFs implements fuseutil.FileSystem over a prepared BackupFs. Every
// operation is read-only; the handle tables are the only mutable state.
type posixFs struct {
	fuseutil.NotImplementedFileSystem

	fs *BackupFs

	nextHandle  uint64
	fileHandles typedsync.Map[fuseops.HandleID, fuseops.InodeID]
	dirHandles  typedsync.Map[fuseops.HandleID, fuseops.InodeID]
}

// MountPOSIX mounts fs read-only at mountpoint using FUSE, and blocks
// until ctx is cancelled and the unmount completes.
func MountPOSIX(ctx context.Context, fs *BackupFs, mountpoint string) error {
	server := &posixFs{fs: fs}
	cfg := &fuse.MountConfig{
		FSName:   fs.SKU.Name,
		ReadOnly: true,
		Options: map[string]string{
			"auto_unmount": "",
		},
	}

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		ShutdownOnNonError: true,
	})
	mounted := uint32(1)
	grp.Go("unmount", func(ctx context.Context) error {
		<-ctx.Done()
		var err error
		var gotNil bool
		for atomic.LoadUint32(&mounted) != 0 {
			if _err := fuse.Unmount(mountpoint); _err == nil {
				gotNil = true
			} else if !gotNil {
				err = _err
			}
		}
		if gotNil {
			return nil
		}
		return err
	})
	grp.Go("mount", func(ctx context.Context) error {
		defer atomic.StoreUint32(&mounted, 0)

		cfg.OpContext = ctx
		cfg.ErrorLogger = dlog.StdLogger(ctx, dlog.LogLevelError)
		cfg.DebugLogger = dlog.StdLogger(ctx, dlog.LogLevelDebug)

		mountHandle, err := fuse.Mount(mountpoint, fuseutil.NewFileSystemServer(server), cfg)
		if err != nil {
			return err
		}
		dlog.Infof(ctx, "mounted %q at %q", fs.SKU.Name, mountpoint)
		return mountHandle.Join(dcontext.HardContext(ctx))
	})
	return grp.Wait()
}

func (s *posixFs) attrFor(ino fuseops.InodeID) fuseops.InodeAttributes {
	if ino == fuseops.RootInodeID {
		return fuseops.InodeAttributes{
			Mode:  Mode | 0o040000, // directory
			Nlink: 1,
			Uid:   UID,
			Gid:   GID,
		}
	}
	node, _ := s.fs.Tree.Node(uint64(ino))
	return nodeAttr(node, ino)
}

func nodeAttr(node *vfs.Node, ino fuseops.InodeID) fuseops.InodeAttributes {
	crtime := time.Unix(int64(nodeCreationTime(node)), 0)
	mode := uint32(Mode)
	if nodeIsDir(node) {
		mode |= 0o040000
	}
	return fuseops.InodeAttributes{
		Size:   nodeSize(node),
		Nlink:  1,
		Mode:   mode,
		Atime:  crtime,
		Mtime:  crtime,
		Ctime:  crtime,
		Crtime: crtime,
		Uid:    UID,
		Gid:    GID,
	}
}

func (s *posixFs) newHandle() fuseops.HandleID {
	return fuseops.HandleID(atomic.AddUint64(&s.nextHandle, 1))
}

func (s *posixFs) LookUpInode(_ context.Context, op *fuseops.LookUpInodeOp) error {
	child, ok := s.fs.Tree.Lookup(uint64(op.Parent), op.Name)
	if !ok {
		return syscall.ENOENT
	}
	op.Entry = fuseops.ChildInodeEntry{
		Child:                fuseops.InodeID(child),
		Attributes:           s.attrFor(fuseops.InodeID(child)),
		AttributesExpiration: time.Now().Add(ttl),
		EntryExpiration:      time.Now().Add(ttl),
	}
	return nil
}

// GetInodeAttributes trusts the inode without a handle check:
// fuseops.GetInodeAttributesOp carries no handle to verify in this
// binding. ReadFile and ReadDir still enforce the handle/inode match; the
// release ops, which carry only a handle, reject unknown handles.
func (s *posixFs) GetInodeAttributes(_ context.Context, op *fuseops.GetInodeAttributesOp) error {
	op.Attributes = s.attrFor(op.Inode)
	op.AttributesExpiration = time.Now().Add(ttl)
	return nil
}

func (s *posixFs) OpenFile(_ context.Context, op *fuseops.OpenFileOp) error {
	if _, ok := s.fs.Tree.Node(uint64(op.Inode)); !ok && op.Inode != fuseops.RootInodeID {
		return syscall.ENOENT
	}
	h := s.newHandle()
	s.fileHandles.Store(h, op.Inode)
	op.Handle = h
	op.KeepPageCache = true
	return nil
}

func (s *posixFs) ReadFile(_ context.Context, op *fuseops.ReadFileOp) error {
	if expected, ok := s.fileHandles.Load(op.Handle); !ok || expected != op.Inode {
		return syscall.EBADF
	}

	buf := op.Dst
	if buf != nil {
		if int64(len(buf)) > op.Size {
			buf = buf[:op.Size]
		}
	} else {
		buf = make([]byte, op.Size)
	}

	n, kind := readData(s.fs, uint64(op.Inode), uint64(op.Offset), buf)
	switch kind {
	case readOK:
		op.BytesRead = n
		if op.Dst == nil {
			op.Data = [][]byte{buf[:n]}
		}
		return nil
	case readInvalid:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

func (s *posixFs) ReleaseFileHandle(_ context.Context, op *fuseops.ReleaseFileHandleOp) error {
	if _, ok := s.fileHandles.LoadAndDelete(op.Handle); !ok {
		return syscall.EBADF
	}
	return nil
}

func (s *posixFs) OpenDir(_ context.Context, op *fuseops.OpenDirOp) error {
	h := s.newHandle()
	s.dirHandles.Store(h, op.Inode)
	op.Handle = h
	return nil
}

func (s *posixFs) ReadDir(_ context.Context, op *fuseops.ReadDirOp) error {
	if expected, ok := s.dirHandles.Load(op.Handle); !ok || expected != op.Inode {
		return syscall.EBADF
	}

	children := s.fs.Tree.Children(uint64(op.Inode))
	for i, child := range children {
		if i < int(op.Offset) {
			continue
		}
		node, ok := s.fs.Tree.Node(child)
		if !ok {
			continue
		}
		kind := fuseutil.DT_File
		if node.IsDir() {
			kind = fuseutil.DT_Directory
		}
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(child),
			Name:   node.Name(),
			Type:   kind,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
	return nil
}

func (s *posixFs) ReleaseDirHandle(_ context.Context, op *fuseops.ReleaseDirHandleOp) error {
	if _, ok := s.dirHandles.LoadAndDelete(op.Handle); !ok {
		return syscall.EBADF
	}
	return nil
}

func (s *posixFs) StatFS(_ context.Context, op *fuseops.StatFSOp) error {
	var blocks uint64
	for i := 0; i < s.fs.Tree.Len(); i++ {
		node, _ := s.fs.Tree.Node(uint64(i) + 2)
		blocks += nodeBlocks(node)
	}
	op.BlockSize = BlockSize
	op.Blocks = blocks
	op.Inodes = uint64(s.fs.Tree.Len()) + 1
	op.IoSize = 1024 * 1024
	return nil
}

