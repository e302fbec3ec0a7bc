package server

import (
	"os"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/mycofs/mycofs/pkg/fspath"
	"github.com/mycofs/mycofs/pkg/proto"
)

// defaultCreatePerm is used when a file is created without an explicit
// permission mask (OPEN with O_CREAT, WRITE on a missing file). Same set
// the coreutils touch command uses; the process umask clips it.
const defaultCreatePerm = unix.S_IRUSR | unix.S_IWUSR |
	unix.S_IRGRP | unix.S_IWGRP |
	unix.S_IROTH | unix.S_IWOTH

var (
	identityOnce sync.Once
	procUID      uint32
	procGroups   map[uint32]bool
)

// identity caches the serving process's uid and group set, consulted when
// building the is_owner / is_in_group attribute bits.
func identity() (uint32, map[uint32]bool) {
	identityOnce.Do(func() {
		procUID = uint32(os.Getuid())
		procGroups = map[uint32]bool{uint32(os.Getgid()): true}
		if gids, err := unix.Getgroups(); err == nil {
			for _, gid := range gids {
				procGroups[uint32(gid)] = true
			}
		} else {
			log.WithError(err).Warn("could not fetch group list")
		}
	})
	return procUID, procGroups
}

// localErrno digs the syscall errno out of an error, falling back to EIO
// for anything that carries none.
func localErrno(err error) syscall.Errno {
	switch e := err.(type) {
	case syscall.Errno:
		return e
	case *os.PathError:
		return localErrno(e.Err)
	case *os.LinkError:
		return localErrno(e.Err)
	case *os.SyscallError:
		return localErrno(e.Err)
	default:
		return unix.EIO
	}
}

// fail records err as the response's portable errno.
func fail(resp *proto.Response, err error) {
	resp.Errno = proto.ErrnoFromLocal(localErrno(err))
}

func attrsFromStat(st *unix.Stat_t, name string) *proto.Attrs {
	uid, groups := identity()
	_, perms := proto.ModeToPortable(uint32(st.Mode))
	return &proto.Attrs{
		Size: st.Size,
		Type: proto.FileTypeFromMode(uint32(st.Mode)),
		Mode: *perms,
		Times: proto.TimeSet{
			Access:       proto.TimeSpec{Sec: st.Atim.Sec, USec: st.Atim.Nsec / 1000},
			Modification: proto.TimeSpec{Sec: st.Mtim.Sec, USec: st.Mtim.Nsec / 1000},
		},
		IsOwner:   st.Uid == uid,
		IsInGroup: groups[st.Gid],
		Name:      name,
	}
}

// fullpath joins the request path with the served root.
func (w *Worker) fullpath(req *proto.Request) string {
	return fspath.JoinReal(w.root, *req.Path)
}

// ---- per-opcode handlers -----------------------------------------------
//
// Each handler performs one system call (or a small bounded group for
// read/write) against the resolved path and fills the response. Failures
// are recorded as portable errnos; the worker loop always sends a
// well-formed response back.

func (w *Worker) opPing(req *proto.Request, resp *proto.Response) {
}

func (w *Worker) opGetattr(req *proto.Request, resp *proto.Response) {
	path := w.fullpath(req)
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		fail(resp, err)
		return
	}
	resp.Attrs = attrsFromStat(&st, "")
}

func (w *Worker) opReaddir(req *proto.Request, resp *proto.Response) {
	dirpath := w.fullpath(req)

	dir, err := os.Open(dirpath)
	if err != nil {
		fail(resp, err)
		return
	}
	names, err := dir.Readdirnames(-1)
	dir.Close()
	if err != nil {
		fail(resp, err)
		return
	}

	// the kernel listing wants the dot entries the readdir above omits
	names = append([]string{".", ".."}, names...)

	resp.Entries = make([]*proto.Attrs, 0, len(names))
	for _, name := range names {
		var st unix.Stat_t
		if err := unix.Lstat(fspath.Join(dirpath, name), &st); err != nil {
			log.WithFields(log.Fields{"dir": dirpath, "entry": name}).
				Debug("skipping unstattable directory entry")
			continue
		}
		resp.Entries = append(resp.Entries, attrsFromStat(&st, name))
	}
}

func (w *Worker) opMkdir(req *proto.Request, resp *proto.Response) {
	if err := unix.Mkdir(w.fullpath(req), req.Mode.Mode()); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opRmdir(req *proto.Request, resp *proto.Response) {
	if err := unix.Rmdir(w.fullpath(req)); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opUnlink(req *proto.Request, resp *proto.Response) {
	if err := unix.Unlink(w.fullpath(req)); err != nil {
		fail(resp, err)
	}
}

// opAccess reads the requested mask out of the owner permission triple.
func (w *Worker) opAccess(req *proto.Request, resp *proto.Response) {
	var mask uint32
	if req.Mode.Owner.Read {
		mask |= unix.R_OK
	}
	if req.Mode.Owner.Write {
		mask |= unix.W_OK
	}
	if req.Mode.Owner.Execute {
		mask |= unix.X_OK
	}
	if err := unix.Access(w.fullpath(req), mask); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opOpen(req *proto.Request, resp *proto.Response) {
	fd, err := unix.Open(w.fullpath(req), req.Flags.Local(), defaultCreatePerm)
	if err != nil {
		fail(resp, err)
		return
	}
	unix.Close(fd)
}

// opCreate adds owner-write to the requested mask: the file is reopened for
// every subsequent write, which would fail on a file created write-less.
func (w *Worker) opCreate(req *proto.Request, resp *proto.Response) {
	mode := req.Mode.Mode() | unix.S_IWUSR
	fd, err := unix.Open(w.fullpath(req), unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode)
	if err != nil {
		fail(resp, err)
		return
	}
	unix.Close(fd)
}

func (w *Worker) opRead(req *proto.Request, resp *proto.Response) {
	path := w.fullpath(req)
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		fail(resp, err)
		return
	}
	defer unix.Close(fd)

	buf := w.bufs.Get(int(*req.Size))
	defer w.bufs.Put(buf)

	var n int
	if *req.Offset == 0 {
		// plain read keeps non-seekable files readable
		n, err = unix.Read(fd, buf)
	} else {
		n, err = unix.Pread(fd, buf, *req.Offset)
	}
	if err != nil {
		fail(resp, err)
		return
	}

	resp.Data = &proto.DataBlock{}
	if err = resp.Data.Set(buf[:n], proto.CodecLZ4); err != nil {
		log.WithError(err).WithField("path", path).Error("building read data block")
		resp.Data = nil
		resp.Errno = proto.ErrnoUnknown
		return
	}
	resp.Size = proto.Int64Ptr(int64(n))
}

func (w *Worker) opWrite(req *proto.Request, resp *proto.Response) {
	if int64(req.Data.UncompressedSize) != *req.Size {
		log.WithFields(log.Fields{
			"datablock": req.Data.UncompressedSize,
			"request":   *req.Size,
		}).Warn("write size does not match data block")
		resp.Errno = proto.ErrnoInvalidRequest
		return
	}

	data, err := req.Data.Get()
	if err != nil {
		log.WithError(err).Warn("rejecting undecodable write data block")
		resp.Errno = proto.ErrnoUnknown
		return
	}

	path := w.fullpath(req)
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_WRONLY, defaultCreatePerm)
	if err != nil {
		fail(resp, err)
		return
	}
	defer unix.Close(fd)

	n, err := unix.Pwrite(fd, data, *req.Offset)
	if err != nil {
		fail(resp, err)
		return
	}
	resp.Size = proto.Int64Ptr(int64(n))
}

func (w *Worker) opTruncate(req *proto.Request, resp *proto.Response) {
	if err := unix.Truncate(w.fullpath(req), *req.Offset); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opChmod(req *proto.Request, resp *proto.Response) {
	if err := unix.Chmod(w.fullpath(req), req.Mode.Mode()); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opUtimens(req *proto.Request, resp *proto.Response) {
	ts := []unix.Timespec{
		{Sec: req.Times.Access.Sec, Nsec: req.Times.Access.USec * 1000},
		{Sec: req.Times.Modification.Sec, Nsec: req.Times.Modification.USec * 1000},
	}
	err := unix.UtimesNanoAt(unix.AT_FDCWD, w.fullpath(req), ts, unix.AT_SYMLINK_NOFOLLOW)
	if err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opRename(req *proto.Request, resp *proto.Response) {
	from := w.fullpath(req)
	to := fspath.JoinReal(w.root, *req.PathTo)
	if err := unix.Rename(from, to); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opLink(req *proto.Request, resp *proto.Response) {
	from := w.fullpath(req)
	to := fspath.JoinReal(w.root, *req.PathTo)
	if err := unix.Link(from, to); err != nil {
		fail(resp, err)
	}
}

// opSymlink: the link target travels verbatim and is never joined with the
// root; only the link's own path is.
func (w *Worker) opSymlink(req *proto.Request, resp *proto.Response) {
	if err := unix.Symlink(*req.PathTo, w.fullpath(req)); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opReadlink(req *proto.Request, resp *proto.Response) {
	target, err := os.Readlink(w.fullpath(req))
	if err != nil {
		fail(resp, err)
		return
	}
	resp.LinkTarget = &target
}

// opMknod is restricted to regular files; devices and fifos cannot be
// minted through the mount.
func (w *Worker) opMknod(req *proto.Request, resp *proto.Response) {
	if *req.Type != proto.FileTypeRegular {
		resp.Errno = proto.ErrnoPerm
		return
	}
	mode := unix.S_IFREG | req.Mode.Mode()
	if err := unix.Mknod(w.fullpath(req), mode, 0); err != nil {
		fail(resp, err)
	}
}

func (w *Worker) opStatfs(req *proto.Request, resp *proto.Response) {
	var st unix.Statfs_t
	if err := unix.Statfs(w.fullpath(req), &st); err != nil {
		fail(resp, err)
		return
	}
	resp.StatFs = &proto.StatFs{
		Bsize:   uint64(st.Bsize),
		Frsize:  uint64(st.Frsize),
		Blocks:  st.Blocks,
		Bfree:   st.Bfree,
		Bavail:  st.Bavail,
		Files:   st.Files,
		Ffree:   st.Ffree,
		Namemax: uint64(st.Namelen),
	}
}
