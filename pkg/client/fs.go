package client

import (
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"

	"github.com/mycofs/mycofs/pkg/fspath"
	"github.com/mycofs/mycofs/pkg/proto"
)

// The kernel-adapter operations. Each builds a request with the fields its
// opcode requires, runs one exchange, and translates the response. Errors
// come back as negated local errnos; 0 (or a byte count) means success.

// Getattr consults the attribute cache first; only a miss goes on the wire.
func (e *Engine) Getattr(path string, st *fuse.Stat_t, fh uint64) int {
	if e.cache.CopyStat(path, st) {
		return 0
	}

	req := proto.NewRequest(proto.OpGetattr)
	req.Path = &path
	resp, rc := e.roundTrip(req)
	if rc != 0 {
		return rc
	}
	if resp.Attrs == nil {
		return neg(unix.EIO)
	}
	e.applyAttrs(st, resp.Attrs)
	e.cache.Set(path, st)
	return 0
}

// Readdir lists a directory. The server sends full attrs per entry, so the
// listing both fills the kernel's buffer and seeds the attribute cache in
// one round-trip.
func (e *Engine) Readdir(path string,
	fill func(name string, st *fuse.Stat_t, ofst int64) bool,
	ofst int64, fh uint64) int {

	req := proto.NewRequest(proto.OpReaddir)
	req.Path = &path
	resp, rc := e.roundTrip(req)
	if rc != 0 {
		return rc
	}

	for _, entry := range resp.Entries {
		if entry.Name == "" {
			continue
		}
		var st fuse.Stat_t
		e.applyAttrs(&st, entry)
		if entry.Name != "." && entry.Name != ".." {
			e.cache.Set(fspath.Join(path, entry.Name), &st)
		}
		if !fill(entry.Name, &st, 0) {
			break
		}
	}
	return 0
}

func (e *Engine) Mkdir(path string, mode uint32) int {
	req := proto.NewRequest(proto.OpMkdir)
	req.Path = &path
	req.Mode = proto.PermissionsFromMode(mode)
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	return 0
}

func (e *Engine) Rmdir(path string) int {
	req := proto.NewRequest(proto.OpRmdir)
	req.Path = &path
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	return 0
}

func (e *Engine) Unlink(path string) int {
	req := proto.NewRequest(proto.OpUnlink)
	req.Path = &path
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	return 0
}

// Access carries the requested mask in the owner permission triple.
func (e *Engine) Access(path string, mask uint32) int {
	req := proto.NewRequest(proto.OpAccess)
	req.Path = &path
	req.Mode = &proto.Permissions{
		Owner: proto.PermissionSet{
			Read:    mask&uint32(unix.R_OK) != 0,
			Write:   mask&uint32(unix.W_OK) != 0,
			Execute: mask&uint32(unix.X_OK) != 0,
		},
	}
	_, rc := e.roundTrip(req)
	return rc
}

// Open validates the open server-side; file handles carry no state because
// every read and write names its path and offset explicitly.
func (e *Engine) Open(path string, flags int) (int, uint64) {
	req := proto.NewRequest(proto.OpOpen)
	req.Path = &path
	req.Flags = proto.OpenFlagsFromLocal(flags)
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc, ^uint64(0)
	}
	if req.Flags.Creat || req.Flags.Trunc {
		e.cache.Remove(path)
	}
	return 0, 0
}

func (e *Engine) Create(path string, flags int, mode uint32) (int, uint64) {
	req := proto.NewRequest(proto.OpCreate)
	req.Path = &path
	req.Mode = proto.PermissionsFromMode(mode)
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc, ^uint64(0)
	}
	e.cache.Remove(path)
	return 0, 0
}

// Read fetches one block. The response carries exactly one data block
// whose uncompressed size fits the supplied buffer, since the request
// never asks for more than the buffer holds.
func (e *Engine) Read(path string, buff []byte, ofst int64, fh uint64) int {
	req := proto.NewRequest(proto.OpRead)
	req.Path = &path
	req.Size = proto.Int64Ptr(int64(len(buff)))
	req.Offset = &ofst
	resp, rc := e.roundTrip(req)
	if rc != 0 {
		return rc
	}
	if resp.Data == nil {
		return neg(unix.EIO)
	}
	n, err := resp.Data.GetInto(buff)
	if err != nil {
		log.WithError(err).WithField("path", path).Warn("read data block rejected")
		return neg(unix.EIO)
	}
	return n
}

// Write ships one block, attempting compression above the threshold, and
// returns the byte count the server reports.
func (e *Engine) Write(path string, buff []byte, ofst int64, fh uint64) int {
	req := proto.NewRequest(proto.OpWrite)
	req.Path = &path
	req.Size = proto.Int64Ptr(int64(len(buff)))
	req.Offset = &ofst
	req.Data = &proto.DataBlock{}
	if err := req.Data.Set(buff, proto.CodecLZ4); err != nil {
		log.WithError(err).WithField("path", path).Warn("building write data block")
		return neg(unix.EIO)
	}

	resp, rc := e.roundTrip(req)
	if rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	if resp.Size == nil {
		return neg(unix.EIO)
	}
	return int(*resp.Size)
}

func (e *Engine) Truncate(path string, size int64, fh uint64) int {
	req := proto.NewRequest(proto.OpTruncate)
	req.Path = &path
	req.Offset = &size
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	return 0
}

func (e *Engine) Chmod(path string, mode uint32) int {
	req := proto.NewRequest(proto.OpChmod)
	req.Path = &path
	req.Mode = proto.PermissionsFromMode(mode)
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	return 0
}

// Chown is not supported by the protocol; answered locally without a
// round-trip.
func (e *Engine) Chown(path string, uid uint32, gid uint32) int {
	return neg(unix.ENOTSUP)
}

func (e *Engine) Utimens(path string, tmsp []fuse.Timespec) int {
	req := proto.NewRequest(proto.OpUtimens)
	req.Path = &path

	ts := &proto.TimeSet{}
	if len(tmsp) >= 2 {
		ts.Access = proto.TimeSpec{Sec: tmsp[0].Sec, USec: tmsp[0].Nsec / 1000}
		ts.Modification = proto.TimeSpec{Sec: tmsp[1].Sec, USec: tmsp[1].Nsec / 1000}
	} else {
		now := time.Now()
		stamp := proto.TimeSpec{Sec: now.Unix(), USec: int64(now.Nanosecond()) / 1000}
		ts.Access, ts.Modification = stamp, stamp
	}
	req.Times = ts

	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	return 0
}

func (e *Engine) Rename(oldpath string, newpath string) int {
	req := proto.NewRequest(proto.OpRename)
	req.Path = &oldpath
	req.PathTo = &newpath
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(oldpath)
	e.cache.Remove(newpath)
	return 0
}

func (e *Engine) Link(oldpath string, newpath string) int {
	req := proto.NewRequest(proto.OpLink)
	req.Path = &oldpath
	req.PathTo = &newpath
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(newpath)
	return 0
}

// Symlink sends the new link's path as the operation path and the target
// verbatim; the server never joins the target with its root.
func (e *Engine) Symlink(target string, newpath string) int {
	req := proto.NewRequest(proto.OpSymlink)
	req.Path = &newpath
	req.PathTo = &target
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(newpath)
	return 0
}

func (e *Engine) Readlink(path string) (int, string) {
	req := proto.NewRequest(proto.OpReadlink)
	req.Path = &path
	resp, rc := e.roundTrip(req)
	if rc != 0 {
		return rc, ""
	}
	if resp.LinkTarget == nil {
		return neg(unix.EIO), ""
	}
	return 0, *resp.LinkTarget
}

func (e *Engine) Mknod(path string, mode uint32, dev uint64) int {
	req := proto.NewRequest(proto.OpMknod)
	req.Path = &path
	t, perms := proto.ModeToPortable(mode)
	req.Type = &t
	req.Mode = perms
	if _, rc := e.roundTrip(req); rc != 0 {
		return rc
	}
	e.cache.Remove(path)
	return 0
}

func (e *Engine) Statfs(path string, st *fuse.Statfs_t) int {
	req := proto.NewRequest(proto.OpStatfs)
	req.Path = &path
	resp, rc := e.roundTrip(req)
	if rc != 0 {
		return rc
	}
	if resp.StatFs == nil {
		return neg(unix.EIO)
	}
	*st = fuse.Statfs_t{
		Bsize:   resp.StatFs.Bsize,
		Frsize:  resp.StatFs.Frsize,
		Blocks:  resp.StatFs.Blocks,
		Bfree:   resp.StatFs.Bfree,
		Bavail:  resp.StatFs.Bavail,
		Files:   resp.StatFs.Files,
		Ffree:   resp.StatFs.Ffree,
		Namemax: resp.StatFs.Namemax,
	}
	return 0
}
