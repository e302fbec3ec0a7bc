package proto

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// The errno table is searched first-match in both directions, so the
// canonical pairs come first and the protocol-only values map onto their
// closest local equivalent at the end. Everything unknown is an IO error.
var errnoTable = []struct {
	portable Errno
	local    syscall.Errno
}{
	{ErrnoNone, 0},
	{ErrnoPerm, unix.EPERM},
	{ErrnoNoent, unix.ENOENT},
	{ErrnoNomem, unix.ENOMEM},
	{ErrnoAcces, unix.EACCES},
	{ErrnoBusy, unix.EBUSY},
	{ErrnoExist, unix.EEXIST},
	{ErrnoNotdir, unix.ENOTDIR},
	{ErrnoIsdir, unix.EISDIR},
	{ErrnoInval, unix.EINVAL},
	{ErrnoFbig, unix.EFBIG},
	{ErrnoNospc, unix.ENOSPC},
	{ErrnoRofs, unix.EROFS},
	{ErrnoSpipe, unix.ESPIPE},

	{ErrnoUnknown, unix.EIO},
	{ErrnoInvalidRequest, unix.EINVAL},
	{ErrnoUnserializable, unix.EIO},
}

// ErrnoFromLocal translates a local errno into its portable value.
// Unmapped errnos become ErrnoUnknown.
func ErrnoFromLocal(eno syscall.Errno) Errno {
	for _, pair := range errnoTable {
		if pair.local == eno {
			return pair.portable
		}
	}
	return ErrnoUnknown
}

// Local translates a portable errno back into a local one. Unmapped values
// become EIO.
func (e Errno) Local() syscall.Errno {
	for _, pair := range errnoTable {
		if pair.portable == e {
			return pair.local
		}
	}
	return unix.EIO
}

// FileTypeFromMode extracts the portable file type tag from a stat mode.
// Modes with an unrecognised type block fall back to a regular file.
func FileTypeFromMode(mode uint32) FileType {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return FileTypeDirectory
	case unix.S_IFCHR:
		return FileTypeCharDevice
	case unix.S_IFBLK:
		return FileTypeBlockDevice
	case unix.S_IFIFO:
		return FileTypeFifo
	case unix.S_IFLNK:
		return FileTypeSymlink
	case unix.S_IFSOCK:
		return FileTypeSocket
	default:
		return FileTypeRegular
	}
}

// LocalMode returns the S_IF* type bits for the portable file type.
// Unknown incoming values map to a regular file.
func (t FileType) LocalMode() uint32 {
	switch t {
	case FileTypeDirectory:
		return unix.S_IFDIR
	case FileTypeCharDevice:
		return unix.S_IFCHR
	case FileTypeBlockDevice:
		return unix.S_IFBLK
	case FileTypeFifo:
		return unix.S_IFIFO
	case FileTypeSymlink:
		return unix.S_IFLNK
	case FileTypeSocket:
		return unix.S_IFSOCK
	default:
		return unix.S_IFREG
	}
}

// PermissionsFromMode decomposes the nine permission bits of a stat mode.
func PermissionsFromMode(mode uint32) *Permissions {
	return &Permissions{
		Owner: PermissionSet{
			Read:    mode&unix.S_IRUSR != 0,
			Write:   mode&unix.S_IWUSR != 0,
			Execute: mode&unix.S_IXUSR != 0,
		},
		Group: PermissionSet{
			Read:    mode&unix.S_IRGRP != 0,
			Write:   mode&unix.S_IWGRP != 0,
			Execute: mode&unix.S_IXGRP != 0,
		},
		World: PermissionSet{
			Read:    mode&unix.S_IROTH != 0,
			Write:   mode&unix.S_IWOTH != 0,
			Execute: mode&unix.S_IXOTH != 0,
		},
	}
}

// Mode composes the nine permission bits back into a mode mask.
func (p *Permissions) Mode() uint32 {
	var mode uint32
	if p.Owner.Read {
		mode |= unix.S_IRUSR
	}
	if p.Owner.Write {
		mode |= unix.S_IWUSR
	}
	if p.Owner.Execute {
		mode |= unix.S_IXUSR
	}
	if p.Group.Read {
		mode |= unix.S_IRGRP
	}
	if p.Group.Write {
		mode |= unix.S_IWGRP
	}
	if p.Group.Execute {
		mode |= unix.S_IXGRP
	}
	if p.World.Read {
		mode |= unix.S_IROTH
	}
	if p.World.Write {
		mode |= unix.S_IWOTH
	}
	if p.World.Execute {
		mode |= unix.S_IXOTH
	}
	return mode
}

// String renders the permissions rwxrwxrwx style.
func (p *Permissions) String() string {
	out := make([]byte, 0, 9)
	for _, set := range []PermissionSet{p.Owner, p.Group, p.World} {
		for i, on := range []bool{set.Read, set.Write, set.Execute} {
			if on {
				out = append(out, "rwx"[i])
			} else {
				out = append(out, '-')
			}
		}
	}
	return string(out)
}

// ModeToPortable splits a full stat mode into its portable parts.
func ModeToPortable(mode uint32) (FileType, *Permissions) {
	return FileTypeFromMode(mode), PermissionsFromMode(mode)
}

// ModeFromPortable recombines portable type and permissions into a local
// mode mask. perms may be nil when only the type bits are wanted.
func ModeFromPortable(t FileType, perms *Permissions) uint32 {
	mode := t.LocalMode()
	if perms != nil {
		mode |= perms.Mode()
	}
	return mode
}

// OpenFlagsFromLocal decomposes an open(2) bitmask into the portable record.
// The access mode is decoded through O_ACCMODE since O_RDONLY is zero.
func OpenFlagsFromLocal(flags int) *OpenFlags {
	of := &OpenFlags{
		Creat:  flags&unix.O_CREAT != 0,
		Excl:   flags&unix.O_EXCL != 0,
		Trunc:  flags&unix.O_TRUNC != 0,
		Append: flags&unix.O_APPEND != 0,
	}
	switch flags & unix.O_ACCMODE {
	case unix.O_WRONLY:
		of.WrOnly = true
	case unix.O_RDWR:
		of.RdWr = true
	default:
		of.RdOnly = true
	}
	return of
}

// Local composes the portable open flags back into an open(2) bitmask.
func (of *OpenFlags) Local() int {
	flags := unix.O_RDONLY
	if of.WrOnly {
		flags = unix.O_WRONLY
	}
	if of.RdWr {
		flags = unix.O_RDWR
	}
	if of.Creat {
		flags |= unix.O_CREAT
	}
	if of.Excl {
		flags |= unix.O_EXCL
	}
	if of.Trunc {
		flags |= unix.O_TRUNC
	}
	if of.Append {
		flags |= unix.O_APPEND
	}
	return flags
}
