// Package proto defines the wire protocol shared by the mycofs client and
// server: the opcode and errno enumerations, the portable permission, open
// flag and timestamp records, the request/response envelopes, and the
// compressed data block payload.
//
// Every message carries a protocol version and travels as exactly one
// transport frame. All fields besides version and opcode are optional; which
// of them must be present is determined by the opcode (see Request.Validate).
package proto

// Protocol version stamped into every request and response.
const (
	VersionMajor = 0
	VersionMinor = 2
)

// Version identifies the protocol revision a message was produced with.
type Version struct {
	Major uint32
	Minor uint32
}

// CurrentVersion returns the version stamped into newly built messages.
func CurrentVersion() Version {
	return Version{Major: VersionMajor, Minor: VersionMinor}
}

// Opcode enumerates the operations the protocol knows about.
type Opcode int32

const (
	OpInvalid Opcode = iota
	OpPing
	OpReaddir
	OpGetattr
	OpMkdir
	OpRmdir
	OpUnlink
	OpAccess
	OpOpen
	OpCreate
	OpRead
	OpWrite
	OpTruncate
	OpChmod
	OpUtimens
	OpRename
	OpLink
	OpSymlink
	OpReadlink
	OpMknod
	OpStatfs
	OpUnknown
)

var opcodeNames = map[Opcode]string{
	OpInvalid:  "INVALID",
	OpPing:     "PING",
	OpReaddir:  "READDIR",
	OpGetattr:  "GETATTR",
	OpMkdir:    "MKDIR",
	OpRmdir:    "RMDIR",
	OpUnlink:   "UNLINK",
	OpAccess:   "ACCESS",
	OpOpen:     "OPEN",
	OpCreate:   "CREATE",
	OpRead:     "READ",
	OpWrite:    "WRITE",
	OpTruncate: "TRUNCATE",
	OpChmod:    "CHMOD",
	OpUtimens:  "UTIMENS",
	OpRename:   "RENAME",
	OpLink:     "LINK",
	OpSymlink:  "SYMLINK",
	OpReadlink: "READLINK",
	OpMknod:    "MKNOD",
	OpStatfs:   "STATFS",
	OpUnknown:  "UNKNOWN",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return "UNKNOWN"
}

// Errno enumerates the POSIX error subset the protocol recognises. Values
// outside this list collapse to ErrnoUnknown on either side.
type Errno int32

const (
	ErrnoNone Errno = iota
	ErrnoPerm
	ErrnoNoent
	ErrnoNomem
	ErrnoAcces
	ErrnoBusy
	ErrnoExist
	ErrnoNotdir
	ErrnoIsdir
	ErrnoInval
	ErrnoFbig
	ErrnoNospc
	ErrnoRofs
	ErrnoSpipe
	ErrnoUnknown
	ErrnoInvalidRequest
	ErrnoUnserializable
)

var errnoNames = map[Errno]string{
	ErrnoNone:           "NONE",
	ErrnoPerm:           "PERM",
	ErrnoNoent:          "NOENT",
	ErrnoNomem:          "NOMEM",
	ErrnoAcces:          "ACCES",
	ErrnoBusy:           "BUSY",
	ErrnoExist:          "EXIST",
	ErrnoNotdir:         "NOTDIR",
	ErrnoIsdir:          "ISDIR",
	ErrnoInval:          "INVAL",
	ErrnoFbig:           "FBIG",
	ErrnoNospc:          "NOSPC",
	ErrnoRofs:           "ROFS",
	ErrnoSpipe:          "SPIPE",
	ErrnoUnknown:        "UNKNOWN",
	ErrnoInvalidRequest: "INVALID_REQUEST",
	ErrnoUnserializable: "UNSERIALIZABLE",
}

func (e Errno) String() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return "UNKNOWN"
}

// FileType enumerates the portable file type tags.
type FileType int32

const (
	FileTypeDirectory FileType = iota
	FileTypeCharDevice
	FileTypeBlockDevice
	FileTypeFifo
	FileTypeSymlink
	FileTypeRegular
	FileTypeSocket
)

// PermissionSet holds one read/write/execute triple.
type PermissionSet struct {
	Read    bool
	Write   bool
	Execute bool
}

// Permissions holds the owner/group/world permission triples of a file.
type Permissions struct {
	Owner PermissionSet
	Group PermissionSet
	World PermissionSet
}

// TimeSpec is one point in time, split into seconds and microseconds.
type TimeSpec struct {
	Sec  int64
	USec int64
}

// TimeSet carries the access/modification/creation times of a file. The
// creation time is optional on the wire.
type TimeSet struct {
	Access       TimeSpec
	Modification TimeSpec
	Creation     *TimeSpec
}

// Attrs is the stat-equivalent record the server produces for a file. Name
// is populated only for directory listing entries. Instead of numeric
// uid/gid the record carries whether the serving process owns the file and
// whether it is in the file's group; the client maps those back onto its own
// identity for local permission checks.
type Attrs struct {
	Size      int64
	Type      FileType
	Mode      Permissions
	Times     TimeSet
	IsOwner   bool
	IsInGroup bool
	Name      string
}

// OpenFlags is the portable decomposition of an open(2) flag bitmask.
type OpenFlags struct {
	RdOnly bool
	WrOnly bool
	RdWr   bool
	Creat  bool
	Excl   bool
	Trunc  bool
	Append bool
}

// StatFs carries the subset of statvfs the protocol transports.
type StatFs struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Namemax uint64
}

// Request is the client-to-server message envelope. All pointer fields are
// optional; the opcode decides which ones must be present.
//
// Path is always the file the operation acts on. For RENAME and LINK,
// PathTo is the destination path, joined with the server root like Path is.
// For SYMLINK, PathTo is the verbatim link target and is never joined.
type Request struct {
	Version Version
	Op      Opcode
	Path    *string
	PathTo  *string
	Size    *int64
	Offset  *int64
	Mode    *Permissions
	Flags   *OpenFlags
	Times   *TimeSet
	Type    *FileType
	Data    *DataBlock
}

// NewRequest returns a request for op with the current version stamped in
// and all optional fields absent.
func NewRequest(op Opcode) *Request {
	return &Request{Version: CurrentVersion(), Op: op}
}

// Response is the server-to-client message envelope. Op echoes the request
// opcode; Errno is ErrnoNone exactly when the operation succeeded.
type Response struct {
	Version    Version
	Op         Opcode
	Errno      Errno
	Attrs      *Attrs
	Entries    []*Attrs
	LinkTarget *string
	Size       *int64
	Data       *DataBlock
	StatFs     *StatFs
}

// NewResponse returns a response for op with the current version and no
// error set.
func NewResponse(op Opcode) *Response {
	return &Response{Version: CurrentVersion(), Op: op, Errno: ErrnoNone}
}

// String helpers for pointer-typed optional fields.

// StringPtr returns a pointer to s, for filling optional request fields.
func StringPtr(s string) *string { return &s }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }
