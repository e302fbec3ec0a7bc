package server

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/mycofs/mycofs/pkg/proto"
)

// testWorker serves a fresh temp directory; process is driven directly,
// no transport involved.
func testWorker(t *testing.T) (*Worker, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return NewWorker(0, root, NewBufPool()), root
}

func exchange(t *testing.T, w *Worker, req *proto.Request) *proto.Response {
	t.Helper()
	resp, err := proto.UnmarshalResponse(w.Process(req.Marshal()))
	require.NoError(t, err, "worker must always answer with a decodable response")
	return resp
}

func pathReq(op proto.Opcode, path string) *proto.Request {
	req := proto.NewRequest(op)
	req.Path = &path
	return req
}

func TestWorkerPing(t *testing.T) {
	w, _ := testWorker(t)

	resp := exchange(t, w, proto.NewRequest(proto.OpPing))
	assert.Equal(t, proto.OpPing, resp.Op)
	assert.Equal(t, proto.ErrnoNone, resp.Errno)
}

func TestWorkerUnserializableFrame(t *testing.T) {
	w, _ := testWorker(t)

	resp, err := proto.UnmarshalResponse(w.Process([]byte{0xff, 0xfe}))
	require.NoError(t, err)
	assert.Equal(t, proto.OpUnknown, resp.Op)
	assert.Equal(t, proto.ErrnoUnserializable, resp.Errno)
}

func TestWorkerMissingRequiredField(t *testing.T) {
	w, _ := testWorker(t)

	// getattr without a path
	resp := exchange(t, w, proto.NewRequest(proto.OpGetattr))
	assert.Equal(t, proto.OpGetattr, resp.Op)
	assert.Equal(t, proto.ErrnoInvalidRequest, resp.Errno)
}

func TestWorkerUnknownOpcode(t *testing.T) {
	w, _ := testWorker(t)

	resp := exchange(t, w, proto.NewRequest(proto.OpUnknown))
	assert.Equal(t, proto.OpInvalid, resp.Op)
	assert.Equal(t, proto.ErrnoInvalidRequest, resp.Errno)
}

func TestWorkerGetattr(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello"), []byte("hi"), 0o644))

	resp := exchange(t, w, pathReq(proto.OpGetattr, "/hello"))
	require.Equal(t, proto.ErrnoNone, resp.Errno)
	require.NotNil(t, resp.Attrs)
	assert.Equal(t, int64(2), resp.Attrs.Size)
	assert.Equal(t, proto.FileTypeRegular, resp.Attrs.Type)
	assert.Equal(t, uint32(0o644), resp.Attrs.Mode.Mode())
	assert.True(t, resp.Attrs.IsOwner)
	assert.NotZero(t, resp.Attrs.Times.Modification.Sec)
}

func TestWorkerGetattrNoent(t *testing.T) {
	w, _ := testWorker(t)

	resp := exchange(t, w, pathReq(proto.OpGetattr, "/missing"))
	assert.Equal(t, proto.ErrnoNoent, resp.Errno)
	assert.Nil(t, resp.Attrs)
}

func TestWorkerMkdirThenReaddir(t *testing.T) {
	w, root := testWorker(t)

	mkdir := pathReq(proto.OpMkdir, "/d")
	mkdir.Mode = proto.PermissionsFromMode(0o755)
	resp := exchange(t, w, mkdir)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	st, err := os.Stat(filepath.Join(root, "d"))
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	resp = exchange(t, w, pathReq(proto.OpReaddir, "/"))
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	var names []string
	for _, entry := range resp.Entries {
		names = append(names, entry.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{".", "..", "d"}, names)

	for _, entry := range resp.Entries {
		if entry.Name == "d" {
			assert.Equal(t, proto.FileTypeDirectory, entry.Type)
		}
	}
}

func TestWorkerReadSmallFileStaysRaw(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello"), []byte("hi"), 0o644))

	read := pathReq(proto.OpRead, "/hello")
	read.Size = proto.Int64Ptr(4096)
	read.Offset = proto.Int64Ptr(0)

	resp := exchange(t, w, read)
	require.Equal(t, proto.ErrnoNone, resp.Errno)
	require.NotNil(t, resp.Data)
	assert.Equal(t, proto.CodecNone, resp.Data.Codec, "tiny payloads travel uncompressed")

	data, err := resp.Data.Get()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))
}

func TestWorkerReadAtOffset(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("0123456789"), 0o644))

	read := pathReq(proto.OpRead, "/f")
	read.Size = proto.Int64Ptr(4)
	read.Offset = proto.Int64Ptr(3)

	resp := exchange(t, w, read)
	require.Equal(t, proto.ErrnoNone, resp.Errno)
	data, err := resp.Data.Get()
	require.NoError(t, err)
	assert.Equal(t, "3456", string(data))
}

func TestWorkerWriteCompressedBlock(t *testing.T) {
	w, root := testWorker(t)

	payload := make([]byte, 2048)
	for i := range payload {
		payload[i] = byte(i % 8)
	}

	write := pathReq(proto.OpWrite, "/big")
	write.Size = proto.Int64Ptr(int64(len(payload)))
	write.Offset = proto.Int64Ptr(0)
	write.Data = &proto.DataBlock{}
	require.NoError(t, write.Data.Set(payload, proto.CodecLZ4))
	require.Equal(t, proto.CodecLZ4, write.Data.Codec)
	require.Less(t, len(write.Data.Payload()), len(payload))

	resp := exchange(t, w, write)
	require.Equal(t, proto.ErrnoNone, resp.Errno)
	require.NotNil(t, resp.Size)
	assert.Equal(t, int64(len(payload)), *resp.Size)

	onDisk, err := os.ReadFile(filepath.Join(root, "big"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)
}

func TestWorkerWriteSizeMismatchRejected(t *testing.T) {
	w, root := testWorker(t)

	write := pathReq(proto.OpWrite, "/f")
	write.Size = proto.Int64Ptr(999)
	write.Offset = proto.Int64Ptr(0)
	write.Data = &proto.DataBlock{}
	require.NoError(t, write.Data.Set([]byte("four"), proto.CodecNone))

	resp := exchange(t, w, write)
	assert.Equal(t, proto.ErrnoInvalidRequest, resp.Errno)

	_, err := os.Stat(filepath.Join(root, "f"))
	assert.True(t, os.IsNotExist(err), "nothing may be written on a size mismatch")
}

func TestWorkerCreateAddsOwnerWrite(t *testing.T) {
	w, root := testWorker(t)

	create := pathReq(proto.OpCreate, "/readonly")
	create.Mode = proto.PermissionsFromMode(0o444)
	resp := exchange(t, w, create)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	var st unix.Stat_t
	require.NoError(t, unix.Stat(filepath.Join(root, "readonly"), &st))
	assert.NotZero(t, st.Mode&unix.S_IWUSR, "owner write must be added so follow-up writes can reopen")
}

func TestWorkerOpenMissingFile(t *testing.T) {
	w, _ := testWorker(t)

	open := pathReq(proto.OpOpen, "/absent")
	open.Flags = proto.OpenFlagsFromLocal(unix.O_RDONLY)
	resp := exchange(t, w, open)
	assert.Equal(t, proto.ErrnoNoent, resp.Errno)
}

func TestWorkerOpenCreatesWithCreatFlag(t *testing.T) {
	w, root := testWorker(t)

	open := pathReq(proto.OpOpen, "/fresh")
	open.Flags = proto.OpenFlagsFromLocal(unix.O_WRONLY | unix.O_CREAT)
	resp := exchange(t, w, open)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	_, err := os.Stat(filepath.Join(root, "fresh"))
	assert.NoError(t, err)
}

func TestWorkerUnlinkRmdir(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "d"), 0o755))

	resp := exchange(t, w, pathReq(proto.OpUnlink, "/f"))
	assert.Equal(t, proto.ErrnoNone, resp.Errno)

	resp = exchange(t, w, pathReq(proto.OpRmdir, "/d"))
	assert.Equal(t, proto.ErrnoNone, resp.Errno)

	resp = exchange(t, w, pathReq(proto.OpRmdir, "/d"))
	assert.Equal(t, proto.ErrnoNoent, resp.Errno)
}

func TestWorkerRename(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "from"), []byte("x"), 0o644))

	rename := pathReq(proto.OpRename, "/from")
	rename.PathTo = proto.StringPtr("/to")
	resp := exchange(t, w, rename)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	_, err := os.Stat(filepath.Join(root, "to"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "from"))
	assert.True(t, os.IsNotExist(err))
}

func TestWorkerLink(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "orig"), []byte("x"), 0o644))

	link := pathReq(proto.OpLink, "/orig")
	link.PathTo = proto.StringPtr("/hard")
	resp := exchange(t, w, link)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	var st unix.Stat_t
	require.NoError(t, unix.Stat(filepath.Join(root, "hard"), &st))
	assert.Equal(t, uint64(2), uint64(st.Nlink))
}

func TestWorkerSymlinkReadlink(t *testing.T) {
	w, _ := testWorker(t)

	symlink := pathReq(proto.OpSymlink, "/ln")
	symlink.PathTo = proto.StringPtr("some/target")
	resp := exchange(t, w, symlink)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	resp = exchange(t, w, pathReq(proto.OpReadlink, "/ln"))
	require.Equal(t, proto.ErrnoNone, resp.Errno)
	require.NotNil(t, resp.LinkTarget)
	assert.Equal(t, "some/target", *resp.LinkTarget)

	// the link itself must stat as a symlink
	resp = exchange(t, w, pathReq(proto.OpGetattr, "/ln"))
	require.Equal(t, proto.ErrnoNone, resp.Errno)
	assert.Equal(t, proto.FileTypeSymlink, resp.Attrs.Type)
}

func TestWorkerChmod(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o644))

	chmod := pathReq(proto.OpChmod, "/f")
	chmod.Mode = proto.PermissionsFromMode(0o600)
	resp := exchange(t, w, chmod)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	st, err := os.Stat(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), st.Mode().Perm())
}

func TestWorkerTruncate(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("0123456789"), 0o644))

	trunc := pathReq(proto.OpTruncate, "/f")
	trunc.Offset = proto.Int64Ptr(4)
	resp := exchange(t, w, trunc)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	data, err := os.ReadFile(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Equal(t, "0123", string(data))
}

func TestWorkerUtimens(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o644))

	utimens := pathReq(proto.OpUtimens, "/f")
	utimens.Times = &proto.TimeSet{
		Access:       proto.TimeSpec{Sec: 1000000, USec: 500000},
		Modification: proto.TimeSpec{Sec: 2000000, USec: 250000},
	}
	resp := exchange(t, w, utimens)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	var st unix.Stat_t
	require.NoError(t, unix.Stat(filepath.Join(root, "f"), &st))
	assert.Equal(t, int64(2000000), st.Mtim.Sec)
	assert.Equal(t, int64(250000*1000), st.Mtim.Nsec)
}

func TestWorkerAccess(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), nil, 0o400))

	if os.Getuid() == 0 {
		t.Skip("permission checks do not bind for root")
	}

	access := pathReq(proto.OpAccess, "/f")
	access.Mode = &proto.Permissions{Owner: proto.PermissionSet{Write: true}}
	resp := exchange(t, w, access)
	assert.Equal(t, proto.ErrnoAcces, resp.Errno)

	access = pathReq(proto.OpAccess, "/f")
	access.Mode = &proto.Permissions{Owner: proto.PermissionSet{Read: true}}
	resp = exchange(t, w, access)
	assert.Equal(t, proto.ErrnoNone, resp.Errno)
}

func TestWorkerMknodRegularOnly(t *testing.T) {
	w, root := testWorker(t)

	mknod := pathReq(proto.OpMknod, "/node")
	mknod.Mode = proto.PermissionsFromMode(0o644)
	fifo := proto.FileTypeFifo
	mknod.Type = &fifo
	resp := exchange(t, w, mknod)
	assert.Equal(t, proto.ErrnoPerm, resp.Errno)

	regular := proto.FileTypeRegular
	mknod.Type = &regular
	resp = exchange(t, w, mknod)
	require.Equal(t, proto.ErrnoNone, resp.Errno)

	st, err := os.Stat(filepath.Join(root, "node"))
	require.NoError(t, err)
	assert.True(t, st.Mode().IsRegular())
}

func TestWorkerStatfs(t *testing.T) {
	w, _ := testWorker(t)

	resp := exchange(t, w, pathReq(proto.OpStatfs, "/"))
	require.Equal(t, proto.ErrnoNone, resp.Errno)
	require.NotNil(t, resp.StatFs)
	assert.NotZero(t, resp.StatFs.Bsize)
	assert.NotZero(t, resp.StatFs.Blocks)
}

func TestWorkerPathsStayUnderRoot(t *testing.T) {
	w, root := testWorker(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "inside"), []byte("y"), 0o644))

	// textual join keeps the root prefix even for decorated paths
	resp := exchange(t, w, pathReq(proto.OpGetattr, "//inside"))
	assert.Equal(t, proto.ErrnoNone, resp.Errno)
}
