package proto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/mycofs/mycofs/pkg/errors"
)

func TestRequestRoundTripMinimal(t *testing.T) {
	req := NewRequest(OpPing)

	got, err := UnmarshalRequest(req.Marshal())
	require.NoError(t, err)

	assert.Equal(t, OpPing, got.Op)
	assert.Equal(t, uint32(VersionMajor), got.Version.Major)
	assert.Equal(t, uint32(VersionMinor), got.Version.Minor)
	assert.Nil(t, got.Path)
	assert.Nil(t, got.Data)
}

func TestRequestRoundTripAllFields(t *testing.T) {
	created := TimeSpec{Sec: 7, USec: 8}
	ft := FileTypeRegular

	req := NewRequest(OpWrite)
	req.Path = StringPtr("/some/file")
	req.PathTo = StringPtr("/other/file")
	req.Size = Int64Ptr(2048)
	req.Offset = Int64Ptr(4096)
	req.Mode = PermissionsFromMode(0o640)
	req.Flags = OpenFlagsFromLocal(0x41) // O_WRONLY|O_CREAT
	req.Times = &TimeSet{
		Access:       TimeSpec{Sec: 1, USec: 2},
		Modification: TimeSpec{Sec: 3, USec: 4},
		Creation:     &created,
	}
	req.Type = &ft
	req.Data = &DataBlock{}
	require.NoError(t, req.Data.Set(compressible(2048), CodecLZ4))

	got, err := UnmarshalRequest(req.Marshal())
	require.NoError(t, err)

	assert.Equal(t, OpWrite, got.Op)
	require.NotNil(t, got.Path)
	assert.Equal(t, "/some/file", *got.Path)
	require.NotNil(t, got.PathTo)
	assert.Equal(t, "/other/file", *got.PathTo)
	assert.Equal(t, int64(2048), *got.Size)
	assert.Equal(t, int64(4096), *got.Offset)
	assert.Equal(t, uint32(0o640), got.Mode.Mode())
	assert.Equal(t, 0x41, got.Flags.Local())
	require.NotNil(t, got.Times.Creation)
	assert.Equal(t, created, *got.Times.Creation)
	assert.Equal(t, FileTypeRegular, *got.Type)

	require.NotNil(t, got.Data)
	assert.Equal(t, CodecLZ4, got.Data.Codec)
	payload, err := got.Data.Get()
	require.NoError(t, err)
	assert.Equal(t, compressible(2048), payload)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := NewResponse(OpReaddir)
	resp.Errno = ErrnoNone
	resp.Attrs = &Attrs{
		Size:    11,
		Type:    FileTypeDirectory,
		Mode:    *PermissionsFromMode(0o755),
		IsOwner: true,
		Times: TimeSet{
			Access:       TimeSpec{Sec: 100, USec: 1},
			Modification: TimeSpec{Sec: 200, USec: 2},
		},
	}
	resp.Entries = []*Attrs{
		{Name: ".", Type: FileTypeDirectory, Mode: *PermissionsFromMode(0o755)},
		{Name: "hello", Type: FileTypeRegular, Size: 2, IsInGroup: true},
	}
	resp.LinkTarget = StringPtr("../target")
	resp.Size = Int64Ptr(2)
	resp.StatFs = &StatFs{Bsize: 4096, Blocks: 1 << 20, Bfree: 1 << 19, Namemax: 255}

	got, err := UnmarshalResponse(resp.Marshal())
	require.NoError(t, err)

	assert.Equal(t, OpReaddir, got.Op)
	assert.Equal(t, ErrnoNone, got.Errno)
	require.NotNil(t, got.Attrs)
	assert.Equal(t, int64(11), got.Attrs.Size)
	assert.True(t, got.Attrs.IsOwner)
	assert.Equal(t, int64(100), got.Attrs.Times.Access.Sec)

	require.Len(t, got.Entries, 2)
	assert.Equal(t, ".", got.Entries[0].Name)
	assert.Equal(t, "hello", got.Entries[1].Name)
	assert.True(t, got.Entries[1].IsInGroup)

	assert.Equal(t, "../target", *got.LinkTarget)
	assert.Equal(t, int64(2), *got.Size)
	assert.Equal(t, uint64(4096), got.StatFs.Bsize)
}

func TestResponseErrnoTravels(t *testing.T) {
	resp := NewResponse(OpGetattr)
	resp.Errno = ErrnoNoent

	got, err := UnmarshalResponse(resp.Marshal())
	require.NoError(t, err)
	assert.Equal(t, ErrnoNoent, got.Errno)
}

func TestUnknownFieldsAreSkipped(t *testing.T) {
	req := NewRequest(OpGetattr)
	req.Path = StringPtr("/f")
	frame := req.Marshal()

	// a future revision appends fields this side has never heard of
	frame = protowire.AppendTag(frame, 900, protowire.VarintType)
	frame = protowire.AppendVarint(frame, 42)
	frame = protowire.AppendTag(frame, 901, protowire.BytesType)
	frame = protowire.AppendBytes(frame, []byte("from the future"))

	got, err := UnmarshalRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, OpGetattr, got.Op)
	assert.Equal(t, "/f", *got.Path)
}

func TestMalformedFrameRejected(t *testing.T) {
	for _, frame := range [][]byte{
		{0xff},
		{0x0a, 0x7f, 0x00}, // length-delimited field longer than the frame
		append(NewRequest(OpPing).Marshal(), 0x93),
	} {
		_, err := UnmarshalRequest(frame)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnserializable))

		_, err = UnmarshalResponse(frame)
		assert.Error(t, err)
	}
}

func TestUnknownOpcodeCollapses(t *testing.T) {
	var frame []byte
	frame = appendMessage(frame, fReqVersion, marshalVersion(CurrentVersion()))
	frame = appendInt(frame, fReqOp, 5000)

	got, err := UnmarshalRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, OpUnknown, got.Op)
}

func TestValidateFieldMatrix(t *testing.T) {
	cases := []struct {
		name  string
		build func() *Request
		want  Errno
	}{
		{"ping needs nothing", func() *Request { return NewRequest(OpPing) }, ErrnoNone},
		{"getattr without path", func() *Request { return NewRequest(OpGetattr) }, ErrnoInvalidRequest},
		{"mkdir without mode", func() *Request {
			r := NewRequest(OpMkdir)
			r.Path = StringPtr("/d")
			return r
		}, ErrnoInvalidRequest},
		{"mkdir complete", func() *Request {
			r := NewRequest(OpMkdir)
			r.Path = StringPtr("/d")
			r.Mode = PermissionsFromMode(0o755)
			return r
		}, ErrnoNone},
		{"read without offset", func() *Request {
			r := NewRequest(OpRead)
			r.Path = StringPtr("/f")
			r.Size = Int64Ptr(10)
			return r
		}, ErrnoInvalidRequest},
		{"write without data", func() *Request {
			r := NewRequest(OpWrite)
			r.Path = StringPtr("/f")
			r.Size = Int64Ptr(1)
			r.Offset = Int64Ptr(0)
			return r
		}, ErrnoInvalidRequest},
		{"rename without path_to", func() *Request {
			r := NewRequest(OpRename)
			r.Path = StringPtr("/a")
			return r
		}, ErrnoInvalidRequest},
		{"unknown opcode", func() *Request { return NewRequest(OpUnknown) }, ErrnoInvalidRequest},
		{"invalid opcode", func() *Request { return NewRequest(OpInvalid) }, ErrnoInvalidRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.build().Validate())
		})
	}
}
