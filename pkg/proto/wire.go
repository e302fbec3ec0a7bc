package proto

import (
	"github.com/mycofs/mycofs/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrUnserializable is returned when a frame cannot be decoded into a
// request or response. The receiving side answers such frames with
// ErrnoUnserializable instead of dropping them.
var ErrUnserializable = errors.New("unserializable message")

// Field numbers of the top level envelopes. Unknown tags are skipped on
// receive, so fields can only ever be added here, never renumbered.
const (
	fReqVersion = 1
	fReqOp      = 2
	fReqPath    = 3
	fReqPathTo  = 4
	fReqSize    = 5
	fReqOffset  = 6
	fReqMode    = 7
	fReqFlags   = 8
	fReqTimes   = 9
	fReqType    = 10
	fReqData    = 11

	fRespVersion = 1
	fRespOp      = 2
	fRespErrno   = 3
	fRespAttrs   = 4
	fRespEntry   = 5
	fRespLink    = 6
	fRespSize    = 7
	fRespData    = 8
	fRespStatFs  = 9
)

// Nested message field numbers.
const (
	fVersionMajor = 1
	fVersionMinor = 2

	fPermRead    = 1
	fPermWrite   = 2
	fPermExecute = 3

	fPermsOwner = 1
	fPermsGroup = 2
	fPermsWorld = 3

	fFlagRdOnly = 1
	fFlagWrOnly = 2
	fFlagRdWr   = 3
	fFlagCreat  = 4
	fFlagExcl   = 5
	fFlagTrunc  = 6
	fFlagAppend = 7

	fTimeAccessSec   = 1
	fTimeAccessUSec  = 2
	fTimeModSec      = 3
	fTimeModUSec     = 4
	fTimeCreatedSec  = 5
	fTimeCreatedUSec = 6

	fAttrsSize      = 1
	fAttrsType      = 2
	fAttrsMode      = 3
	fAttrsTimes     = 4
	fAttrsIsOwner   = 5
	fAttrsIsInGroup = 6
	fAttrsName      = 7

	fBlockSize  = 1
	fBlockCodec = 2
	fBlockData  = 3

	fStatFsBsize   = 1
	fStatFsFrsize  = 2
	fStatFsBlocks  = 3
	fStatFsBfree   = 4
	fStatFsBavail  = 5
	fStatFsFiles   = 6
	fStatFsFfree   = 7
	fStatFsNamemax = 8
)

// ---- encoding ----------------------------------------------------------

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	if v {
		return protowire.AppendVarint(b, 1)
	}
	return protowire.AppendVarint(b, 0)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func marshalVersion(v Version) []byte {
	var b []byte
	b = appendUint(b, fVersionMajor, uint64(v.Major))
	b = appendUint(b, fVersionMinor, uint64(v.Minor))
	return b
}

func marshalPermissionSet(ps PermissionSet) []byte {
	var b []byte
	b = appendBool(b, fPermRead, ps.Read)
	b = appendBool(b, fPermWrite, ps.Write)
	b = appendBool(b, fPermExecute, ps.Execute)
	return b
}

func marshalPermissions(p *Permissions) []byte {
	var b []byte
	b = appendMessage(b, fPermsOwner, marshalPermissionSet(p.Owner))
	b = appendMessage(b, fPermsGroup, marshalPermissionSet(p.Group))
	b = appendMessage(b, fPermsWorld, marshalPermissionSet(p.World))
	return b
}

func marshalOpenFlags(of *OpenFlags) []byte {
	var b []byte
	b = appendBool(b, fFlagRdOnly, of.RdOnly)
	b = appendBool(b, fFlagWrOnly, of.WrOnly)
	b = appendBool(b, fFlagRdWr, of.RdWr)
	b = appendBool(b, fFlagCreat, of.Creat)
	b = appendBool(b, fFlagExcl, of.Excl)
	b = appendBool(b, fFlagTrunc, of.Trunc)
	b = appendBool(b, fFlagAppend, of.Append)
	return b
}

func marshalTimeSet(ts *TimeSet) []byte {
	var b []byte
	b = appendInt(b, fTimeAccessSec, ts.Access.Sec)
	b = appendInt(b, fTimeAccessUSec, ts.Access.USec)
	b = appendInt(b, fTimeModSec, ts.Modification.Sec)
	b = appendInt(b, fTimeModUSec, ts.Modification.USec)
	if ts.Creation != nil {
		b = appendInt(b, fTimeCreatedSec, ts.Creation.Sec)
		b = appendInt(b, fTimeCreatedUSec, ts.Creation.USec)
	}
	return b
}

func marshalAttrs(a *Attrs) []byte {
	var b []byte
	b = appendInt(b, fAttrsSize, a.Size)
	b = appendInt(b, fAttrsType, int64(a.Type))
	b = appendMessage(b, fAttrsMode, marshalPermissions(&a.Mode))
	b = appendMessage(b, fAttrsTimes, marshalTimeSet(&a.Times))
	b = appendBool(b, fAttrsIsOwner, a.IsOwner)
	b = appendBool(b, fAttrsIsInGroup, a.IsInGroup)
	if a.Name != "" {
		b = appendString(b, fAttrsName, a.Name)
	}
	return b
}

func marshalDataBlock(db *DataBlock) []byte {
	var b []byte
	b = appendUint(b, fBlockSize, uint64(db.UncompressedSize))
	b = appendInt(b, fBlockCodec, int64(db.Codec))
	b = protowire.AppendTag(b, fBlockData, protowire.BytesType)
	b = protowire.AppendBytes(b, db.buf)
	return b
}

func marshalStatFs(st *StatFs) []byte {
	var b []byte
	b = appendUint(b, fStatFsBsize, st.Bsize)
	b = appendUint(b, fStatFsFrsize, st.Frsize)
	b = appendUint(b, fStatFsBlocks, st.Blocks)
	b = appendUint(b, fStatFsBfree, st.Bfree)
	b = appendUint(b, fStatFsBavail, st.Bavail)
	b = appendUint(b, fStatFsFiles, st.Files)
	b = appendUint(b, fStatFsFfree, st.Ffree)
	b = appendUint(b, fStatFsNamemax, st.Namemax)
	return b
}

// Marshal serialises the request into one transport frame.
func (r *Request) Marshal() []byte {
	var b []byte
	b = appendMessage(b, fReqVersion, marshalVersion(r.Version))
	b = appendInt(b, fReqOp, int64(r.Op))
	if r.Path != nil {
		b = appendString(b, fReqPath, *r.Path)
	}
	if r.PathTo != nil {
		b = appendString(b, fReqPathTo, *r.PathTo)
	}
	if r.Size != nil {
		b = appendInt(b, fReqSize, *r.Size)
	}
	if r.Offset != nil {
		b = appendInt(b, fReqOffset, *r.Offset)
	}
	if r.Mode != nil {
		b = appendMessage(b, fReqMode, marshalPermissions(r.Mode))
	}
	if r.Flags != nil {
		b = appendMessage(b, fReqFlags, marshalOpenFlags(r.Flags))
	}
	if r.Times != nil {
		b = appendMessage(b, fReqTimes, marshalTimeSet(r.Times))
	}
	if r.Type != nil {
		b = appendInt(b, fReqType, int64(*r.Type))
	}
	if r.Data != nil {
		b = appendMessage(b, fReqData, marshalDataBlock(r.Data))
	}
	return b
}

// Marshal serialises the response into one transport frame.
func (r *Response) Marshal() []byte {
	var b []byte
	b = appendMessage(b, fRespVersion, marshalVersion(r.Version))
	b = appendInt(b, fRespOp, int64(r.Op))
	b = appendInt(b, fRespErrno, int64(r.Errno))
	if r.Attrs != nil {
		b = appendMessage(b, fRespAttrs, marshalAttrs(r.Attrs))
	}
	for _, entry := range r.Entries {
		b = appendMessage(b, fRespEntry, marshalAttrs(entry))
	}
	if r.LinkTarget != nil {
		b = appendString(b, fRespLink, *r.LinkTarget)
	}
	if r.Size != nil {
		b = appendInt(b, fRespSize, *r.Size)
	}
	if r.Data != nil {
		b = appendMessage(b, fRespData, marshalDataBlock(r.Data))
	}
	if r.StatFs != nil {
		b = appendMessage(b, fRespStatFs, marshalStatFs(r.StatFs))
	}
	return b
}

// ---- decoding ----------------------------------------------------------

// fieldVisitor is called for every field of a message. Unknown field
// numbers must be left to the walker, which skips them.
type fieldVisitor func(num protowire.Number, typ protowire.Type, b []byte) (consumed int, handled bool, err error)

func walkMessage(b []byte, visit fieldVisitor) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return ErrUnserializable
		}
		b = b[n:]

		consumed, handled, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if !handled {
			consumed = protowire.ConsumeFieldValue(num, typ, b)
		}
		if consumed < 0 || consumed > len(b) {
			return ErrUnserializable
		}
		b = b[consumed:]
	}
	return nil
}

func consumeUint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, ErrUnserializable
	}
	return v, n, nil
}

func consumeString(b []byte) (string, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return "", 0, ErrUnserializable
	}
	return string(v), n, nil
}

func consumeBytes(b []byte) ([]byte, int, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, ErrUnserializable
	}
	return v, n, nil
}

func unmarshalVersion(b []byte) (Version, error) {
	var v Version
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fVersionMajor, fVersionMinor:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			if num == fVersionMajor {
				v.Major = uint32(u)
			} else {
				v.Minor = uint32(u)
			}
			return n, true, nil
		}
		return 0, false, nil
	})
	return v, err
}

func unmarshalPermissionSet(b []byte) (PermissionSet, error) {
	var ps PermissionSet
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fPermRead, fPermWrite, fPermExecute:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			on := u != 0
			switch num {
			case fPermRead:
				ps.Read = on
			case fPermWrite:
				ps.Write = on
			case fPermExecute:
				ps.Execute = on
			}
			return n, true, nil
		}
		return 0, false, nil
	})
	return ps, err
}

func unmarshalPermissions(b []byte) (*Permissions, error) {
	p := &Permissions{}
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fPermsOwner, fPermsGroup, fPermsWorld:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			ps, err := unmarshalPermissionSet(raw)
			if err != nil {
				return 0, false, err
			}
			switch num {
			case fPermsOwner:
				p.Owner = ps
			case fPermsGroup:
				p.Group = ps
			case fPermsWorld:
				p.World = ps
			}
			return n, true, nil
		}
		return 0, false, nil
	})
	return p, err
}

func unmarshalOpenFlags(b []byte) (*OpenFlags, error) {
	of := &OpenFlags{}
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		if num < fFlagRdOnly || num > fFlagAppend {
			return 0, false, nil
		}
		u, n, err := consumeUint(b)
		if err != nil {
			return 0, false, err
		}
		on := u != 0
		switch num {
		case fFlagRdOnly:
			of.RdOnly = on
		case fFlagWrOnly:
			of.WrOnly = on
		case fFlagRdWr:
			of.RdWr = on
		case fFlagCreat:
			of.Creat = on
		case fFlagExcl:
			of.Excl = on
		case fFlagTrunc:
			of.Trunc = on
		case fFlagAppend:
			of.Append = on
		}
		return n, true, nil
	})
	return of, err
}

func unmarshalTimeSet(b []byte) (*TimeSet, error) {
	ts := &TimeSet{}
	var created TimeSpec
	haveCreated := false
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		if num < fTimeAccessSec || num > fTimeCreatedUSec {
			return 0, false, nil
		}
		u, n, err := consumeUint(b)
		if err != nil {
			return 0, false, err
		}
		v := int64(u)
		switch num {
		case fTimeAccessSec:
			ts.Access.Sec = v
		case fTimeAccessUSec:
			ts.Access.USec = v
		case fTimeModSec:
			ts.Modification.Sec = v
		case fTimeModUSec:
			ts.Modification.USec = v
		case fTimeCreatedSec:
			created.Sec = v
			haveCreated = true
		case fTimeCreatedUSec:
			created.USec = v
			haveCreated = true
		}
		return n, true, nil
	})
	if haveCreated {
		ts.Creation = &created
	}
	return ts, err
}

func unmarshalAttrs(b []byte) (*Attrs, error) {
	a := &Attrs{}
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fAttrsSize, fAttrsType, fAttrsIsOwner, fAttrsIsInGroup:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			switch num {
			case fAttrsSize:
				a.Size = int64(u)
			case fAttrsType:
				a.Type = FileType(u)
			case fAttrsIsOwner:
				a.IsOwner = u != 0
			case fAttrsIsInGroup:
				a.IsInGroup = u != 0
			}
			return n, true, nil
		case fAttrsMode:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			p, err := unmarshalPermissions(raw)
			if err != nil {
				return 0, false, err
			}
			a.Mode = *p
			return n, true, nil
		case fAttrsTimes:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			ts, err := unmarshalTimeSet(raw)
			if err != nil {
				return 0, false, err
			}
			a.Times = *ts
			return n, true, nil
		case fAttrsName:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, false, err
			}
			a.Name = s
			return n, true, nil
		}
		return 0, false, nil
	})
	return a, err
}

func unmarshalDataBlock(b []byte) (*DataBlock, error) {
	db := &DataBlock{}
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fBlockSize, fBlockCodec:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			if num == fBlockSize {
				db.UncompressedSize = int(u)
			} else {
				db.Codec = Codec(u)
			}
			return n, true, nil
		case fBlockData:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			db.buf = append([]byte(nil), raw...)
			return n, true, nil
		}
		return 0, false, nil
	})
	return db, err
}

func unmarshalStatFs(b []byte) (*StatFs, error) {
	st := &StatFs{}
	err := walkMessage(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		if num < fStatFsBsize || num > fStatFsNamemax {
			return 0, false, nil
		}
		u, n, err := consumeUint(b)
		if err != nil {
			return 0, false, err
		}
		switch num {
		case fStatFsBsize:
			st.Bsize = u
		case fStatFsFrsize:
			st.Frsize = u
		case fStatFsBlocks:
			st.Blocks = u
		case fStatFsBfree:
			st.Bfree = u
		case fStatFsBavail:
			st.Bavail = u
		case fStatFsFiles:
			st.Files = u
		case fStatFsFfree:
			st.Ffree = u
		case fStatFsNamemax:
			st.Namemax = u
		}
		return n, true, nil
	})
	return st, err
}

// UnmarshalRequest decodes one request frame. Malformed frames yield
// ErrUnserializable; unknown fields are skipped.
func UnmarshalRequest(frame []byte) (*Request, error) {
	r := &Request{}
	err := walkMessage(frame, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fReqVersion:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			v, err := unmarshalVersion(raw)
			if err != nil {
				return 0, false, err
			}
			r.Version = v
			return n, true, nil
		case fReqOp:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			op := Opcode(u)
			if _, known := opcodeNames[op]; !known {
				op = OpUnknown
			}
			r.Op = op
			return n, true, nil
		case fReqPath, fReqPathTo:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, false, err
			}
			if num == fReqPath {
				r.Path = &s
			} else {
				r.PathTo = &s
			}
			return n, true, nil
		case fReqSize, fReqOffset:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			v := int64(u)
			if num == fReqSize {
				r.Size = &v
			} else {
				r.Offset = &v
			}
			return n, true, nil
		case fReqMode:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			p, err := unmarshalPermissions(raw)
			if err != nil {
				return 0, false, err
			}
			r.Mode = p
			return n, true, nil
		case fReqFlags:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			of, err := unmarshalOpenFlags(raw)
			if err != nil {
				return 0, false, err
			}
			r.Flags = of
			return n, true, nil
		case fReqTimes:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			ts, err := unmarshalTimeSet(raw)
			if err != nil {
				return 0, false, err
			}
			r.Times = ts
			return n, true, nil
		case fReqType:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			t := FileType(u)
			r.Type = &t
			return n, true, nil
		case fReqData:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			db, err := unmarshalDataBlock(raw)
			if err != nil {
				return 0, false, err
			}
			r.Data = db
			return n, true, nil
		}
		return 0, false, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// UnmarshalResponse decodes one response frame.
func UnmarshalResponse(frame []byte) (*Response, error) {
	r := &Response{}
	err := walkMessage(frame, func(num protowire.Number, typ protowire.Type, b []byte) (int, bool, error) {
		switch num {
		case fRespVersion:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			v, err := unmarshalVersion(raw)
			if err != nil {
				return 0, false, err
			}
			r.Version = v
			return n, true, nil
		case fRespOp, fRespErrno:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			if num == fRespOp {
				op := Opcode(u)
				if _, known := opcodeNames[op]; !known {
					op = OpUnknown
				}
				r.Op = op
			} else {
				e := Errno(u)
				if _, known := errnoNames[e]; !known {
					e = ErrnoUnknown
				}
				r.Errno = e
			}
			return n, true, nil
		case fRespAttrs, fRespEntry:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			a, err := unmarshalAttrs(raw)
			if err != nil {
				return 0, false, err
			}
			if num == fRespAttrs {
				r.Attrs = a
			} else {
				r.Entries = append(r.Entries, a)
			}
			return n, true, nil
		case fRespLink:
			s, n, err := consumeString(b)
			if err != nil {
				return 0, false, err
			}
			r.LinkTarget = &s
			return n, true, nil
		case fRespSize:
			u, n, err := consumeUint(b)
			if err != nil {
				return 0, false, err
			}
			v := int64(u)
			r.Size = &v
			return n, true, nil
		case fRespData:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			db, err := unmarshalDataBlock(raw)
			if err != nil {
				return 0, false, err
			}
			r.Data = db
			return n, true, nil
		case fRespStatFs:
			raw, n, err := consumeBytes(b)
			if err != nil {
				return 0, false, err
			}
			st, err := unmarshalStatFs(raw)
			if err != nil {
				return 0, false, err
			}
			r.StatFs = st
			return n, true, nil
		}
		return 0, false, nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}
