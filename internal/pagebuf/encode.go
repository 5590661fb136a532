package pagebuf

// encode.go implements the length-prefixed on-the-wire encoding used only
// by out-of-core collaborators (a concrete pagestore.Store such as
// internal/pagestore/badgerstore) to persist a page. In-memory pages never
// go through this path: the cache stores the typed Go structs directly.

import (
	"encoding/binary"
	"fmt"
)

// Encode serialises p into a length-prefixed byte buffer: each variable
// length field (byte slices) is prefixed with a uvarint length.
func Encode(p Page) []byte {
	var buf []byte
	h := p.Header()
	buf = appendHeader(buf, h)

	switch pg := p.(type) {
	case *DataPage:
		buf = binary.AppendUvarint(buf, uint64(len(pg.Entries)))
		for _, e := range pg.Entries {
			buf = appendBytes(buf, e.Key.Raw)
			buf = binary.AppendUvarint(buf, e.Key.LSN)
			buf = append(buf, boolByte(e.Val.Tombstone))
			buf = appendBytes(buf, e.Val.Bytes)
		}
	case *IndexPage:
		buf = binary.AppendUvarint(buf, uint64(len(pg.Entries)))
		for _, e := range pg.Entries {
			buf = appendBytes(buf, e.Sep)
			buf = binary.AppendUvarint(buf, e.Child.ID)
			buf = binary.AppendUvarint(buf, uint64(e.Child.Ver))
		}
	case *SplitPage:
		buf = appendBytes(buf, pg.SepKey)
		buf = binary.AppendUvarint(buf, pg.Right.ID)
		buf = binary.AppendUvarint(buf, uint64(pg.Right.Ver))
	case *SwitchPage:
		buf = binary.AppendUvarint(buf, uint64(pg.Old))
		buf = binary.AppendUvarint(buf, uint64(pg.New))
	default:
		panic(fmt.Sprintf("pagebuf: Encode: unknown page type %T", p))
	}
	return buf
}

// Decode parses a page previously produced by Encode. It returns a plain
// error on malformed input; the tree reports a failed page load,
// including a decode failure, as ErrIO.
func Decode(buf []byte) (Page, error) {
	h, rest, err := parseHeader(buf)
	if err != nil {
		return nil, err
	}
	switch h.Kind {
	case KindData:
		return decodeDataPage(h, rest)
	case KindIndex:
		return decodeIndexPage(h, rest)
	case KindSplit:
		return decodeSplitPage(h, rest)
	case KindSwitch:
		return decodeSwitchPage(h, rest)
	default:
		return nil, fmt.Errorf("pagebuf: decode: unknown kind %d", h.Kind)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func readBytes(buf []byte) (out, rest []byte, err error) {
	n, k := binary.Uvarint(buf)
	if k <= 0 {
		return nil, nil, fmt.Errorf("pagebuf: decode: bad length varint")
	}
	buf = buf[k:]
	if uint64(len(buf)) < n {
		return nil, nil, fmt.Errorf("pagebuf: decode: truncated buffer")
	}
	if n == 0 {
		return nil, buf, nil
	}
	out = make([]byte, n)
	copy(out, buf[:n])
	return out, buf[n:], nil
}

func readUvarint(buf []byte) (uint64, []byte, error) {
	n, k := binary.Uvarint(buf)
	if k <= 0 {
		return 0, nil, fmt.Errorf("pagebuf: decode: bad varint")
	}
	return n, buf[k:], nil
}

func appendHeader(buf []byte, h *Header) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], h.Version)
	buf = append(buf, tmp[:]...)
	buf = append(buf, h.Len)
	buf = binary.AppendUvarint(buf, uint64(h.Next))
	buf = append(buf, byte(h.Kind))
	buf = append(buf, boolByte(h.Leaf))
	buf = append(buf, boolByte(h.Locked))
	return buf
}

func parseHeader(buf []byte) (Header, []byte, error) {
	var h Header
	if len(buf) < 5 {
		return h, nil, fmt.Errorf("pagebuf: decode: truncated header")
	}
	h.Version = binary.BigEndian.Uint32(buf[:4])
	h.Len = buf[4]
	rest := buf[5:]
	next, rest, err := readUvarint(rest)
	if err != nil {
		return h, nil, err
	}
	h.Next = PageAddr(next)
	if len(rest) < 3 {
		return h, nil, fmt.Errorf("pagebuf: decode: truncated header tail")
	}
	h.Kind = Kind(rest[0])
	h.Leaf = rest[1] != 0
	h.Locked = rest[2] != 0
	return h, rest[3:], nil
}

func decodeDataPage(h Header, buf []byte) (*DataPage, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	entries := make([]DataEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		var e DataEntry
		e.Key.Raw, buf, err = readBytes(buf)
		if err != nil {
			return nil, err
		}
		e.Key.LSN, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		if len(buf) < 1 {
			return nil, fmt.Errorf("pagebuf: decode: truncated tombstone flag")
		}
		e.Val.Tombstone = buf[0] != 0
		buf = buf[1:]
		e.Val.Bytes, buf, err = readBytes(buf)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return &DataPage{Hdr: h, Entries: entries}, nil
}

func decodeIndexPage(h Header, buf []byte) (*IndexPage, error) {
	n, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	entries := make([]IndexEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		var e IndexEntry
		e.Sep, buf, err = readBytes(buf)
		if err != nil {
			return nil, err
		}
		e.Child.ID, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		var ver uint64
		ver, buf, err = readUvarint(buf)
		if err != nil {
			return nil, err
		}
		e.Child.Ver = uint32(ver)
		entries = append(entries, e)
	}
	return &IndexPage{Hdr: h, Entries: entries}, nil
}

func decodeSplitPage(h Header, buf []byte) (*SplitPage, error) {
	sep, buf, err := readBytes(buf)
	if err != nil {
		return nil, err
	}
	id, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	ver, _, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	return &SplitPage{Hdr: h, SepKey: sep, Right: IndexPtr{ID: id, Ver: uint32(ver)}}, nil
}

func decodeSwitchPage(h Header, buf []byte) (*SwitchPage, error) {
	oldA, buf, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	newA, _, err := readUvarint(buf)
	if err != nil {
		return nil, err
	}
	return &SwitchPage{Hdr: h, Old: PageAddr(oldA), New: PageAddr(newA)}, nil
}
