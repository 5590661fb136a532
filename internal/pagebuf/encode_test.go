package pagebuf

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeDataPage(t *testing.T) {
	p := &DataPage{
		Hdr: Header{Version: 3, Len: 2, Next: DiskAddr(7), Kind: KindData, Leaf: true},
		Entries: []DataEntry{
			{Key: Key{Raw: []byte("a"), LSN: 10}, Val: Value{Bytes: []byte("va")}},
			{Key: Key{Raw: []byte("b"), LSN: 11}, Val: Value{Tombstone: true}},
		},
	}

	buf := Encode(p)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	dp, ok := got.(*DataPage)
	if !ok {
		t.Fatalf("Decode returned %T, want *DataPage", got)
	}
	if dp.Hdr != p.Hdr {
		t.Fatalf("Hdr = %+v, want %+v", dp.Hdr, p.Hdr)
	}
	if !reflect.DeepEqual(dp.Entries, p.Entries) {
		t.Fatalf("Entries = %+v, want %+v", dp.Entries, p.Entries)
	}
}

func TestEncodeDecodeIndexPage(t *testing.T) {
	p := &IndexPage{
		Hdr: Header{Version: 1, Len: 1, Kind: KindIndex},
		Entries: []IndexEntry{
			{Sep: []byte("m"), Child: IndexPtr{ID: 5, Ver: 2}},
			{Sep: []byte("z"), Child: NullIndex},
		},
	}
	buf := Encode(p)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ip, ok := got.(*IndexPage)
	if !ok {
		t.Fatalf("Decode returned %T, want *IndexPage", got)
	}
	if !reflect.DeepEqual(ip.Entries, p.Entries) {
		t.Fatalf("Entries = %+v, want %+v", ip.Entries, p.Entries)
	}
}

func TestEncodeDecodeSplitPage(t *testing.T) {
	p := &SplitPage{
		Hdr:    Header{Version: 4, Kind: KindSplit},
		SepKey: []byte("mid"),
		Right:  IndexPtr{ID: 9, Ver: 1},
	}
	buf := Encode(p)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sp, ok := got.(*SplitPage)
	if !ok {
		t.Fatalf("Decode returned %T, want *SplitPage", got)
	}
	if string(sp.SepKey) != "mid" || sp.Right != p.Right {
		t.Fatalf("got %+v, want %+v", sp, p)
	}
}

func TestEncodeDecodeSwitchPage(t *testing.T) {
	p := &SwitchPage{
		Hdr: Header{Version: 1, Kind: KindSwitch},
		Old: DiskAddr(3),
		New: DiskAddr(9),
	}
	buf := Encode(p)
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	sp, ok := got.(*SwitchPage)
	if !ok {
		t.Fatalf("Decode returned %T, want *SwitchPage", got)
	}
	if sp.Old != p.Old || sp.New != p.New {
		t.Fatalf("got %+v, want %+v", sp, p)
	}
}

func TestDecodeTruncatedBufferErrors(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("Decode(truncated) = nil error, want non-nil")
	}
}

func TestKeyCompareOrdering(t *testing.T) {
	cases := []struct {
		a, b Key
		want int
	}{
		{Key{Raw: []byte("a"), LSN: 1}, Key{Raw: []byte("b"), LSN: 1}, -1},
		{Key{Raw: []byte("b"), LSN: 1}, Key{Raw: []byte("a"), LSN: 1}, 1},
		{Key{Raw: []byte("a"), LSN: 5}, Key{Raw: []byte("a"), LSN: 1}, -1}, // newer LSN sorts first
		{Key{Raw: []byte("a"), LSN: 1}, Key{Raw: []byte("a"), LSN: 5}, 1},
		{Key{Raw: []byte("a"), LSN: 1}, Key{Raw: []byte("a"), LSN: 1}, 0},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); sign(got) != sign(c.want) {
			t.Errorf("Compare(%+v, %+v) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestPageAddrTagging(t *testing.T) {
	if !NullAddr.IsNull() {
		t.Fatal("NullAddr.IsNull() = false, want true")
	}
	d := DiskAddr(123)
	if !d.IsDisk() || d.IsMem() || d.IsNull() {
		t.Fatalf("DiskAddr(123) flags = (disk=%v mem=%v null=%v), want (true,false,false)", d.IsDisk(), d.IsMem(), d.IsNull())
	}
	if d.DiskOffset() != 123 {
		t.Fatalf("DiskOffset() = %d, want 123", d.DiskOffset())
	}
}
