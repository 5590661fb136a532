package badgerstore

import (
	"context"
	"testing"

	"github.com/Voskan/bwtreekv/internal/pagebuf"
)

func TestStorePageThenLoadPage(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	p := &pagebuf.DataPage{
		Hdr: pagebuf.Header{Version: 1, Kind: pagebuf.KindData, Leaf: true},
		Entries: []pagebuf.DataEntry{
			{Key: pagebuf.Key{Raw: []byte("k1"), LSN: 1}, Val: pagebuf.Value{Bytes: []byte("v1")}},
		},
	}
	if err := s.StorePage(7, p); err != nil {
		t.Fatalf("StorePage() error = %v", err)
	}

	got, err := s.LoadPage(context.Background(), 7)
	if err != nil {
		t.Fatalf("LoadPage() error = %v", err)
	}
	dp, ok := got.(*pagebuf.DataPage)
	if !ok {
		t.Fatalf("LoadPage() returned %T, want *pagebuf.DataPage", got)
	}
	if len(dp.Entries) != 1 || string(dp.Entries[0].Key.Raw) != "k1" {
		t.Fatalf("LoadPage() entries = %+v, want one entry for k1", dp.Entries)
	}
}

func TestMinLSNPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	s.SetMinLSN(42)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	defer s2.Close()

	if got := s2.MinLSN(); got != 42 {
		t.Fatalf("MinLSN() after reopen = %d, want 42", got)
	}
}

func TestPageInfoMissingKey(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if _, ok := s.PageInfo(999); ok {
		t.Fatalf("PageInfo() on missing key: ok = true, want false")
	}
}
