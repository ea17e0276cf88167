package resolver

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jattle/pprofgo/internal/procmaps"
	"github.com/jattle/pprofgo/internal/symtab"
)

func fakeTable() symtab.Table {
	return symtab.Table{
		{Addr: 0x1000, Name: "foo"},
		{Addr: 0x2000, Name: "bar"},
		{Addr: 0x3000, Name: "baz"},
	}
}

func newTestResolver(t *testing.T, mapsText string) *Resolver {
	t.Helper()
	idx, err := procmaps.Parse(mapsText)
	require.Nil(t, err)
	return &Resolver{
		selfTable: fakeTable(),
		dynTables: make(map[string]symtab.Table),
		maps:      idx,
	}
}

func TestSearchSymbolStaticFallback(t *testing.T) {
	r := newTestResolver(t, "build=/x\n400000-500000 r-xp 00000000 08:01 1 /opt/other.so\n")
	info, err := r.SearchSymbol(0x1500)
	require.Nil(t, err)
	require.Equal(t, "foo", info.Name)
}

func TestSearchSymbolNotFoundBelowFirstEntry(t *testing.T) {
	r := newTestResolver(t, "build=/x\n400000-500000 r-xp 00000000 08:01 1 /opt/other.so\n")
	_, err := r.SearchSymbol(0x0500)
	require.NotNil(t, err)
	require.Equal(t, KindSymbolNotFound, err.Kind)
}

func TestSearchSymbolDynamicPrecedesStatic(t *testing.T) {
	restore := swapLoadSymtab(func(path string) (symtab.Table, *symtab.Error) {
		return symtab.Table{{Addr: 0x10, Name: "dyn_fn"}}, nil
	})
	defer restore()

	r := newTestResolver(t, "build=/x\n7f0000-7f1000 r-xp 00000000 08:01 1 /opt/libdyn.so\n")
	// address 0x7f0010 falls inside the mapped library; base is
	// 0x7f0000 so it relocates to offset 0x10 in the dynamic table.
	info, err := r.SearchSymbol(0x7f0010)
	require.Nil(t, err)
	require.Equal(t, "dyn_fn", info.Name)
}

func TestGetOrCreateDynTableLoadsOnce(t *testing.T) {
	var loadCount int64
	restore := swapLoadSymtab(func(path string) (symtab.Table, *symtab.Error) {
		atomic.AddInt64(&loadCount, 1)
		return symtab.Table{{Addr: 0x10, Name: "dyn_fn"}}, nil
	})
	defer restore()

	r := newTestResolver(t, "build=/x\n7f0000-7f1000 r-xp 00000000 08:01 1 /opt/libdyn.so\n")

	const goroutines = 32
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			_, err := r.SearchSymbol(0x7f0010)
			require.Nil(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&loadCount))
}

func TestSearchSymbolsRejectsEmptyBatch(t *testing.T) {
	r := newTestResolver(t, "build=/x\n400000-500000 r-xp 00000000 08:01 1 /opt/other.so\n")
	_, err := r.SearchSymbols(nil)
	require.NotNil(t, err)
	require.Equal(t, KindNoAddr, err.Kind)
}

func TestSearchSymbolsPopulatesEveryAddress(t *testing.T) {
	r := newTestResolver(t, "build=/x\n400000-500000 r-xp 00000000 08:01 1 /opt/other.so\n")
	results, err := r.SearchSymbols([]uint64{0x1500, 0x0500})
	require.Nil(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "foo", results[0x1500].Name)
	require.Equal(t, "", results[0x0500].Name)
}

func swapLoadSymtab(fn func(string) (symtab.Table, *symtab.Error)) func() {
	orig := loadSymtab
	loadSymtab = fn
	return func() { loadSymtab = orig }
}
