package resolver

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/jattle/pprofgo/internal/procmaps"
	"github.com/jattle/pprofgo/internal/symtab"
)

const (
	selfExePath  = "/proc/self/exe"
	selfMapsPath = "/proc/self/maps"
)

// loadSymtab is indirected so tests can observe/count load calls
// without touching the filesystem-backed default.
var loadSymtab = symtab.Load

// SymbolInfo is a resolved (or attempted) lookup result.
type SymbolInfo struct {
	Addr uint64
	Name string
}

// Resolver resolves addresses against one program's static symbol
// table plus the symbol tables of whichever shared libraries that
// program has mapped into its address space. Safe for concurrent use.
type Resolver struct {
	programPath string
	selfTable   symtab.Table // main program's static symbols, loaded once at construction

	mu        sync.RWMutex
	dynTables map[string]symtab.Table // per-library cache, keyed by path
	maps      *procmaps.Index

	selfAnalysis bool // true if resolving against this process's own address space
}

// New builds a Resolver for offline analysis of programPath, indexing
// mapsText as the initial (and, since selfAnalysis is false, only)
// view of the program's address space.
func New(programPath, mapsText string) (*Resolver, *Error) {
	table, terr := loadSymtab(programPath)
	if terr != nil {
		return nil, wrapSymtabErr(terr)
	}
	idx, merr := procmaps.Parse(mapsText)
	if merr != nil {
		return nil, &Error{Kind: KindMapsReadFailed, Err: errors.Wrap(merr, "parse maps text")}
	}
	return &Resolver{
		programPath: programPath,
		selfTable:   table,
		dynTables:   make(map[string]symtab.Table),
		maps:        idx,
	}, nil
}

// NewSelfAnalysis builds a Resolver against the running process's own
// executable and address space. Its static symbol table is loaded
// once here and never reloaded, but its maps index is refreshed on
// every SearchSymbols call so newly loaded libraries become visible.
func NewSelfAnalysis() (*Resolver, *Error) {
	table, terr := loadSymtab(selfExePath)
	if terr != nil {
		return nil, wrapSymtabErr(terr)
	}
	mapsText, err := os.ReadFile(selfMapsPath)
	if err != nil {
		return nil, &Error{Kind: KindMapsReadFailed, Err: errors.Wrap(err, "read self maps")}
	}
	idx, merr := procmaps.Parse(string(mapsText))
	if merr != nil {
		return nil, &Error{Kind: KindMapsReadFailed, Err: errors.Wrap(merr, "parse self maps")}
	}
	return &Resolver{
		programPath:  selfExePath,
		selfTable:    table,
		dynTables:    make(map[string]symtab.Table),
		maps:         idx,
		selfAnalysis: true,
	}, nil
}

func wrapSymtabErr(e *symtab.Error) *Error {
	switch e.Kind {
	case symtab.KindOpenFileFailed:
		return &Error{Kind: KindOpenFileFailed, Err: e}
	case symtab.KindCheckFormatErr:
		return &Error{Kind: KindCheckFormatErr, Err: e}
	case symtab.KindNoSymbols:
		return &Error{Kind: KindNoSymbols, Err: e}
	default:
		return &Error{Kind: KindReadSymbolsErr, Err: e}
	}
}

// SearchSymbol resolves a single address: dynamic libraries take
// precedence over the static table, since an address that falls
// inside a mapped library's range never belongs to the main program.
func (r *Resolver) SearchSymbol(addr uint64) (SymbolInfo, *Error) {
	if len(r.selfTable) == 0 {
		return SymbolInfo{}, ErrKind(KindNoSymbols)
	}

	r.mu.RLock()
	lib, ok := r.maps.FindMatchedLib(addr)
	r.mu.RUnlock()

	if ok && lib.Path != "" {
		return r.searchDynamic(*lib, addr)
	}
	return r.searchStatic(addr)
}

func (r *Resolver) searchStatic(addr uint64) (SymbolInfo, *Error) {
	entry, found := r.selfTable.Lookup(addr)
	if !found {
		return SymbolInfo{}, ErrKind(KindSymbolNotFound)
	}
	return SymbolInfo{Addr: addr, Name: entry.Name}, nil
}

func (r *Resolver) searchDynamic(lib procmaps.LibMapping, addr uint64) (SymbolInfo, *Error) {
	table, err := r.getOrCreateDynTable(lib.Path)
	if err != nil {
		return SymbolInfo{}, err
	}
	if len(table) == 0 {
		return SymbolInfo{}, ErrKind(KindNoSymbols)
	}
	if lib.Base%uint64(unix.Getpagesize()) != 0 {
		logrus.WithField("lib", lib.Path).Warn("resolver: library load base is not page-aligned")
	}
	relAddr := addr - lib.Base
	entry, found := table.Lookup(relAddr)
	if !found {
		return SymbolInfo{}, ErrKind(KindSymbolNotFound)
	}
	return SymbolInfo{Addr: addr, Name: entry.Name}, nil
}

// getOrCreateDynTable loads and caches path's symbol table, using a
// double-checked lock so concurrent lookups against the same library
// only pay the load cost once.
func (r *Resolver) getOrCreateDynTable(path string) (symtab.Table, *Error) {
	r.mu.RLock()
	if table, ok := r.dynTables[path]; ok {
		r.mu.RUnlock()
		return table, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if table, ok := r.dynTables[path]; ok {
		return table, nil
	}

	table, err := loadSymtab(path)
	if err != nil {
		logrus.WithError(err).WithField("lib", path).Debug("resolver: dynamic symbol load failed")
		return nil, wrapSymtabErr(err)
	}
	r.dynTables[path] = table
	return table, nil
}

// SearchSymbols resolves a batch of addresses in one call. In
// self-analysis mode the maps index is reparsed under an exclusive
// lock first, so libraries mapped since construction become visible;
// otherwise the previously parsed maps index is used as-is. Every
// requested address is present in the result, even ones that failed
// to resolve (mapped to a SymbolInfo carrying the address and an
// empty Name).
func (r *Resolver) SearchSymbols(addrs []uint64) (map[uint64]SymbolInfo, *Error) {
	if len(addrs) == 0 {
		return nil, ErrKind(KindNoAddr)
	}

	if r.selfAnalysis {
		mapsText, err := os.ReadFile(selfMapsPath)
		if err != nil {
			return nil, &Error{Kind: KindMapsReadFailed, Err: errors.Wrap(err, "reread self maps")}
		}
		idx, merr := procmaps.Parse(string(mapsText))
		if merr != nil {
			return nil, &Error{Kind: KindMapsReadFailed, Err: errors.Wrap(merr, "reparse self maps")}
		}
		r.mu.Lock()
		r.maps = idx
		r.mu.Unlock()
	}

	out := make(map[uint64]SymbolInfo, len(addrs))
	for _, addr := range addrs {
		info, err := r.SearchSymbol(addr)
		if err != nil {
			out[addr] = SymbolInfo{Addr: addr}
			continue
		}
		out[addr] = info
	}
	return out, nil
}
