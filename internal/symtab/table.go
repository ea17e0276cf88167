package symtab

import (
	"debug/elf"
	"sort"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
)

// Entry is one resolved symbol: its start address and demangled name.
type Entry struct {
	Addr uint64
	Name string
}

// Table is a symbol table sorted by ascending address, ready for
// nearest-address lookup.
type Table []Entry

// openChecked opens path as an ELF object and rejects anything that
// isn't a recognized object kind (executable, shared object,
// relocatable, or core), mirroring bfd_check_format(bfd_object) — an
// ELF file whose header parses but whose e_type is unrecognized
// (kind ET_NONE, or one BFD would refuse as not a loadable object).
func openChecked(path string) (*elf.File, *Error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindOpenFileFailed, Err: errors.Wrapf(err, "open %s", path)}
	}
	switch f.Type {
	case elf.ET_EXEC, elf.ET_DYN, elf.ET_REL, elf.ET_CORE:
	default:
		f.Close()
		return nil, &Error{Kind: KindCheckFormatErr, Err: errors.Errorf("%s: unrecognized ELF type %s", path, f.Type)}
	}
	return f, nil
}

// Load reads path's symbol table, preferring the static (.symtab)
// table and falling back to the dynamic (.dynsym) table when the
// static table carries no function symbols (a stripped binary). Names
// are demangled on a best-effort basis; a name that fails to demangle
// is kept mangled rather than dropped.
func Load(path string) (Table, *Error) {
	f, err := openChecked(path)
	if err != nil {
		return nil, err
	}
	tbl, serr := loadSymbols(f, f.Symbols)
	f.Close()
	if serr == nil && len(tbl) > 0 {
		return tbl, nil
	}
	return LoadDynamicOnly(path)
}

// LoadDynamicOnly reads only path's dynamic symbol table, used when a
// caller already knows it wants the .dynsym table specifically.
func LoadDynamicOnly(path string) (Table, *Error) {
	f, err := openChecked(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tbl, derr := loadSymbols(f, f.DynamicSymbols)
	if derr != nil {
		return nil, derr
	}
	if len(tbl) == 0 {
		return nil, ErrKind(KindNoSymbols)
	}
	return tbl, nil
}

func loadSymbols(f *elf.File, get func() ([]elf.Symbol, error)) (Table, *Error) {
	syms, err := get()
	if err != nil {
		if err == elf.ErrNoSymbols {
			return nil, ErrKind(KindNoSymbols)
		}
		return nil, &Error{Kind: KindReadSymbolsErr, Err: errors.Wrap(err, "read symbols")}
	}
	tbl := make(Table, 0, len(syms))
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC {
			continue
		}
		if s.Value == 0 || s.Name == "" {
			continue
		}
		tbl = append(tbl, Entry{Addr: s.Value, Name: demangleName(s.Name)})
	}
	sort.Slice(tbl, func(i, j int) bool { return tbl[i].Addr < tbl[j].Addr })
	return tbl, nil
}

func demangleName(mangled string) string {
	name, err := demangle.ToString(mangled, demangle.NoRust)
	if err != nil {
		return mangled
	}
	return name
}

// Lookup returns the entry with the largest address <= addr, i.e. the
// nearest preceding symbol, per the format's nearest-symbol
// resolution rule.
func (t Table) Lookup(addr uint64) (Entry, bool) {
	if len(t) == 0 {
		return Entry{}, false
	}
	i := sort.Search(len(t), func(i int) bool { return t[i].Addr > addr })
	if i == 0 {
		return Entry{}, false
	}
	return t[i-1], true
}
