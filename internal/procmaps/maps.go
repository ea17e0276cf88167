package procmaps

import (
	"bufio"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jattle/pprofgo/internal/slotio"
)

const buildLinePrefix = "build="
const buildPlaceholder = "$build"

// Item is one memory-map record: `<start>-<end> <perms> <offset>
// <dev_major>:<dev_minor> <inode> <path>`.
type Item struct {
	Start, End         uint64
	Perms              string
	Offset             uint64
	DevMajor, DevMinor int
	Inode              int
	Path               string
}

// LibMapping aggregates all Items sharing one inode into a single
// logical dynamic library.
type LibMapping struct {
	Inode      int
	Path       string
	Base       uint64
	UpperBound uint64
	Items      []Item
}

// Index is the parsed maps block: the raw (post-$build-substitution)
// mapping lines plus the dynamic-library address-range index built
// from them.
type Index struct {
	LowerBound uint64
	UpperBound uint64
	Libs       []LibMapping
	RawLines   []string
}

var mappingLineRE = regexp.MustCompile(
	`^([0-9a-fA-F]+)-([0-9a-fA-F]+)\s+(\S{4})\s+([0-9a-fA-F]+)\s+([0-9a-fA-F]+):([0-9a-fA-F]+)\s+(\d+)\s+(\S+)`)

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}

// substituteBuild replaces every occurrence of $build not followed by
// a word character with target, scanning left to right and restarting
// from the beginning after each replacement (matching the reference
// implementation's ReplaceBuildSpecifier quirk exactly).
func substituteBuild(line, target string) string {
	pos := strings.Index(line, buildPlaceholder)
	for pos != -1 {
		next := pos + len(buildPlaceholder)
		if next == len(line) || !isWordChar(line[next]) {
			line = line[:pos] + target + line[next:]
			pos = strings.Index(line, buildPlaceholder)
		} else if rel := strings.Index(line[next:], buildPlaceholder); rel == -1 {
			pos = -1
		} else {
			pos = next + rel
		}
	}
	return line
}

func parseMappingLine(line string) (Item, bool) {
	m := mappingLineRE.FindStringSubmatch(line)
	if m == nil {
		return Item{}, false
	}
	start, err1 := strconv.ParseUint(m[1], 16, 64)
	end, err2 := strconv.ParseUint(m[2], 16, 64)
	offset, err3 := strconv.ParseUint(m[4], 16, 64)
	major, err4 := strconv.ParseInt(m[5], 16, 32)
	minor, err5 := strconv.ParseInt(m[6], 16, 32)
	inode, err6 := strconv.Atoi(m[7])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil || err6 != nil {
		return Item{}, false
	}
	return Item{
		Start:    start,
		End:      end,
		Perms:    m[3],
		Offset:   offset,
		DevMajor: int(major),
		DevMinor: int(minor),
		Inode:    inode,
		Path:     m[8],
	}, true
}

func isDynamicLibPath(path string) bool {
	return strings.HasPrefix(path, "/") && strings.Contains(path, ".so")
}

// Parse parses the ASCII maps block, expanding $build against the
// most recently seen build= line and indexing dynamic-library
// mappings by inode. It fails with slotio.KindEmptyMapsText if the
// text contains no maps-block content at all.
func Parse(text string) (*Index, *slotio.Error) {
	idx := &Index{LowerBound: math.MaxUint64}
	libIndexByInode := map[int]int{}
	var build string

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, buildLinePrefix) {
			build = line[len(buildLinePrefix):]
			continue
		}
		line = substituteBuild(line, build)
		idx.RawLines = append(idx.RawLines, line)

		item, ok := parseMappingLine(line)
		if !ok || !isDynamicLibPath(item.Path) {
			continue
		}
		if item.Start < idx.LowerBound {
			idx.LowerBound = item.Start
		}
		if item.End > idx.UpperBound {
			idx.UpperBound = item.End
		}
		if i, ok := libIndexByInode[item.Inode]; ok {
			lib := &idx.Libs[i]
			if item.Start < lib.Base {
				lib.Base = item.Start
			}
			if item.End > lib.UpperBound {
				lib.UpperBound = item.End
			}
			lib.Items = append(lib.Items, item)
		} else {
			idx.Libs = append(idx.Libs, LibMapping{
				Inode:      item.Inode,
				Path:       item.Path,
				Base:       item.Start,
				UpperBound: item.End,
				Items:      []Item{item},
			})
			libIndexByInode[item.Inode] = len(idx.Libs) - 1
		}
	}

	if len(idx.RawLines) == 0 {
		return nil, ErrEmptyMapsText
	}
	return idx, nil
}

// FindMatchedLib returns the library whose mappings cover addr, per
// the union-bounds-then-per-lib-then-per-item scan described by the
// format's address classification rule.
func (idx *Index) FindMatchedLib(addr uint64) (*LibMapping, bool) {
	if addr < idx.LowerBound || addr >= idx.UpperBound {
		return nil, false
	}
	for i := range idx.Libs {
		lib := &idx.Libs[i]
		if addr < lib.Base || addr >= lib.UpperBound {
			continue
		}
		for _, item := range lib.Items {
			if addr >= item.Start && addr < item.End {
				return lib, true
			}
		}
	}
	return nil, false
}

// GetLibPaths returns the distinct dynamic-library paths discovered
// while indexing, or nil if none were found.
func (idx *Index) GetLibPaths() []string {
	if len(idx.Libs) == 0 {
		return nil
	}
	paths := make([]string, 0, len(idx.Libs))
	for _, lib := range idx.Libs {
		paths = append(paths, lib.Path)
	}
	return paths
}
