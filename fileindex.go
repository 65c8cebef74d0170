package merger

import (
	"cmp"
	"errors"
	"io"
	"slices"

	"github.com/attpc/merger/graw"
)

// IndexEntry describes one input file as seen by a FileIndex.
type IndexEntry struct {
	File       *graw.File
	Source     int    // position of the file in the list given to BuildFileIndex
	MinEventID uint32 // smallest event id among the scanned frames
	Frames     int    // number of frames scanned
	Empty      bool   // no frame could be read
}

// FileIndex knows the smallest event id near the start of each input file.
// Because each file is written in event order, that minimum is where the
// file's contribution to the merge begins.
type FileIndex struct {
	entries []IndexEntry
}

// BuildFileIndex scans at most maxFrames frame headers (all of them if
// maxFrames <= 0) at the start of each file, then rewinds it. A file whose
// scan stops on a damaged frame keeps what was found before the damage.
func BuildFileIndex(files []*graw.File, maxFrames int) *FileIndex {
	idx := &FileIndex{entries: make([]IndexEntry, 0, len(files))}
	for i, f := range files {
		idx.entries = append(idx.entries, scanFile(i, f, maxFrames))
	}
	slices.SortStableFunc(idx.entries, func(a, b IndexEntry) int {
		if a.Empty != b.Empty {
			if a.Empty {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.MinEventID, b.MinEventID)
	})
	return idx
}

func scanFile(source int, f *graw.File, maxFrames int) IndexEntry {
	e := IndexEntry{File: f, Source: source, Empty: true}
	f.Rewind()
	defer f.Rewind()
	for maxFrames <= 0 || e.Frames < maxFrames {
		md, err := f.ReadFrameMetadata()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ProblemLogger.Printf("indexing %s stopped after %d frames: %v", f.Name(), e.Frames, err)
			break
		}
		if e.Empty || md.EventID < e.MinEventID {
			e.MinEventID = md.EventID
		}
		e.Empty = false
		e.Frames++
		if err := f.Skip(); err != nil {
			break
		}
	}
	return e
}

// Entries returns the files ordered by their minimum event id, empty files last.
func (idx *FileIndex) Entries() []IndexEntry {
	return idx.entries
}

// Len returns the number of indexed files.
func (idx *FileIndex) Len() int {
	return len(idx.entries)
}

// Min returns the smallest event id of all files, and false if every file is empty.
func (idx *FileIndex) Min() (uint32, bool) {
	if len(idx.entries) == 0 || idx.entries[0].Empty {
		return 0, false
	}
	return idx.entries[0].MinEventID, true
}

// Frontier returns the starting minimum event id of each source, in source
// order, and whether that source has any frames at all.
func (idx *FileIndex) Frontier() (minimums []uint32, active []bool) {
	minimums = make([]uint32, len(idx.entries))
	active = make([]bool, len(idx.entries))
	for _, e := range idx.entries {
		minimums[e.Source] = e.MinEventID
		active[e.Source] = !e.Empty
	}
	return minimums, active
}
