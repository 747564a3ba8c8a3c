package xarfmt

import (
	"bytes"
	"strconv"
)

// dataRef is a (offset, size) pair into the XAR heap, relative to
// heapStart, as found in a <file>'s <data> child.
type dataRef struct {
	offset int64
	size   int64
}

// tocEvent is one step of the (kind, name, data) event sequence the TOC
// walker emits: an open event per <file> and a close event per </file>,
// so depth follows from the nesting of the events. The walker reports
// events through a callback, so a real XML parser could be substituted
// later without touching heap extraction.
type tocEvent struct {
	open bool
	name string
	data *dataRef
}

var (
	tagFileOpen  = []byte("<file")
	tagFileClose = []byte("</file>")
	tagName      = []byte("<name>")
	tagData      = []byte("<data>")
	tagOffset    = []byte("<offset>")
	tagSize      = []byte("<size>")
)

// walkTOC performs the positional byte scan spec.md §4.1 describes:
// only <file, </file>, the first <name> and the first <data><offset>
// <size> pair before any nested <file are ever inspected. Malformed XML
// is handled by advancing to the next recognizable tag rather than by
// full parsing; the scan stops at EOF.
func walkTOC(data []byte, visit func(tocEvent) error) error {
	pos := 0
	for pos < len(data) {
		openIdx := indexFrom(data, pos, tagFileOpen)
		closeIdx := indexFrom(data, pos, tagFileClose)

		switch {
		case openIdx >= 0 && (closeIdx < 0 || openIdx < closeIdx):
			ev, next, err := parseFileOpen(data, openIdx, closeIdx)
			if err != nil {
				return err
			}
			if err := visit(ev); err != nil {
				return err
			}
			pos = next
		case closeIdx >= 0:
			if err := visit(tocEvent{open: false}); err != nil {
				return err
			}
			pos = closeIdx + len(tagFileClose)
		default:
			return nil
		}
	}
	return nil
}

func parseFileOpen(data []byte, openIdx, closeIdx int) (tocEvent, int, error) {
	cursor := openIdx + len(tagFileOpen)

	name := ""
	nameEnd := cursor
	if nameStart := indexFrom(data, cursor, tagName); nameStart >= 0 && before(nameStart, closeIdx) {
		nameStart += len(tagName)
		end := indexByteFrom(data, nameStart, '<')
		if end < 0 {
			return tocEvent{}, 0, xarErrorf("unterminated <name> element")
		}
		name = string(data[nameStart:end])
		nameEnd = end
	}

	var dref *dataRef
	dataIdx := indexFrom(data, cursor, tagData)
	innerFileIdx := indexFrom(data, cursor, tagFileOpen)
	if dataIdx >= 0 && before(dataIdx, closeIdx) && (innerFileIdx < 0 || dataIdx < innerFileIdx) {
		ref, err := parseDataRef(data, dataIdx, closeIdx)
		if err != nil {
			return tocEvent{}, 0, err
		}
		dref = ref
	}

	return tocEvent{open: true, name: name, data: dref}, nameEnd, nil
}

func parseDataRef(data []byte, dataIdx, closeIdx int) (*dataRef, error) {
	offIdx := indexFrom(data, dataIdx, tagOffset)
	szIdx := indexFrom(data, dataIdx, tagSize)
	if offIdx < 0 || szIdx < 0 || !before(offIdx, closeIdx) || !before(szIdx, closeIdx) {
		return nil, nil
	}

	offset, err := parseDecimalElement(data, offIdx+len(tagOffset))
	if err != nil {
		return nil, xarErrorf("bad <offset>: %w", err)
	}
	size, err := parseDecimalElement(data, szIdx+len(tagSize))
	if err != nil {
		return nil, xarErrorf("bad <size>: %w", err)
	}
	return &dataRef{offset: offset, size: size}, nil
}

func parseDecimalElement(data []byte, start int) (int64, error) {
	end := indexByteFrom(data, start, '<')
	if end < 0 {
		return 0, xarErrorf("unterminated numeric element")
	}
	return strconv.ParseInt(string(bytes.TrimSpace(data[start:end])), 10, 64)
}

func before(idx, bound int) bool {
	return bound < 0 || idx < bound
}

func indexFrom(data []byte, from int, sep []byte) int {
	if from >= len(data) {
		return -1
	}
	idx := bytes.Index(data[from:], sep)
	if idx < 0 {
		return -1
	}
	return from + idx
}

func indexByteFrom(data []byte, from int, b byte) int {
	if from >= len(data) {
		return -1
	}
	idx := bytes.IndexByte(data[from:], b)
	if idx < 0 {
		return -1
	}
	return from + idx
}
