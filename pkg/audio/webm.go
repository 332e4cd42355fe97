package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Matroska/WebM element IDs relevant to an Opus audio stream.
const (
	idEBML        = 0x1A45DFA3
	idSegment     = 0x18538067
	idInfo        = 0x1549A966
	idTracks      = 0x1654AE6B
	idTrackEntry  = 0xAE
	idTrackNumber = 0xD7
	idCodecID     = 0x86
	idCluster     = 0x1F43B675
	idTimecode    = 0xE7
	idSimpleBlock = 0xA3
	idBlockGroup  = 0xA0
	idBlock       = 0xA1
)

// ErrNotContainer reports that the byte stream does not begin with an EBML
// header. The stream decoder uses it to trigger a resync probe.
var ErrNotContainer = errors.New("audio: stream does not begin with an EBML header")

// errTruncated is returned internally when an element extends past the end of
// the accumulated bytes. It is not surfaced to callers: a truncated tail is
// the normal state of an incremental stream.
var errTruncated = errors.New("truncated element")

// ebmlMagic is the first four bytes of every EBML document.
var ebmlMagic = []byte{0x1A, 0x45, 0xDF, 0xA3}

// readElementID reads an EBML element ID at pos. IDs are 1-4 byte variable
// length integers and keep their length-marker bits.
func readElementID(data []byte, pos int) (id uint32, n int, err error) {
	if pos >= len(data) {
		return 0, 0, errTruncated
	}
	b := data[pos]
	switch {
	case b&0x80 != 0:
		n = 1
	case b&0x40 != 0:
		n = 2
	case b&0x20 != 0:
		n = 3
	case b&0x10 != 0:
		n = 4
	default:
		return 0, 0, fmt.Errorf("audio: invalid EBML ID byte 0x%02X", b)
	}
	if pos+n > len(data) {
		return 0, 0, errTruncated
	}
	for i := 0; i < n; i++ {
		id = id<<8 | uint32(data[pos+i])
	}
	return id, n, nil
}

// readElementSize reads an EBML size at pos. Sizes are 1-8 byte variable
// length integers with the length-marker bit stripped. An all-ones value
// means "unknown size", which streaming muxers use for Segment and Cluster.
func readElementSize(data []byte, pos int) (size int64, n int, unknown bool, err error) {
	if pos >= len(data) {
		return 0, 0, false, errTruncated
	}
	b := data[pos]
	mask := byte(0x80)
	for n = 1; n <= 8; n++ {
		if b&mask != 0 {
			break
		}
		mask >>= 1
	}
	if n > 8 {
		return 0, 0, false, fmt.Errorf("audio: invalid EBML size byte 0x%02X", b)
	}
	if pos+n > len(data) {
		return 0, 0, false, errTruncated
	}
	size = int64(b &^ mask)
	allOnes := b&^mask == mask-1
	for i := 1; i < n; i++ {
		size = size<<8 | int64(data[pos+i])
		if data[pos+i] != 0xFF {
			allOnes = false
		}
	}
	return size, n, allOnes, nil
}

// isMasterElement reports whether the demuxer descends into the element's
// body rather than treating it as opaque.
func isMasterElement(id uint32) bool {
	switch id {
	case idSegment, idTracks, idTrackEntry, idCluster, idBlockGroup:
		return true
	}
	return false
}

// ExtractOpusPackets re-parses a WebM byte prefix from the beginning and
// returns every complete Opus packet found, in stream order. A truncated
// trailing element is expected for an in-flight stream and is silently
// skipped; it will be complete on a later pass. Structural corruption is
// reported as an error so the caller can resynchronise.
func ExtractOpusPackets(data []byte) ([][]byte, error) {
	if len(data) < len(ebmlMagic) {
		return nil, nil
	}
	if binary.BigEndian.Uint32(data[:4]) != idEBML {
		return nil, ErrNotContainer
	}

	var packets [][]byte
	if err := walkElements(data, 0, len(data), &packets); err != nil {
		return packets, err
	}
	return packets, nil
}

// walkElements iterates the sibling elements in data[pos:end], descending
// into master elements and collecting block payloads.
func walkElements(data []byte, pos, end int, packets *[][]byte) error {
	for pos < end {
		id, idLen, err := readElementID(data, pos)
		if errors.Is(err, errTruncated) {
			return nil
		}
		if err != nil {
			return err
		}
		size, sizeLen, unknown, err := readElementSize(data, pos+idLen)
		if errors.Is(err, errTruncated) {
			return nil
		}
		if err != nil {
			return err
		}

		body := pos + idLen + sizeLen
		bodyEnd := end
		if !unknown {
			if size > int64(end-body) {
				// The element is still arriving. Master elements are walked as
				// far as they go; leaf elements wait for the next pass.
				if isMasterElement(id) {
					return walkElements(data, body, end, packets)
				}
				return nil
			}
			bodyEnd = body + int(size)
		}

		switch {
		case isMasterElement(id):
			if err := walkElements(data, body, bodyEnd, packets); err != nil {
				return err
			}
		case id == idSimpleBlock || id == idBlock:
			if frame, ok := blockFrame(data[body:bodyEnd]); ok {
				*packets = append(*packets, frame)
			}
		}

		pos = bodyEnd
	}
	return nil
}

// blockFrame extracts the codec frame from a SimpleBlock or Block body:
// a track-number vint, a 2-byte relative timecode, a flags byte, then the
// frame data. Laced blocks are not produced by browser Opus muxers and are
// skipped.
func blockFrame(body []byte) ([]byte, bool) {
	_, n, _, err := readElementSize(body, 0) // track number shares the vint encoding
	if err != nil {
		return nil, false
	}
	header := n + 3
	if len(body) <= header {
		return nil, false
	}
	flags := body[header-1]
	if flags&0x06 != 0 { // lacing
		return nil, false
	}
	return body[header:], true
}
