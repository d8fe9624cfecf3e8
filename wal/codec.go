package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Entry framing:
//
//	[CRC32: 4 bytes] [Kind: 1 byte] [TxID: 8 bytes] [Length: 4 bytes] [Payload: Length bytes]
//
// CRC32 (IEEE) covers Kind, TxID, Length and Payload. Begin/Commit/Abort
// entries carry an empty payload. Operation payload:
//
//	[OpKind: 1] [CollLen: 2] [Collection: CollLen] [DocID: 8] [DocLen: 4] [Document: DocLen]
const (
	entryHeaderLen = 13 // Kind + TxID + Length

	// maxEntrySize guards against garbage length fields after corruption.
	maxEntrySize = 64 * 1024 * 1024
)

var (
	// ErrCorrupt marks an entry that failed checksum or structural
	// validation. Replay treats it as the end of the valid log.
	ErrCorrupt = errors.New("corrupt WAL entry")

	// ErrEntryTooLarge is returned when encoding an entry that exceeds the
	// maximum entry size.
	ErrEntryTooLarge = errors.New("WAL entry too large")
)

func operationPayloadLen(op *Operation) (uint32, error) {
	if op == nil {
		return 0, errors.New("operation entry without operation")
	}
	if len(op.Collection) > 0xFFFF {
		return 0, fmt.Errorf("collection name too long: %d bytes", len(op.Collection))
	}
	n := 1 + 2 + len(op.Collection) + 8 + 4 + len(op.Document)
	return uint32(n), nil
}

// encodeEntry appends the framed entry to dst and returns the result.
func encodeEntry(dst []byte, e *Entry) ([]byte, error) {
	var payloadLen uint32
	if e.Kind == EntryOperation {
		n, err := operationPayloadLen(e.Op)
		if err != nil {
			return nil, err
		}
		payloadLen = n
	} else if e.Op != nil {
		return nil, fmt.Errorf("entry kind %d must not carry an operation", e.Kind)
	}

	total := 4 + entryHeaderLen + int(payloadLen)
	if total > maxEntrySize {
		return nil, ErrEntryTooLarge
	}

	start := len(dst)
	dst = append(dst, 0, 0, 0, 0) // CRC placeholder

	var header [entryHeaderLen]byte
	header[0] = byte(e.Kind)
	binary.LittleEndian.PutUint64(header[1:], e.TxID)
	binary.LittleEndian.PutUint32(header[9:], payloadLen)
	dst = append(dst, header[:]...)

	if e.Kind == EntryOperation {
		dst = append(dst, byte(e.Op.Kind))
		var collLen [2]byte
		binary.LittleEndian.PutUint16(collLen[:], uint16(len(e.Op.Collection)))
		dst = append(dst, collLen[:]...)
		dst = append(dst, e.Op.Collection...)
		var docID [8]byte
		binary.LittleEndian.PutUint64(docID[:], e.Op.DocID)
		dst = append(dst, docID[:]...)
		var docLen [4]byte
		binary.LittleEndian.PutUint32(docLen[:], uint32(len(e.Op.Document)))
		dst = append(dst, docLen[:]...)
		dst = append(dst, e.Op.Document...)
	}

	checksum := crc32.ChecksumIEEE(dst[start+4:])
	binary.LittleEndian.PutUint32(dst[start:start+4], checksum)
	return dst, nil
}

// decodeEntry reads one framed entry from r.
//
// A clean end of stream returns io.EOF. Anything that looks like a torn or
// corrupted entry (short read mid-entry, checksum mismatch, invalid kind,
// oversized length) returns an error wrapping ErrCorrupt.
func decodeEntry(r io.Reader) (*Entry, error) {
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated checksum: %v", ErrCorrupt, err)
	}
	checksum := binary.LittleEndian.Uint32(crcBuf[:])

	var header [entryHeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated header: %v", ErrCorrupt, err)
	}

	kind := EntryKind(header[0])
	txID := binary.LittleEndian.Uint64(header[1:])
	payloadLen := binary.LittleEndian.Uint32(header[9:])

	if int64(payloadLen) > maxEntrySize {
		return nil, fmt.Errorf("%w: payload length %d exceeds limit", ErrCorrupt, payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrCorrupt, err)
	}

	crc := crc32.NewIEEE()
	crc.Write(header[:])
	crc.Write(payload)
	if crc.Sum32() != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	e := &Entry{Kind: kind, TxID: txID}
	switch kind {
	case EntryBegin, EntryCommit, EntryAbort:
		if payloadLen != 0 {
			return nil, fmt.Errorf("%w: unexpected payload on entry kind %d", ErrCorrupt, kind)
		}
	case EntryOperation:
		op, err := parseOperation(payload)
		if err != nil {
			return nil, err
		}
		e.Op = op
	default:
		return nil, fmt.Errorf("%w: unknown entry kind %d", ErrCorrupt, kind)
	}

	return e, nil
}

func parseOperation(payload []byte) (*Operation, error) {
	if len(payload) < 1+2 {
		return nil, fmt.Errorf("%w: short operation payload", ErrCorrupt)
	}
	kind := OpKind(payload[0])
	if kind != OpInsert && kind != OpUpdate && kind != OpDelete {
		return nil, fmt.Errorf("%w: unknown operation kind %d", ErrCorrupt, kind)
	}
	offset := 1

	collLen := int(binary.LittleEndian.Uint16(payload[offset:]))
	offset += 2
	if len(payload) < offset+collLen+8+4 {
		return nil, fmt.Errorf("%w: short operation payload", ErrCorrupt)
	}
	collection := string(payload[offset : offset+collLen])
	offset += collLen

	docID := binary.LittleEndian.Uint64(payload[offset:])
	offset += 8

	docLen := int(binary.LittleEndian.Uint32(payload[offset:]))
	offset += 4
	if len(payload) != offset+docLen {
		return nil, fmt.Errorf("%w: operation payload length mismatch", ErrCorrupt)
	}

	var doc []byte
	if docLen > 0 {
		doc = make([]byte, docLen)
		copy(doc, payload[offset:])
	}

	return &Operation{
		Kind:       kind,
		Collection: collection,
		DocID:      docID,
		Document:   doc,
	}, nil
}
