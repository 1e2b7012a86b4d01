package db

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"

	"github.com/ValentinKolb/artdb/lib/dberr"
)

// --------------------------------------------------------------------------
// Stream format
// --------------------------------------------------------------------------

/*
 Export stream layout (all integers little endian):

   "BTDBEXP2"                      8 byte magic
   pair count                      int64
   per pair: key length            int32
             key                   raw bytes
             value length          int32
             value                 raw bytes
   trailer (optional on import):
             commit ulong          uint64
             ulong count           int32
             ulongs                uint64 each
*/

const (
	exportMagic   = "BTDBEXP2"
	exportBufSize = 1024 * 1024 // 1 MB buffer
	readStepSize  = 64 * 1024   // max growth of a chunk buffer per read
)

// Export writes all pairs visible to tx together with the commit ulong and the
// ulong slots to w
//
// Thread-safety: tx must not be used concurrently.
func Export(tx *Transaction, w io.Writer) error {
	bw := bufio.NewWriterSize(w, exportBufSize)

	if _, err := bw.WriteString(exportMagic); err != nil {
		return err
	}
	count := tx.GetKeyValueCount()
	if err := binary.Write(bw, binary.LittleEndian, count); err != nil {
		return err
	}

	c := tx.CreateCursor()
	defer c.Close()

	var written int64
	for c.FindNextKey(nil) {
		if err := writeChunk(bw, c.GetKey(false)); err != nil {
			return err
		}
		if err := writeChunk(bw, c.GetValue(false)); err != nil {
			return err
		}
		written++
	}
	if written != count {
		return dberr.Newf(dberr.RetCInvalidOperation, "exported %d of %d pairs", written, count)
	}

	// Trailer
	if err := binary.Write(bw, binary.LittleEndian, tx.GetCommitUlong()); err != nil {
		return err
	}
	ulongs := tx.GetUlongCount()
	if err := binary.Write(bw, binary.LittleEndian, int32(ulongs)); err != nil {
		return err
	}
	for i := 0; i < ulongs; i++ {
		if err := binary.Write(bw, binary.LittleEndian, tx.GetUlong(i)); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Import reads an export stream from r and stores all pairs in tx. The commit
// ulong and the ulong slots are restored when the stream carries a trailer.
// The transaction becomes a writing transaction.
//
// Malformed input fails with ErrDataFormat; pairs read up to that point stay
// in tx, the caller decides whether to commit.
func Import(tx *Transaction, r io.Reader) error {
	br := bufio.NewReaderSize(r, exportBufSize)

	magic := make([]byte, len(exportMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return formatError("reading magic", err)
	}
	if string(magic) != exportMagic {
		return dberr.Newf(dberr.RetCDataFormat, "invalid magic %q", magic)
	}

	var count int64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return formatError("reading pair count", err)
	}
	if count < 0 {
		return dberr.Newf(dberr.RetCDataFormat, "negative pair count %d", count)
	}

	c := tx.CreateCursor()
	defer c.Close()

	var key, value []byte
	for i := int64(0); i < count; i++ {
		var err error
		if key, err = readChunk(br, key); err != nil {
			return formatError("reading key", err)
		}
		if value, err = readChunk(br, value); err != nil {
			return formatError("reading value", err)
		}
		if _, err := c.CreateOrUpdateKeyValue(key, value); err != nil {
			return err
		}
	}

	// Trailer
	var commitUlong uint64
	if err := binary.Read(br, binary.LittleEndian, &commitUlong); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return formatError("reading commit ulong", err)
	}
	var ulongs int32
	if err := binary.Read(br, binary.LittleEndian, &ulongs); err != nil {
		return formatError("reading ulong count", err)
	}
	if ulongs < 0 {
		return dberr.Newf(dberr.RetCDataFormat, "negative ulong count %d", ulongs)
	}
	if err := tx.SetCommitUlong(commitUlong); err != nil {
		return err
	}
	for i := 0; i < int(ulongs); i++ {
		var v uint64
		if err := binary.Read(br, binary.LittleEndian, &v); err != nil {
			return formatError("reading ulong", err)
		}
		if err := tx.SetUlong(i, v); err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func writeChunk(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, int32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readChunk reads a length prefixed chunk into buf (grown as needed)
func readChunk(r io.Reader, buf []byte) ([]byte, error) {
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return buf, err
	}
	if n < 0 {
		return buf, dberr.Newf(dberr.RetCDataFormat, "negative length %d", n)
	}
	// grow with the data actually read so a bogus length cannot force a huge
	// allocation up front
	buf = buf[:0]
	for remaining := int(n); remaining > 0; {
		step := min(remaining, readStepSize)
		if cap(buf)-len(buf) < step {
			buf = append(buf, make([]byte, step)...)[:len(buf)]
		}
		if _, err := io.ReadFull(r, buf[len(buf):len(buf)+step]); err != nil {
			return buf, err
		}
		buf = buf[:len(buf)+step]
		remaining -= step
	}
	return buf, nil
}

// formatError maps stream errors to ErrDataFormat. A stream that ends early is
// truncated, never silently accepted.
func formatError(what string, err error) error {
	var e *dberr.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return dberr.Newf(dberr.RetCDataFormat, "truncated stream while %s", what)
	}
	return dberr.Newf(dberr.RetCDataFormat, "%s: %v", what, err)
}
