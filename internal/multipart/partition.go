package multipart

import (
	"errors"
	"io"

	"github.com/koustreak/objgate/internal/errs"
	"github.com/koustreak/objgate/internal/filestore"
)

// Part is one contiguous byte range of the payload, numbered from 1.
type Part struct {
	Number int
	Offset int64
	Data   []byte
}

// Size is the length of the part in bytes.
func (p Part) Size() int64 { return int64(len(p.Data)) }

// source yields parts in ascending order and io.EOF once exhausted.
type source interface {
	Next() (Part, error)
}

// Split partitions payload into partSize ranges starting at offset 0; the
// final part takes the remainder. Parts alias payload, nothing is copied.
// An empty payload yields no parts.
func Split(payload []byte, partSize int64) ([]Part, error) {
	if partSize <= 0 {
		return nil, errs.Invalidf("part size must be positive, got %d", partSize)
	}
	n := (int64(len(payload)) + partSize - 1) / partSize
	if n > filestore.MaxParts {
		return nil, errs.Invalidf("payload of %d bytes needs %d parts, limit is %d", len(payload), n, filestore.MaxParts)
	}

	parts := make([]Part, 0, n)
	for off := int64(0); off < int64(len(payload)); off += partSize {
		end := min(off+partSize, int64(len(payload)))
		parts = append(parts, Part{
			Number: len(parts) + 1,
			Offset: off,
			Data:   payload[off:end:end],
		})
	}
	return parts, nil
}

// slices replays the result of Split as a source.
type slices struct {
	parts []Part
	next  int
}

func (s *slices) Next() (Part, error) {
	if s.next >= len(s.parts) {
		return Part{}, io.EOF
	}
	p := s.parts[s.next]
	s.next++
	return p, nil
}

// Partitioner reads parts lazily from a stream. Each call to Next reads up
// to partSize bytes into a fresh buffer, so parts handed to concurrent
// workers never share memory.
type Partitioner struct {
	r        io.Reader
	partSize int64
	number   int
	offset   int64
	done     bool
}

// NewPartitioner returns a Partitioner over r.
func NewPartitioner(r io.Reader, partSize int64) *Partitioner {
	return &Partitioner{r: r, partSize: partSize}
}

// Next returns the next part, or io.EOF after the last one. A short read
// ends the stream: the part it produced is the final one.
func (p *Partitioner) Next() (Part, error) {
	if p.done {
		return Part{}, io.EOF
	}
	if p.partSize <= 0 {
		return Part{}, errs.Invalidf("part size must be positive, got %d", p.partSize)
	}
	if p.number >= filestore.MaxParts {
		// The limit is only exceeded if the stream has more data.
		var probe [1]byte
		if n, _ := io.ReadFull(p.r, probe[:]); n == 0 {
			p.done = true
			return Part{}, io.EOF
		}
		return Part{}, errs.Invalidf("payload needs more than %d parts of %d bytes", filestore.MaxParts, p.partSize)
	}

	buf := make([]byte, p.partSize)
	n, err := io.ReadFull(p.r, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		p.done = true
	case errors.Is(err, io.EOF):
		p.done = true
		return Part{}, io.EOF
	default:
		return Part{}, err
	}

	p.number++
	part := Part{Number: p.number, Offset: p.offset, Data: buf[:n:n]}
	p.offset += int64(n)
	return part, nil
}
