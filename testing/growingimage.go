package testing

import "io"

// GrowingImage is an io.ReadWriteSeeker over an in-memory byte slice that
// grows on demand, used by FormatImage callers in tests that don't know the
// exact final image size up front (FAT and ext2 both compute their own
// layout and write it out in a single Write call).
type GrowingImage struct {
	Data []byte
	pos  int64
}

var _ io.ReadWriteSeeker = (*GrowingImage)(nil)

func (g *GrowingImage) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = g.pos + offset
	case io.SeekEnd:
		newPos = int64(len(g.Data)) + offset
	}
	g.pos = newPos
	return g.pos, nil
}

func (g *GrowingImage) Read(p []byte) (int, error) {
	if g.pos >= int64(len(g.Data)) {
		return 0, io.EOF
	}
	n := copy(p, g.Data[g.pos:])
	g.pos += int64(n)
	return n, nil
}

func (g *GrowingImage) Write(p []byte) (int, error) {
	end := g.pos + int64(len(p))
	if end > int64(len(g.Data)) {
		grown := make([]byte, end)
		copy(grown, g.Data)
		g.Data = grown
	}
	n := copy(g.Data[g.pos:end], p)
	g.pos += int64(n)
	return n, nil
}
