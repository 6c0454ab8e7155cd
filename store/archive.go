// Package store reads samples out of tar archives, the slow backing store
// that feeds the rotating pool. Member decompression is dispatched by
// filename suffix; format decoding stays behind a pluggable DecodeFunc.
package store

import (
	"archive/tar"
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"

	"github.com/TFMV/fieldgraph"
	"github.com/TFMV/fieldgraph/arrowio"
)

// DecodeFunc turns a decompressed archive member into a sample. The name it
// receives has the compression suffix already stripped, so format dispatch
// sees the underlying format suffix. Format parsing is the caller's concern;
// the store only handles archive access and decompression.
type DecodeFunc func(name string, data []byte) (*fieldgraph.Sample, error)

// ArrowDecode decodes members serialized with arrowio.EncodeSample.
func ArrowDecode(name string, data []byte) (*fieldgraph.Sample, error) {
	sample, err := arrowio.DecodeSample(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	sample.Metadata.SourceName = name
	return sample, nil
}

// Archive is a tar-file backed dataset. The member list is indexed once at
// open; each read re-scans the archive up to the requested member, so reads
// are slow and callers are expected to sit behind a rotating pool or buffer.
type Archive struct {
	path    string
	members []string
	decode  DecodeFunc
}

// Open indexes the members of a tar archive. A nil decode func defaults to
// ArrowDecode.
func Open(path string, decode DecodeFunc) (*Archive, error) {
	if decode == nil {
		decode = ArrowDecode
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	var members []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("indexing archive %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		members = append(members, hdr.Name)
	}
	return &Archive{path: path, members: members, decode: decode}, nil
}

// Len returns the number of regular members in the archive.
func (a *Archive) Len() int {
	return len(a.members)
}

// Members returns the indexed member names in archive order.
func (a *Archive) Members() []string {
	out := make([]string, len(a.members))
	copy(out, a.members)
	return out
}

// At extracts, decompresses and decodes the i-th member. A corrupt member
// propagates as an error; retry or skip policy belongs to the caller.
func (a *Archive) At(i int) (*fieldgraph.Sample, error) {
	if i < 0 || i >= len(a.members) {
		return nil, fmt.Errorf("member index %d out of range [0,%d)", i, len(a.members))
	}
	name := a.members[i]
	raw, err := a.extract(name)
	if err != nil {
		return nil, err
	}
	data, err := decompress(name, raw)
	if err != nil {
		return nil, fmt.Errorf("decompressing member %s: %w", name, err)
	}
	return a.decode(BaseName(name), data)
}

// extract reads the raw bytes of the named member.
func (a *Archive) extract(name string) ([]byte, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scanning archive %s: %w", a.path, err)
		}
		if hdr.Name != name {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("reading member %s: %w", name, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("member %s not found in archive %s", name, a.path)
}

// decompress dispatches on the member's filename suffix: .zz is zlib, .lz4
// is an lz4 frame, anything else passes through untouched.
func decompress(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".zz"):
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case strings.HasSuffix(name, ".lz4"):
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return data, nil
	}
}

// BaseName strips the compression suffix from a member name, leaving the
// format suffix for decode dispatch.
func BaseName(name string) string {
	name = strings.TrimSuffix(name, ".zz")
	name = strings.TrimSuffix(name, ".lz4")
	return name
}
