package store

import (
	"archive/tar"
	"bytes"
	"compress/zlib"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/fieldgraph"
	"github.com/TFMV/fieldgraph/arrowio"
)

func testSample(t *testing.T, natoms int) *fieldgraph.Sample {
	t.Helper()
	species := make([]int32, natoms)
	positions := make([]fieldgraph.Vec3, natoms)
	for i := range species {
		species[i] = int32(i + 1)
		positions[i] = fieldgraph.Vec3{float64(i), 0, 0}
	}
	cell := fieldgraph.Cell{{10, 0, 0}, {0, 10, 0}, {0, 0, 10}}
	data := make([]float32, 2*2*2)
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	return &fieldgraph.Sample{
		Structure: &fieldgraph.AtomicStructure{
			Species:   species,
			Positions: positions,
			Cell:      cell,
			PBC:       [3]bool{true, true, true},
		},
		Field: &fieldgraph.ScalarField{
			Data:  data,
			Shape: [3]int{2, 2, 2},
			Cell:  cell,
		},
	}
}

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func lz4Compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// writeTar lays out a tar archive in a temp dir from name -> member bytes
// pairs, preserving insertion order.
func writeTar(t *testing.T, names []string, payloads [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	for i, name := range names {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(payloads[i])),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write(payloads[i])
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestArchiveRoundTrip(t *testing.T) {
	raw, err := arrowio.EncodeSample(testSample(t, 2))
	require.NoError(t, err)

	path := writeTar(t,
		[]string{"a.arrow", "b.arrow.zz", "c.arrow.lz4"},
		[][]byte{raw, zlibCompress(t, raw), lz4Compress(t, raw)},
	)

	a, err := Open(path, nil)
	require.NoError(t, err)
	require.Equal(t, 3, a.Len())
	assert.Equal(t, []string{"a.arrow", "b.arrow.zz", "c.arrow.lz4"}, a.Members())

	for i := 0; i < a.Len(); i++ {
		s, err := a.At(i)
		require.NoError(t, err, "member %d", i)
		require.NoError(t, s.Validate())
		// The decode func sees the name with the compression suffix stripped.
		assert.Equal(t, BaseName(a.Members()[i]), s.Metadata.SourceName)
		assert.Equal(t, []int32{1, 2}, s.Structure.Species)
		assert.Equal(t, [3]int{2, 2, 2}, s.Field.Shape)
	}
}

func TestArchiveSkipsNonRegularMembers(t *testing.T) {
	raw, err := arrowio.EncodeSample(testSample(t, 1))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dataset.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "sub/",
		Mode:     0o755,
		Typeflag: tar.TypeDir,
	}))
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "sub/a.arrow",
		Mode:     0o644,
		Size:     int64(len(raw)),
		Typeflag: tar.TypeReg,
	}))
	_, err = tw.Write(raw)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	a, err := Open(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/a.arrow"}, a.Members())
}

func TestArchiveCorruptMember(t *testing.T) {
	path := writeTar(t,
		[]string{"bad.arrow", "bad.arrow.zz"},
		[][]byte{[]byte("not an arrow file"), []byte("not zlib either")},
	)

	a, err := Open(path, nil)
	require.NoError(t, err)

	_, err = a.At(0)
	require.Error(t, err, "garbage bytes must not decode")
	_, err = a.At(1)
	require.Error(t, err, "garbage bytes must not decompress")
}

func TestArchiveIndexOutOfRange(t *testing.T) {
	raw, err := arrowio.EncodeSample(testSample(t, 1))
	require.NoError(t, err)
	path := writeTar(t, []string{"a.arrow"}, [][]byte{raw})

	a, err := Open(path, nil)
	require.NoError(t, err)

	_, err = a.At(-1)
	require.Error(t, err)
	_, err = a.At(1)
	require.Error(t, err)
}

func TestArchiveMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.tar"), nil)
	require.Error(t, err)
}

func TestArchiveCustomDecode(t *testing.T) {
	path := writeTar(t,
		[]string{"x.bin", "y.bin.zz"},
		[][]byte{[]byte("payload"), zlibCompress(t, []byte("zipped"))},
	)

	var gotName string
	var gotData []byte
	a, err := Open(path, func(name string, data []byte) (*fieldgraph.Sample, error) {
		gotName = name
		gotData = data
		return testSample(t, 1), nil
	})
	require.NoError(t, err)

	_, err = a.At(0)
	require.NoError(t, err)
	assert.Equal(t, "x.bin", gotName)
	assert.Equal(t, []byte("payload"), gotData)

	_, err = a.At(1)
	require.NoError(t, err)
	assert.Equal(t, "y.bin", gotName, "compression suffix must be stripped before dispatch")
	assert.Equal(t, []byte("zipped"), gotData)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "a.arrow", BaseName("a.arrow.zz"))
	assert.Equal(t, "a.arrow", BaseName("a.arrow.lz4"))
	assert.Equal(t, "a.arrow", BaseName("a.arrow"))
}
