package overlap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/tessera/internal/box"
	"github.com/dreamware/tessera/internal/pattern"
)

func splitX() pattern.WritePattern {
	blk := func(start uint64) pattern.BlockDescriptor {
		return pattern.BlockDescriptor{
			Name: "x", Type: pattern.Float32, Kind: pattern.GlobalArray,
			Shape: box.Dims{10}, Start: box.Dims{start}, Count: box.Dims{5}, Length: 20,
		}
	}
	return pattern.WritePattern{Writers: []pattern.WriterEntry{
		{Blocks: []pattern.BlockDescriptor{blk(0)}},
		{Blocks: []pattern.BlockDescriptor{blk(5)}},
	}}
}

func sel(name string, start, count box.Dims) pattern.SelectionRequest {
	return pattern.SelectionRequest{Name: name, Start: start, Count: count, Writer: pattern.AnyWriter}
}

func TestResolveAcrossWriters(t *testing.T) {
	m, err := Resolve(splitX(), []pattern.SelectionRequest{sel("x", box.Dims{3}, box.Dims{4})})
	require.NoError(t, err)

	assert.Equal(t, uint64(18), m.Size)
	require.Len(t, m.Entries, 2)

	e0 := m.Entries[0]
	assert.Equal(t, 0, e0.Writer)
	assert.Equal(t, uint64(0), e0.Offset)
	assert.Equal(t, uint64(9), e0.Length)
	require.Len(t, e0.Segments, 1)
	assert.Equal(t, uint64(1), e0.Segments[0].Offset)
	assert.Equal(t, uint64(8), e0.Segments[0].Length)
	assert.Equal(t, box.New(box.Dims{3}, box.Dims{2}), e0.Segments[0].Box)
	assert.Equal(t, []Range{{0, 1}, {13, 8}}, e0.Ranges())

	e1 := m.Entries[1]
	assert.Equal(t, 1, e1.Writer)
	assert.Equal(t, uint64(9), e1.Offset)
	assert.Equal(t, uint64(9), e1.Length)
	assert.Equal(t, uint64(10), e1.Segments[0].Offset)
	assert.Equal(t, []Range{{0, 1}, {1, 8}}, e1.Ranges())
}

func TestResolveRangesCoverEntry(t *testing.T) {
	wp := pattern.WritePattern{Writers: []pattern.WriterEntry{{Blocks: []pattern.BlockDescriptor{{
		Name: "grid", Type: pattern.Float64, Kind: pattern.GlobalArray,
		Shape: box.Dims{4, 6}, Start: box.Dims{0, 0}, Count: box.Dims{4, 6}, Length: 4 * 6 * 8,
	}}}}}
	m, err := Resolve(wp, []pattern.SelectionRequest{sel("grid", box.Dims{1, 2}, box.Dims{2, 3})})
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)

	var total uint64
	for _, r := range m.Entries[0].Ranges() {
		total += r.Length
	}
	assert.Equal(t, m.Entries[0].Length, total)
	// Rows 1 and 2, columns 2..4: two runs of three elements.
	assert.Equal(t, []Range{{0, 1}, {1 + (6+2)*8, 24}, {1 + (12+2)*8, 24}}, m.Entries[0].Ranges())
}

func TestResolveDeterministic(t *testing.T) {
	sels := []pattern.SelectionRequest{sel("x", box.Dims{2}, box.Dims{6})}
	a, err := Resolve(splitX(), sels)
	require.NoError(t, err)
	b, err := Resolve(splitX(), sels)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, a.Digest(), b.Digest())

	c, err := Resolve(splitX(), []pattern.SelectionRequest{sel("x", box.Dims{2}, box.Dims{5})})
	require.NoError(t, err)
	assert.NotEqual(t, a.Digest(), c.Digest())
}

func TestResolveSeparateSegmentsPerSelection(t *testing.T) {
	sels := []pattern.SelectionRequest{
		sel("x", box.Dims{0}, box.Dims{2}),
		sel("x", box.Dims{1}, box.Dims{2}),
	}
	m, err := Resolve(splitX(), sels)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	segs := m.Entries[0].Segments
	require.Len(t, segs, 2)
	assert.Equal(t, 0, segs[0].Selection)
	assert.Equal(t, 1, segs[1].Selection)
	assert.Equal(t, uint64(1), segs[0].Offset)
	assert.Equal(t, uint64(9), segs[1].Offset)
	assert.Equal(t, uint64(17), m.Size)

	// Element 1 lies in both selections and is fetched for each.
	shared, ok := box.Intersect(segs[0].Box, segs[1].Box)
	require.True(t, ok)
	assert.Equal(t, uint64(1), shared.Volume())
	assert.Equal(t, segs[0].Length+segs[1].Length+ControlLen, m.Entries[0].Length)
	assert.Len(t, m.Entries[0].Ranges(), 3)
}

func TestResolveSkipsValuesAndMisses(t *testing.T) {
	wp := splitX()
	wp.Writers[0].Blocks = append(wp.Writers[0].Blocks, pattern.BlockDescriptor{
		Name: "t", Type: pattern.Int64, Kind: pattern.GlobalValue, Value: pattern.ValueOf(int64(7)),
	})
	m, err := Resolve(wp, []pattern.SelectionRequest{
		{Name: "t", Writer: pattern.AnyWriter},
		sel("y", box.Dims{0}, box.Dims{1}),
		sel("x", box.Dims{0, 0}, box.Dims{1, 1}),
	})
	require.NoError(t, err)
	assert.Empty(t, m.Entries)
	assert.Zero(t, m.Size)
}

func TestResolveColumnMajorSelection(t *testing.T) {
	// Row-major writer block of shape {2, 3}; a column-major reader names
	// the same region with reversed axes.
	wp := pattern.WritePattern{Writers: []pattern.WriterEntry{{Blocks: []pattern.BlockDescriptor{{
		Name: "m", Type: pattern.Int32, Kind: pattern.GlobalArray,
		Shape: box.Dims{2, 3}, Start: box.Dims{0, 0}, Count: box.Dims{2, 3}, Length: 24,
	}}}}}
	s := pattern.SelectionRequest{
		Name: "m", Start: box.Dims{1, 0}, Count: box.Dims{2, 1},
		Order: box.ColumnMajor, Writer: pattern.AnyWriter,
	}
	m, err := Resolve(wp, []pattern.SelectionRequest{s})
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	seg := m.Entries[0].Segments[0]
	assert.Equal(t, box.New(box.Dims{0, 1}, box.Dims{1, 2}), seg.Box)
	assert.Equal(t, box.RowMajor, seg.Order)
	assert.Equal(t, []Range{{1 + 4, 8}}, seg.Remote)
}

func TestResolveLocalArray(t *testing.T) {
	local := pattern.BlockDescriptor{
		Name: "p", Type: pattern.Uint8, Kind: pattern.LocalArray,
		Start: box.Dims{0}, Count: box.Dims{4}, Length: 4,
	}
	shifted := local
	shifted.Offset = 10
	wp := pattern.WritePattern{Writers: []pattern.WriterEntry{
		{Blocks: []pattern.BlockDescriptor{local}},
		{Blocks: []pattern.BlockDescriptor{shifted}},
	}}

	m, err := Resolve(wp, []pattern.SelectionRequest{{Name: "p", Start: box.Dims{1}, Count: box.Dims{2}, Writer: 1}})
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, 1, m.Entries[0].Writer)
	assert.Equal(t, []Range{{0, 1}, {12, 2}}, m.Entries[0].Ranges())

	m, err = Resolve(wp, []pattern.SelectionRequest{sel("p", box.Dims{0}, box.Dims{4})})
	require.NoError(t, err)
	assert.Empty(t, m.Entries, "global selections never match local blocks")
}

func TestResolveUnknownTypeSkipped(t *testing.T) {
	wp := splitX()
	wp.Writers[1].Blocks[0].Type = pattern.UnknownType
	m, err := Resolve(wp, []pattern.SelectionRequest{sel("x", box.Dims{0}, box.Dims{10})})
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, uint64(21), m.Size)
	require.Len(t, m.Skipped, 1)
	assert.Equal(t, 1, m.Skipped[0].Writer)
	assert.ErrorIs(t, m.Skipped[0].Err, pattern.ErrUnknownDataType)
}

func TestEntryLookup(t *testing.T) {
	m, err := Resolve(splitX(), []pattern.SelectionRequest{sel("x", box.Dims{6}, box.Dims{1})})
	require.NoError(t, err)
	_, ok := m.Entry(0)
	assert.False(t, ok)
	e, ok := m.Entry(1)
	require.True(t, ok)
	assert.Equal(t, uint64(0), e.Offset)
}

func TestConsumers(t *testing.T) {
	rp := pattern.ReadPattern{Readers: [][]pattern.SelectionRequest{
		{sel("x", box.Dims{0}, box.Dims{2})},
		{sel("x", box.Dims{4}, box.Dims{4})},
		nil,
		{sel("x", box.Dims{8}, box.Dims{2})},
	}}
	c0, err := Consumers(splitX(), rp, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, c0, "reader 2 probes writer 0")

	c1, err := Consumers(splitX(), rp, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, c1)
}
