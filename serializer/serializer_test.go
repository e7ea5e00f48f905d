package serializer_test

import (
	"testing"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/record"
	"github.com/derMihai/condalf-core/senml"
	"github.com/derMihai/condalf-core/serializer"
	"github.com/stretchr/testify/require"
)

// TestSingleRecordRoundTrip is spec §8 scenario 1: a single record closes
// out into one pack carrying the configured base name.
func TestSingleRecordRoundTrip(t *testing.T) {
	buf := make([]byte, 128)
	s, err := serializer.New(buf, 4, "p:")
	require.NoError(t, err)

	rec := record.Record{Name: "t", Sec: 1, Unit: record.UnitCelsius, Kind: record.Int32, I32: 23}
	require.NoError(t, s.Put(rec))

	out := make([]byte, 128)
	n, err := s.Swap(&out)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	pack, err := senml.Decode(out[:n])
	require.NoError(t, err)
	require.Equal(t, "p:", pack.BaseName)
	require.Len(t, pack.Records, 1)
	require.Equal(t, "t", pack.Records[0].Name)
	require.Equal(t, "Cel", pack.Records[0].Unit)
	require.EqualValues(t, 23, pack.Records[0].Value)
	require.InDelta(t, 1.0, pack.Records[0].Time, 1e-9)
}

// packSize measures the encoded size (including the outer array framing)
// of base plus recs, against an effectively unbounded limit, so tests can
// size a destination buffer that fits exactly one record and no more.
func packSize(t *testing.T, base string, recs ...record.Record) int {
	t.Helper()
	enc, err := senml.NewEncoder(nil, 1<<20, base)
	require.NoError(t, err)
	for _, r := range recs {
		fits, err := enc.TryAdd(r)
		require.NoError(t, err)
		require.True(t, fits)
	}
	n, err := enc.Close()
	require.NoError(t, err)
	return n
}

// TestTwoPackSplit is spec §8 scenario 2: a buffer sized for exactly one
// record splits two Puts across two packs, the first flushed by the
// internal swap inside the second Put.
func TestTwoPackSplit(t *testing.T) {
	r1 := record.Record{Name: "a", Sec: 1, Kind: record.Uint32, U32: 1}
	r2 := record.Record{Name: "b", Sec: 2, Kind: record.Uint32, U32: 2}

	bufLen := packSize(t, "p:", r1) + senml.ArrayMaxBytes
	buf := make([]byte, bufLen)
	s, err := serializer.New(buf, 4, "p:")
	require.NoError(t, err)

	require.NoError(t, s.Put(r1))

	err = s.Put(r2)
	require.True(t, errors.Is(errors.MustSwap, err), "want must-swap, got %v", err)

	out1 := make([]byte, bufLen)
	n1, err := s.Swap(&out1)
	require.NoError(t, err)
	require.Greater(t, n1, 0)

	out2 := make([]byte, bufLen)
	n2, err := s.Swap(&out2)
	require.NoError(t, err)
	require.Greater(t, n2, 0)

	pack1, err := senml.Decode(out1[:n1])
	require.NoError(t, err)
	pack2, err := senml.Decode(out2[:n2])
	require.NoError(t, err)

	require.Len(t, pack1.Records, 1)
	require.Equal(t, "a", pack1.Records[0].Name)
	require.Len(t, pack2.Records, 1)
	require.Equal(t, "b", pack2.Records[0].Name)
}

func TestQueueFullRequiresSwap(t *testing.T) {
	buf := make([]byte, 4096)
	s, err := serializer.New(buf, 2, "")
	require.NoError(t, err)

	require.NoError(t, s.Put(record.Record{Name: "a", Kind: record.Uint32, U32: 1}))
	require.NoError(t, s.Put(record.Record{Name: "b", Kind: record.Uint32, U32: 2}))

	err = s.Put(record.Record{Name: "c", Kind: record.Uint32, U32: 3})
	require.True(t, errors.Is(errors.QueueFull, err))

	out := make([]byte, 4096)
	n, err := s.Swap(&out)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	require.NoError(t, s.Put(record.Record{Name: "c", Kind: record.Uint32, U32: 3}))
}

func TestNoUsefulBufferRejectsOversizeRecord(t *testing.T) {
	buf := make([]byte, senml.ArrayMaxBytes+8)
	s, err := serializer.New(buf, 4, "")
	require.NoError(t, err)

	rec := record.Record{Name: "a-very-long-name-that-cannot-possibly-fit", Kind: record.Uint32, U32: 1}
	err = s.Put(rec)
	require.True(t, errors.Is(errors.NoSpace, err), "want no-space, got %v", err)
}

func TestSwapNilInvalidatesSerializer(t *testing.T) {
	buf := make([]byte, 128)
	s, err := serializer.New(buf, 4, "")
	require.NoError(t, err)
	require.NoError(t, s.Put(record.Record{Name: "a", Kind: record.Uint32, U32: 1}))

	n, err := s.Swap(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	// A second flush-to-nil is a no-op that reports errors.Invalid, not a
	// crash.
	n, err = s.Swap(nil)
	require.True(t, errors.Is(errors.Invalid, err))
	require.Equal(t, 0, n)

	err = s.Put(record.Record{Name: "b", Kind: record.Uint32, U32: 2})
	require.True(t, errors.Is(errors.Invalid, err))
}

func TestSwapWithoutPendingDataIsNoop(t *testing.T) {
	buf := make([]byte, 128)
	s, err := serializer.New(buf, 4, "")
	require.NoError(t, err)

	out := make([]byte, 128)
	n, err := s.Swap(&out)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestPutFailureLeavesOwnershipUnaffected(t *testing.T) {
	buf := make([]byte, 4096)
	s, err := serializer.New(buf, 2, "")
	require.NoError(t, err)

	require.NoError(t, s.Put(record.Record{Name: "a", Kind: record.Uint32, U32: 1}))
	require.NoError(t, s.Put(record.Record{Name: "b", Kind: record.Uint32, U32: 2}))

	rec := record.Record{Name: "c", Kind: record.String, Str: "still-mine"}
	err = s.Put(rec)
	require.True(t, errors.Is(errors.QueueFull, err))
	require.Equal(t, "still-mine", rec.Str)
}

// TestFitCountNeverExceedsRingFill exercises the invariant of spec §8 over
// a longer interleaved sequence of Put/Swap calls.
func TestFitCountNeverExceedsRingFill(t *testing.T) {
	buf := make([]byte, 96)
	s, err := serializer.New(buf, 8, "base")
	require.NoError(t, err)

	var decoded []string
	for i := 0; i < 20; i++ {
		rec := record.Record{Name: "m", Sec: uint32(i), Kind: record.Uint32, U32: uint32(i)}
		err := s.Put(rec)
		for errors.Is(errors.MustSwap, err) || errors.Is(errors.QueueFull, err) {
			out := make([]byte, 96)
			n, serr := s.Swap(&out)
			require.NoError(t, serr)
			if n > 0 {
				pack, derr := senml.Decode(out[:n])
				require.NoError(t, derr)
				for _, r := range pack.Records {
					decoded = append(decoded, r.Name)
				}
			}
			err = s.Put(rec)
		}
		require.NoError(t, err)
	}

	out := make([]byte, 96)
	for {
		n, err := s.Swap(&out)
		if n > 0 {
			pack, derr := senml.Decode(out[:n])
			require.NoError(t, derr)
			for _, r := range pack.Records {
				decoded = append(decoded, r.Name)
			}
		}
		if err == nil {
			break
		}
		require.True(t, errors.Is(errors.MustSwap, err))
	}

	require.Len(t, decoded, 20)
}
