package record_test

import (
	"testing"

	"github.com/derMihai/condalf-core/record"
	"github.com/stretchr/testify/require"
)

func TestMoveClearsSourceString(t *testing.T) {
	src := record.Record{Name: "t", Kind: record.String, Str: "hello"}
	var dst record.Record
	record.Move(&dst, &src)
	require.Equal(t, "hello", dst.Str)
	require.Equal(t, "", src.Str)
}

func TestMoveNonStringLeavesSourceUntouched(t *testing.T) {
	src := record.Record{Name: "t", Kind: record.Uint32, U32: 7}
	var dst record.Record
	record.Move(&dst, &src)
	require.Equal(t, uint32(7), dst.U32)
	require.Equal(t, uint32(7), src.U32)
}

func TestCopyDuplicatesString(t *testing.T) {
	src := record.Record{Name: "t", Kind: record.String, Str: "hello"}
	var dst record.Record
	require.NoError(t, record.Copy(&dst, &src))
	require.Equal(t, "hello", dst.Str)
	require.Equal(t, "hello", src.Str)

	record.FreeData(&dst)
	require.Equal(t, "", dst.Str)
	require.Equal(t, "hello", src.Str)
}

func TestSeconds(t *testing.T) {
	r := record.Record{Sec: 10, Usec: 500000}
	require.InDelta(t, 10.5, r.Seconds(), 1e-9)
}

func TestValidate(t *testing.T) {
	r := record.Record{Unit: record.UnitCelsius, Kind: record.Int32}
	require.NoError(t, r.Validate())

	bad := record.Record{Unit: record.Unit(999)}
	require.Error(t, bad.Validate())
}
