package pool_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/derMihai/condalf-core/pool"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, dir, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "src-*")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestMoveFilePoolMonotone(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	src1 := writeTemp(t, dir, "one")
	p1, err := pool.MoveFile(ctx, dir, src1)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "00000001"), p1)

	src2 := writeTemp(t, dir, "two")
	p2, err := pool.MoveFile(ctx, dir, src2)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "00000002"), p2)

	buf := make([]byte, 4096)
	n, err := pool.GetOldest(ctx, dir, buf)
	require.NoError(t, err)
	require.Equal(t, p1, string(buf[:n]))

	require.NoError(t, os.Remove(p1))

	n, err = pool.GetOldest(ctx, dir, buf)
	require.NoError(t, err)
	require.Equal(t, p2, string(buf[:n]))
}

func TestGetOldestEmptyPool(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	buf := make([]byte, 4096)
	_, err := pool.GetOldest(ctx, dir, buf)
	require.Error(t, err)
}

func TestGetOldestBufferTooSmall(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := writeTemp(t, dir, "x")
	_, err := pool.MoveFile(ctx, dir, src)
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = pool.GetOldest(ctx, dir, buf)
	require.Error(t, err)
}

func TestSizeIgnoresNonSchemaNames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := writeTemp(t, dir, "x")
	_, err := pool.MoveFile(ctx, dir, src)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-file-id.txt"), []byte("z"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	n, err := pool.Size(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDrainRemovesOnlySchemaMatchingFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		src := writeTemp(t, dir, "x")
		_, err := pool.MoveFile(ctx, dir, src)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("z"), 0o644))

	require.NoError(t, pool.Drain(ctx, dir))

	n, err := pool.Size(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	_, err = os.Stat(filepath.Join(dir, "stray.txt"))
	require.NoError(t, err)
}

func TestParseFormatID(t *testing.T) {
	id, ok := pool.ParseID("0000002a")
	require.True(t, ok)
	require.EqualValues(t, 42, id)
	require.Equal(t, "0000002a", pool.FormatID(42))

	_, ok = pool.ParseID("not-hex!")
	require.False(t, ok)
	_, ok = pool.ParseID("2a")
	require.False(t, ok)
}
