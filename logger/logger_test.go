package logger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/derMihai/condalf-core/errors"
	"github.com/derMihai/condalf-core/logger"
	"github.com/derMihai/condalf-core/record"
	"github.com/derMihai/condalf-core/senml"
	"github.com/derMihai/condalf-core/transfer"
	"github.com/stretchr/testify/require"
)

// mockDriver records every buffer it is asked to send. The first
// trySendFails calls to TrySend return errors.WouldBlock (without
// completing the job), after which TrySend accepts normally.
type mockDriver struct {
	mu           sync.Mutex
	sent         [][]byte
	trySendFails int
	trySendCalls int
}

func (m *mockDriver) TrySend(job *transfer.Job) error {
	m.mu.Lock()
	m.trySendCalls++
	fail := m.trySendFails > 0
	if fail {
		m.trySendFails--
	}
	m.mu.Unlock()

	if fail {
		return errors.E(errors.WouldBlock, "mock: driver busy")
	}
	m.accept(job)
	return nil
}

func (m *mockDriver) Send(ctx context.Context, job *transfer.Job) error {
	m.accept(job)
	return nil
}

func (m *mockDriver) accept(job *transfer.Job) {
	buf := make([]byte, 0)
	p := make([]byte, 4096)
	for {
		n, err := job.File.Read(p)
		buf = append(buf, p[:n]...)
		if err != nil {
			break
		}
	}
	m.mu.Lock()
	m.sent = append(m.sent, buf)
	m.mu.Unlock()
	job.Complete(len(buf), nil)
}

func (m *mockDriver) TryRecv(job *transfer.Job) error             { return transfer.NotSupported("try_recv") }
func (m *mockDriver) Recv(ctx context.Context, job *transfer.Job) error { return transfer.NotSupported("recv") }
func (m *mockDriver) Delete()                                     {}

func (m *mockDriver) packs(t *testing.T) []*senml.Pack {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var packs []*senml.Pack
	for _, b := range m.sent {
		p, err := senml.Decode(b)
		require.NoError(t, err)
		packs = append(packs, p)
	}
	return packs
}

// TestSingleRecordDispatch is spec §8 scenario 1 at the logger level: a
// single Put closes out into one dispatched pack on Close.
func TestSingleRecordDispatch(t *testing.T) {
	drv := &mockDriver{}
	l, err := logger.New(logger.Config{EncodingBufSize: 128, RecordQueueSize: 4, Base: "p:"}, drv)
	require.NoError(t, err)

	rec := record.Record{Name: "t", Sec: 1, Unit: record.UnitCelsius, Kind: record.Int32, I32: 23}
	require.NoError(t, l.Put(&rec))
	require.NoError(t, l.Close())

	packs := drv.packs(t)
	require.Len(t, packs, 1)
	require.Equal(t, "p:", packs[0].BaseName)
	require.Len(t, packs[0].Records, 1)
	require.Equal(t, "t", packs[0].Records[0].Name)
}

// TestQueueFullTriggersFlush is spec §8 scenario 3: a record queue of
// capacity 2 forces a flush-and-dispatch of the first two records on the
// third Put; the third record goes out in a second pack on Close.
func TestQueueFullTriggersFlush(t *testing.T) {
	drv := &mockDriver{}
	l, err := logger.New(logger.Config{EncodingBufSize: 4096, RecordQueueSize: 2}, drv)
	require.NoError(t, err)

	require.NoError(t, l.Put(&record.Record{Name: "a", Kind: record.Uint32, U32: 1}))
	require.NoError(t, l.Put(&record.Record{Name: "b", Kind: record.Uint32, U32: 2}))
	require.NoError(t, l.Put(&record.Record{Name: "c", Kind: record.Uint32, U32: 3}))
	require.NoError(t, l.Close())

	packs := drv.packs(t)
	require.Len(t, packs, 2)
	require.Len(t, packs[0].Records, 2)
}

// TestDispatchDropsBufferWhenTrySendBlocks checks that the logger makes a
// single non-blocking TrySend and drops the buffer, with no blocking Send
// fallback, when the driver's non-blocking path is busy.
func TestDispatchDropsBufferWhenTrySendBlocks(t *testing.T) {
	drv := &mockDriver{trySendFails: 1}
	l, err := logger.New(logger.Config{EncodingBufSize: 128, RecordQueueSize: 4}, drv)
	require.NoError(t, err)

	rec := record.Record{Name: "a", Kind: record.Uint32, U32: 1}
	require.NoError(t, l.Put(&rec))
	require.NoError(t, l.Close())

	require.Equal(t, 1, drv.trySendCalls)
	packs := drv.packs(t)
	require.Len(t, packs, 0)
}

// TestPutFailureLeavesRecordUnmodified asserts the ownership property of
// spec §8: a Put that returns a non-swap error never touches the
// caller's record.
func TestPutFailureLeavesRecordUnmodified(t *testing.T) {
	drv := &mockDriver{}
	l, err := logger.New(logger.Config{EncodingBufSize: senml.ArrayMaxBytes + 8, RecordQueueSize: 4}, drv)
	require.NoError(t, err)

	rec := record.Record{Name: "a-very-long-name-that-cannot-possibly-fit", Kind: record.String, Str: "still-mine"}
	err = l.Put(&rec)
	require.True(t, errors.Is(errors.NoSpace, err))
	require.Equal(t, "still-mine", rec.Str)
}

// TestPutAfterCloseFails confirms a closed Logger refuses further work.
func TestPutAfterCloseFails(t *testing.T) {
	drv := &mockDriver{}
	l, err := logger.New(logger.Config{EncodingBufSize: 128, RecordQueueSize: 4}, drv)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	rec := record.Record{Name: "a", Kind: record.Uint32, U32: 1}
	err = l.Put(&rec)
	require.True(t, errors.Is(errors.Invalid, err))
}
