package journal_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/qntx/wsloop/journal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndReadAll(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	j := journal.New(&buf)

	_, err := j.Record("s1", "text", []byte("Hello, world!"))
	require.NoError(t, err)
	_, err = j.Record("s1", "binary", []byte{0x00, 0x01, 0x03, 0x04})
	require.NoError(t, err)
	assert.EqualValues(t, 2, j.Len())

	entries, err := journal.ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.EqualValues(t, 1, entries[0].Seq)
	assert.Equal(t, "text", entries[0].Type)
	assert.Equal(t, 13, entries[0].Size)
	assert.Equal(t, "Hello, world!", string(entries[0].Payload()))

	assert.EqualValues(t, 2, entries[1].Seq)
	assert.Equal(t, "binary", entries[1].Type)
	assert.Equal(t, 4, entries[1].Size)
	assert.Equal(t, []byte{0x00, 0x01, 0x03, 0x04}, entries[1].Payload())
	assert.Equal(t, "s1", entries[1].Session)
}

func TestReadAllRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := journal.ReadAll(bytes.NewBufferString("{not json}\n"))
	require.Error(t, err)
}

func TestCreate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "inbound.jsonl")

	j, err := journal.Create(path)
	require.NoError(t, err)

	_, err = j.Record("", "text", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	entries, err := journal.ReadAll(f)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].Text)
}
