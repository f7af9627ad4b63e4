package upstream

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"testing"

	"github.com/Klingon-tech/klingindex/internal/chainmodel"
	"github.com/stretchr/testify/require"
)

var testMagic = [magicSize]byte{0xf9, 0xbe, 0xb4, 0xd9}

func sampleBlock(t *testing.T) *chainmodel.Block {
	t.Helper()
	tx := &chainmodel.Transaction{
		Version: 1,
		Inputs: []chainmodel.TxInput{{
			Script:   []byte{0x01, 0x02},
			Sequence: 0xffffffff,
		}},
		Outputs: []chainmodel.TxOutput{{Value: 5000000000, Script: []byte{0x6a}}},
	}
	return &chainmodel.Block{
		Header: chainmodel.Header{Version: 1, Timestamp: 1000, Bits: 0x1d00ffff, Nonce: 42},
		Txs:    []*chainmodel.Transaction{tx},
	}
}

func writeBlockFile(t *testing.T, path string, blocks []*chainmodel.Block, xorKey []byte) {
	t.Helper()
	var buf bytes.Buffer
	for _, b := range blocks {
		raw := b.Bytes()
		record := make([]byte, magicSize+4+len(raw))
		copy(record[:magicSize], testMagic[:])
		binary.LittleEndian.PutUint32(record[magicSize:magicSize+4], uint32(len(raw)))
		copy(record[magicSize+4:], raw)

		if len(xorKey) > 0 {
			offset := int64(buf.Len())
			for i := range record {
				record[i] ^= xorKey[(offset+int64(i))%int64(len(xorKey))]
			}
		}
		buf.Write(record)
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestBlockFileReader_RoundTrip(t *testing.T) {
	blk := sampleBlock(t)
	path := t.TempDir() + "/blk00000.dat"
	writeBlockFile(t, path, []*chainmodel.Block{blk, blk}, nil)

	r, err := OpenBlockFile(path, testMagic, nil)
	require.NoError(t, err)
	defer r.Close()

	var got []*chainmodel.Block
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec.Block)
	}
	require.Len(t, got, 2)
	require.Equal(t, blk.Hash(), got[0].Hash())
	require.Equal(t, blk.Hash(), got[1].Hash())
}

func TestBlockFileReader_XORObfuscated(t *testing.T) {
	blk := sampleBlock(t)
	key := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	path := t.TempDir() + "/blk00001.dat"
	writeBlockFile(t, path, []*chainmodel.Block{blk}, key)

	r, err := OpenBlockFile(path, testMagic, key)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, blk.Hash(), rec.Block.Hash())

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestBlockFileReader_BadMagic(t *testing.T) {
	path := t.TempDir() + "/blk00002.dat"
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0, 0, 0, 0, 0, 0}, 0o600))

	r, err := OpenBlockFile(path, testMagic, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.Error(t, err)
}

func TestBlockFileReader_TruncatedTrailingRecord(t *testing.T) {
	blk := sampleBlock(t)
	path := t.TempDir() + "/blk00003.dat"
	writeBlockFile(t, path, []*chainmodel.Block{blk}, nil)

	full, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, full[:len(full)-2], 0o600))

	r, err := OpenBlockFile(path, testMagic, nil)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReadXORKey_EmptyPath(t *testing.T) {
	key, err := ReadXORKey("")
	require.NoError(t, err)
	require.Nil(t, key)
}

func TestReadXORKey_WrongLength(t *testing.T) {
	path := t.TempDir() + "/xor.key"
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	_, err := ReadXORKey(path)
	require.Error(t, err)
}
