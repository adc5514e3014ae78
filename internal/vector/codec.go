package vector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// vectors.bin layout, little-endian:
//
//	magic "KVEC" | version u32 | dim u32 | count u32
//	count x (idLen u32 | id bytes)
//	count x dim x float32
var vecMagic = []byte("KVEC")

const vecVersion uint32 = 1

// Save writes the index to path, creating parent directories.
func (m *MemoryIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create vector file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := m.encode(w); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Sync()
}

func (m *MemoryIndex) encode(w io.Writer) error {
	if _, err := w.Write(vecMagic); err != nil {
		return err
	}
	header := []uint32{vecVersion, uint32(m.dim), uint32(len(m.ids))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	for _, id := range m.ids {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(id))); err != nil {
			return err
		}
		if _, err := io.WriteString(w, id); err != nil {
			return err
		}
	}
	buf := make([]byte, 4)
	for _, v := range m.data {
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// LoadMemoryIndex reads a file written by Save.
func LoadMemoryIndex(path string) (*MemoryIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vector file: %w", err)
	}
	defer f.Close()
	m, err := decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return m, nil
}

func decode(r io.Reader) (*MemoryIndex, error) {
	magic := make([]byte, len(vecMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, vecMagic) {
		return nil, errors.New("not a vector file")
	}
	var header [3]uint32
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header[0] != vecVersion {
		return nil, fmt.Errorf("unsupported vector file version %d", header[0])
	}
	m, err := NewMemoryIndex(int(header[1]))
	if err != nil {
		return nil, err
	}
	count := int(header[2])

	m.ids = make([]string, count)
	for i := range m.ids {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		id := make([]byte, n)
		if _, err := io.ReadFull(r, id); err != nil {
			return nil, err
		}
		m.ids[i] = string(id)
	}
	m.data = make([]float32, count*m.dim)
	if err := binary.Read(r, binary.LittleEndian, m.data); err != nil {
		return nil, fmt.Errorf("vectors: %w", err)
	}
	return m, nil
}
