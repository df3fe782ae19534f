// Package safetensors reads and writes the HuggingFace safetensors container:
// an 8 byte little-endian header length, a JSON header describing each tensor,
// then the raw little-endian tensor bytes.
package safetensors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

const metadataKey = "__metadata__"

// maxHeaderSize guards against reading garbage as a header length.
const maxHeaderSize = 100 << 20

type Tensor struct {
	Shape []int
	Data  []float64
}

func (t Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type headerEntry struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// File is a decoded safetensors file with every tensor widened to float64.
type File struct {
	Tensors  map[string]Tensor
	Metadata map[string]string
}

func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading safetensors file: %w", err)
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	return f, nil
}

func Decode(data []byte) (*File, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("file too short for header (%d bytes)", len(data))
	}
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > maxHeaderSize || int(headerLen) > len(data)-8 {
		return nil, fmt.Errorf("invalid header length %d", headerLen)
	}
	header := data[8 : 8+headerLen]
	body := data[8+headerLen:]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(header, &raw); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	f := &File{Tensors: make(map[string]Tensor, len(raw))}
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &f.Metadata); err != nil {
				return nil, fmt.Errorf("invalid metadata: %w", err)
			}
			continue
		}
		var entry headerEntry
		if err := json.Unmarshal(msg, &entry); err != nil {
			return nil, fmt.Errorf("invalid header entry %q: %w", name, err)
		}
		start, end := entry.DataOffsets[0], entry.DataOffsets[1]
		if start < 0 || end < start || end > len(body) {
			return nil, fmt.Errorf("tensor %q has offsets [%d, %d] outside %d data bytes", name, start, end, len(body))
		}
		t := Tensor{Shape: entry.Shape}
		values, err := decodeValues(entry.DType, body[start:end], t.Len())
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", name, err)
		}
		t.Data = values
		f.Tensors[name] = t
	}
	return f, nil
}

func decodeValues(dtype string, buf []byte, n int) ([]float64, error) {
	width := map[string]int{"F64": 8, "F32": 4, "F16": 2, "BF16": 2, "I64": 8}[dtype]
	if width == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	if len(buf) != n*width {
		return nil, fmt.Errorf("expected %d bytes for %d %s values, found %d", n*width, n, dtype, len(buf))
	}
	out := make([]float64, n)
	for i := range out {
		b := buf[i*width : (i+1)*width]
		switch dtype {
		case "F64":
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case "F32":
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case "BF16":
			out[i] = float64(math.Float32frombits(uint32(binary.LittleEndian.Uint16(b)) << 16))
		case "F16":
			out[i] = halfToFloat(binary.LittleEndian.Uint16(b))
		case "I64":
			out[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		}
	}
	return out, nil
}

func halfToFloat(h uint16) float64 {
	sign := 1.0
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int(h>>10) & 0x1f
	frac := float64(h & 0x3ff)
	switch exp {
	case 0:
		return sign * frac * math.Pow(2, -24)
	case 0x1f:
		if frac == 0 {
			return math.Inf(int(sign))
		}
		return math.NaN()
	}
	return sign * (1 + frac/1024) * math.Pow(2, float64(exp-15))
}

// Encode writes tensors as F64 in name order so the same weights always produce
// the same bytes.
func Encode(w io.Writer, tensors map[string]Tensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == metadataKey {
			return fmt.Errorf("tensor name %q is reserved", metadataKey)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	offset := 0
	for _, name := range names {
		t := tensors[name]
		if t.Len() != len(t.Data) {
			return fmt.Errorf("tensor %q has shape %v but %d values", name, t.Shape, len(t.Data))
		}
		size := 8 * len(t.Data)
		shape := t.Shape
		if shape == nil {
			shape = []int{}
		}
		header[name] = headerEntry{DType: "F64", Shape: shape, DataOffsets: [2]int{offset, offset + size}}
		offset += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("error encoding header: %w", err)
	}
	if pad := len(headerBytes) % 8; pad != 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(headerBytes)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(headerBytes); err != nil {
		return err
	}
	buf := make([]byte, 8)
	for _, name := range names {
		for _, v := range tensors[name].Data {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

func WriteFile(path string, tensors map[string]Tensor, metadata map[string]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating safetensors file: %w", err)
	}
	writer := bufio.NewWriterSize(file, 1<<20)
	if err := Encode(writer, tensors, metadata); err != nil {
		file.Close()
		return fmt.Errorf("error writing safetensors file: %w", err)
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return fmt.Errorf("error flushing safetensors file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("error closing safetensors file: %w", err)
	}
	return nil
}
