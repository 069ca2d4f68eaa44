package probe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Sentinel errors returned by Parse and Probe.
var (
	ErrNotModel  = errors.New("not a studio model")
	ErrTruncated = errors.New("model header truncated")
	ErrNotSource = errors.New("not a Source engine model")
)

// prefix is common to every studio header.
type prefix struct {
	Ident   [4]byte
	Version int32
}

type goldSrcTail struct {
	Name   [64]byte
	Length int32
}

type sourceTail struct {
	Checksum int32
	Name     [64]byte
	Length   int32
}

// Probe reads the header of the model at path. On ErrTruncated the
// returned info still holds whatever was read.
func Probe(path string) (*ModelInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := Parse(f)
	if info != nil {
		info.Path = path
		if fi, statErr := f.Stat(); statErr == nil {
			info.Size = fi.Size()
		}
	}
	if err != nil {
		return info, fmt.Errorf("%s: %w", path, err)
	}
	return info, nil
}

// Parse decodes a studio header from r. A stream that ends after the
// version yields partial info together with ErrTruncated.
func Parse(r io.Reader) (*ModelInfo, error) {
	var p prefix
	if err := binary.Read(r, binary.LittleEndian, &p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTruncated
		}
		return nil, err
	}
	ident := string(p.Ident[:])
	if ident != identModel && ident != identSequenceGroup {
		return nil, fmt.Errorf("%w: ident %q", ErrNotModel, ident)
	}
	info := &ModelInfo{Ident: ident, Version: p.Version, Engine: engineOf(p.Version)}

	var (
		name [64]byte
		err  error
	)
	if info.Engine == EngineSource {
		var t sourceTail
		err = binary.Read(r, binary.LittleEndian, &t)
		name, info.Length = t.Name, t.Length
	} else {
		var t goldSrcTail
		err = binary.Read(r, binary.LittleEndian, &t)
		name, info.Length = t.Name, t.Length
	}
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return info, ErrTruncated
		}
		return info, err
	}
	if i := bytes.IndexByte(name[:], 0); i >= 0 {
		info.Name = string(name[:i])
	} else {
		info.Name = string(name[:])
	}
	return info, nil
}
