// Package codec undoes transport compression on payloads before delivery.
package codec

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Suffix marks a gzip compressed payload.
const Suffix = ".gz"

// Error reports a payload that carries the compressed marker but could not be decompressed.
type Error struct {
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Decode strips one level of compression. Names without the marker pass through untouched.
func Decode(name string, data []byte) (string, []byte, error) {
	if !strings.HasSuffix(name, Suffix) {
		return name, data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, &Error{Name: name, Err: err}
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return "", nil, &Error{Name: name, Err: err}
	}
	return strings.TrimSuffix(name, Suffix), out, nil
}

// Payload is one file's bytes keyed by the name it will be written under.
type Payload struct {
	Name string
	Data []byte
}

// PayloadSet is the per-cycle batch of files. Names are unique; setting an existing name
// replaces its bytes and keeps its position.
type PayloadSet struct {
	index map[string]int
	items []Payload
}

func NewPayloadSet() *PayloadSet {
	return &PayloadSet{index: make(map[string]int)}
}

// Set adds or replaces the payload for name.
func (s *PayloadSet) Set(name string, data []byte) {
	if i, ok := s.index[name]; ok {
		s.items[i].Data = data
		return
	}
	s.index[name] = len(s.items)
	s.items = append(s.items, Payload{Name: name, Data: data})
}

// Get returns the bytes stored for name.
func (s *PayloadSet) Get(name string) ([]byte, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.items[i].Data, true
}

// Delete removes name from the set.
func (s *PayloadSet) Delete(name string) {
	i, ok := s.index[name]
	if !ok {
		return
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	delete(s.index, name)
	for j := i; j < len(s.items); j++ {
		s.index[s.items[j].Name] = j
	}
}

func (s *PayloadSet) Len() int {
	return len(s.items)
}

// Items returns the payloads in insertion order. The slice is a copy.
func (s *PayloadSet) Items() []Payload {
	out := make([]Payload, len(s.items))
	copy(out, s.items)
	return out
}

// DecodeSet decodes every compressed payload in place. A decoded name that collides with
// another payload overwrites it. Payloads that fail to decode are dropped and logged.
// It returns the number of dropped payloads.
func DecodeSet(set *PayloadSet) int {
	dropped := 0
	for _, p := range set.Items() {
		if !strings.HasSuffix(p.Name, Suffix) {
			continue
		}
		// an earlier decode may have replaced this entry
		current, ok := set.Get(p.Name)
		if !ok {
			continue
		}
		name, data, err := Decode(p.Name, current)
		set.Delete(p.Name)
		if err != nil {
			slog.Warn("could not unpack file, skipping it", "file", p.Name, "error", err)
			dropped++
			continue
		}
		set.Set(name, data)
		slog.Debug("unpacked file", "file", p.Name, "name", name)
	}
	return dropped
}
