package detection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// EvalBoxes maps sample tokens to the boxes of each sample. Sample order is
// the order in which samples were added, so serialization is stable.
type EvalBoxes struct {
	tokens []string
	boxes  map[string][]Box
}

// NewEvalBoxes returns an empty collection.
func NewEvalBoxes() *EvalBoxes {
	return &EvalBoxes{boxes: make(map[string][]Box)}
}

// AddSample registers token with no boxes if it is not present yet.
func (e *EvalBoxes) AddSample(token string) {
	if _, ok := e.boxes[token]; ok {
		return
	}
	e.tokens = append(e.tokens, token)
	e.boxes[token] = []Box{}
}

// AddBoxes appends boxes to the sample token, registering it if needed.
func (e *EvalBoxes) AddBoxes(token string, boxes []Box) {
	e.AddSample(token)
	e.boxes[token] = append(e.boxes[token], boxes...)
}

// SampleTokens returns the sample tokens in insertion order.
func (e *EvalBoxes) SampleTokens() []string {
	return append([]string(nil), e.tokens...)
}

// Boxes returns the boxes of one sample. The slice must not be modified.
func (e *EvalBoxes) Boxes(token string) []Box {
	return e.boxes[token]
}

// HasSample reports whether token is part of the collection.
func (e *EvalBoxes) HasSample(token string) bool {
	_, ok := e.boxes[token]
	return ok
}

// NumSamples is the number of samples, including empty ones.
func (e *EvalBoxes) NumSamples() int { return len(e.tokens) }

// NumBoxes is the total number of boxes across all samples.
func (e *EvalBoxes) NumBoxes() int {
	n := 0
	for _, b := range e.boxes {
		n += len(b)
	}
	return n
}

// All returns every box, sample by sample in insertion order.
func (e *EvalBoxes) All() []Box {
	out := make([]Box, 0, e.NumBoxes())
	for _, t := range e.tokens {
		out = append(out, e.boxes[t]...)
	}
	return out
}

// Map returns a new collection with f applied to every sample. Every sample
// token is kept even when f returns no boxes.
func (e *EvalBoxes) Map(f func(Box) (Box, bool)) *EvalBoxes {
	out := NewEvalBoxes()
	for _, t := range e.tokens {
		out.AddSample(t)
		for _, b := range e.boxes[t] {
			if nb, keep := f(b); keep {
				out.boxes[t] = append(out.boxes[t], nb)
			}
		}
	}
	return out
}

// DiffSamples compares the sample sets of e and other. missing lists tokens
// of other absent from e; extra lists tokens of e absent from other. Both
// are sorted.
func (e *EvalBoxes) DiffSamples(other *EvalBoxes) (missing, extra []string) {
	for _, t := range other.tokens {
		if !e.HasSample(t) {
			missing = append(missing, t)
		}
	}
	for _, t := range e.tokens {
		if !other.HasSample(t) {
			extra = append(extra, t)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}

// MaxBoxes returns the sample holding the most boxes and its count.
func (e *EvalBoxes) MaxBoxes() (token string, count int) {
	for _, t := range e.tokens {
		if n := len(e.boxes[t]); n > count {
			token, count = t, n
		}
	}
	return token, count
}

// MarshalJSON writes {token: [box, ...]} in sample order.
func (e *EvalBoxes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range e.tokens {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(e.boxes[t])
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", t, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads {token: [box, ...]} keeping document order. A box
// without a sample_token inherits the key it is listed under.
func (e *EvalBoxes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected an object keyed by sample token, got %v", tok)
	}
	out := NewEvalBoxes()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		token := tok.(string)
		var boxes []Box
		if err := dec.Decode(&boxes); err != nil {
			return fmt.Errorf("sample %s: %w", token, err)
		}
		for i := range boxes {
			if boxes[i].SampleToken == "" {
				boxes[i].SampleToken = token
			}
		}
		// A repeated key replaces the earlier boxes and keeps its position.
		out.AddSample(token)
		out.boxes[token] = append([]Box{}, boxes...)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*e = *out
	return nil
}
