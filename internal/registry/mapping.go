package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Mapping is one registry generation's code<->id table. Saves record the
// mapping they were written with so a reload under a different registry can
// remap stored ids.
type Mapping struct {
	byCode map[string]int32
	byID   map[int32]string
	digest string
}

func NewMapping(codes map[string]int32) Mapping {
	m := Mapping{
		byCode: make(map[string]int32, len(codes)),
		byID:   make(map[int32]string, len(codes)),
	}
	for c, id := range codes {
		m.byCode[c] = id
		m.byID[id] = c
	}
	m.digest = m.computeDigest()
	return m
}

func (m Mapping) ID(code string) (int32, bool) {
	id, ok := m.byCode[code]
	return id, ok
}

func (m Mapping) Code(id int32) (string, bool) {
	c, ok := m.byID[id]
	return c, ok
}

func (m Mapping) Len() int { return len(m.byCode) }

func (m Mapping) Digest() string { return m.digest }

// Codes returns a copy of the code->id table.
func (m Mapping) Codes() map[string]int32 {
	out := make(map[string]int32, len(m.byCode))
	for c, id := range m.byCode {
		out[c] = id
	}
	return out
}

func (m Mapping) MarshalJSON() ([]byte, error) { return json.Marshal(m.byCode) }

func (m *Mapping) UnmarshalJSON(b []byte) error {
	var codes map[string]int32
	if err := json.Unmarshal(b, &codes); err != nil {
		return err
	}
	*m = NewMapping(codes)
	return nil
}

func (m Mapping) computeDigest() string {
	codes := make([]string, 0, len(m.byCode))
	for c := range m.byCode {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	type pair struct {
		Code string `json:"c"`
		ID   int32  `json:"i"`
	}
	pairs := make([]pair, len(codes))
	for i, c := range codes {
		pairs[i] = pair{c, m.byCode[c]}
	}
	b, _ := json.Marshal(pairs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
