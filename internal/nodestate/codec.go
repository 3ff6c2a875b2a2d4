package nodestate

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// properties always produce identical bytes, which fingerprints depend on.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("nodestate: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic("nodestate: CBOR decoder initialization failed: " + err.Error())
	}
}

// propertyRecord is the wire form of a PropertyState. Dates travel as Unix
// nanoseconds.
type propertyRecord struct {
	Name   string `cbor:"1,keyasint"`
	Type   Type   `cbor:"2,keyasint"`
	Multi  bool   `cbor:"3,keyasint,omitempty"`
	Values []any  `cbor:"4,keyasint"`
}

type childRecord struct {
	Name   string `cbor:"1,keyasint"`
	Digest []byte `cbor:"2,keyasint"`
}

type nodeRecord struct {
	Properties []propertyRecord `cbor:"1,keyasint"`
	Children   []childRecord    `cbor:"2,keyasint"`
}

// EncodeProperties encodes properties deterministically. The input order is
// preserved, so callers wanting canonical bytes pass properties sorted by name
// (as NodeState.Properties returns them).
func EncodeProperties(props []PropertyState) ([]byte, error) {
	data, err := encMode.Marshal(toRecords(props))
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	return data, nil
}

// DecodeProperties decodes properties written by EncodeProperties.
func DecodeProperties(data []byte) ([]PropertyState, error) {
	var records []propertyRecord
	if err := decMode.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	props := make([]PropertyState, 0, len(records))
	for _, rec := range records {
		values := make([]any, len(rec.Values))
		for i, raw := range rec.Values {
			v, err := fromWire(rec.Type, raw)
			if err != nil {
				return nil, fmt.Errorf("decode property %s: %w", rec.Name, err)
			}
			values[i] = v
		}
		var (
			p   PropertyState
			err error
		)
		if rec.Multi {
			p, err = NewMultiProperty(rec.Name, rec.Type, values)
		} else if len(values) == 1 {
			p, err = NewProperty(rec.Name, rec.Type, values[0])
		} else {
			err = fmt.Errorf("single-valued property %s has %d values", rec.Name, len(values))
		}
		if err != nil {
			return nil, fmt.Errorf("decode properties: %w", err)
		}
		props = append(props, p)
	}
	return props, nil
}

func toRecords(props []PropertyState) []propertyRecord {
	records := make([]propertyRecord, len(props))
	for i, p := range props {
		values := make([]any, len(p.values))
		for j, v := range p.values {
			if t, ok := v.(time.Time); ok {
				values[j] = t.UnixNano()
				continue
			}
			values[j] = v
		}
		records[i] = propertyRecord{Name: p.name, Type: p.typ, Multi: p.multi, Values: values}
	}
	return records
}

func fromWire(typ Type, raw any) (any, error) {
	switch typ {
	case TypeLong:
		switch n := raw.(type) {
		case int64:
			return n, nil
		case uint64:
			return int64(n), nil //nolint:gosec // values were encoded from int64
		}
	case TypeDate:
		switch n := raw.(type) {
		case int64:
			return time.Unix(0, n).UTC(), nil
		case uint64:
			return time.Unix(0, int64(n)).UTC(), nil //nolint:gosec // values were encoded from int64
		}
	case TypeDouble:
		switch f := raw.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
	default:
		return raw, nil
	}
	return nil, fmt.Errorf("unexpected wire value %T for %s", raw, typ)
}

// Digest is a blake3 structural fingerprint of a subtree.
type Digest [32]byte

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

type fingerprinter interface {
	Fingerprint() (Digest, error)
}

// Fingerprint returns the structural digest of state. Two existing states have
// the same fingerprint iff they are structurally equal.
func Fingerprint(state NodeState) (Digest, error) {
	if f, ok := state.(fingerprinter); ok {
		return f.Fingerprint()
	}
	return computeFingerprint(state)
}

func computeFingerprint(state NodeState) (Digest, error) {
	rec := nodeRecord{Properties: toRecords(state.Properties())}
	for _, name := range state.ChildNodeNames() {
		d, err := Fingerprint(state.ChildNode(name))
		if err != nil {
			return Digest{}, err
		}
		rec.Children = append(rec.Children, childRecord{Name: name, Digest: d[:]})
	}
	data, err := encMode.Marshal(rec)
	if err != nil {
		return Digest{}, fmt.Errorf("fingerprint: %w", err)
	}
	return blake3.Sum256(data), nil
}
