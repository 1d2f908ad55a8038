// Package hashing provides deterministic content hashing for the governance
// pipeline. Values are serialized to a canonical byte form (object keys
// sorted recursively, arrays in order, nulls normalized to the empty string)
// and digested with SHA-256. The canonical form is the mandatory choke point:
// every hash stored in the ledger, the staging area, or a state snapshot is
// derived through it, so digests are stable across processes for the same
// logical value.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// GenesisHash anchors an empty mutation chain: 64 ASCII '0' characters.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ErrSerialization reports input that cannot be canonically serialized
// (circular references, channels, functions).
var ErrSerialization = errors.New("value is not canonically serializable")

// Hash canonicalizes value and returns the lowercase hex SHA-256 digest.
func Hash(value any) (string, error) {
	canonical, err := Canonical(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashString digests a pre-joined canonical string directly. Used for the
// system state hash, which is defined over a colon-joined identity string
// rather than a structured value.
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Canonical returns the canonical byte serialization of value.
//
// The value is first round-tripped through encoding/json so that struct tags,
// embedding and map ordering collapse to a single representation, then
// re-emitted with recursively sorted object keys. Numbers pass through as
// their original JSON text to avoid float re-formatting drift.
func Canonical(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, generic); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
		// Null and absent fields hash identically to the empty string so a
		// field flipping between null and "" does not change identity.
		buf.WriteString(`""`)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrSerialization, err)
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeCanonical(buf, v[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(v.String())
	case string:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		buf.Write(encoded)
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	default:
		return fmt.Errorf("%w: unexpected decoded type %T", ErrSerialization, v)
	}
	return nil
}

// IsHash reports whether s is a well-formed lowercase 64-hex digest.
func IsHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// StateIdentity joins the three state components into the canonical identity
// string hashed by the state verifier.
func StateIdentity(configHash, codeHash, proposalID string) string {
	return strings.Join([]string{configHash, codeHash, proposalID}, ":")
}
