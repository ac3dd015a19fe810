// Package sync pulls vendor data into the local store: content-hash change
// detection, per-entity-type cursors and the job orchestration around them.
package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ContentHash returns the SHA-256 hex digest of a canonical rendering of the
// payload. Keys are emitted sorted at every nesting level, so two maps with
// the same content always hash identically regardless of iteration order.
func ContentHash(payload map[string]interface{}) string {
	h := sha256.New()
	writeCanonical(h, payload)
	return hex.EncodeToString(h.Sum(nil))
}

type byteWriter interface {
	Write(p []byte) (int, error)
}

func writeCanonical(w byteWriter, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.Write([]byte{'{'})
		for i, k := range keys {
			if i > 0 {
				w.Write([]byte{','})
			}
			writeJSONString(w, k)
			w.Write([]byte{':'})
			writeCanonical(w, val[k])
		}
		w.Write([]byte{'}'})
	case []interface{}:
		w.Write([]byte{'['})
		for i, item := range val {
			if i > 0 {
				w.Write([]byte{','})
			}
			writeCanonical(w, item)
		}
		w.Write([]byte{']'})
	case string:
		writeJSONString(w, val)
	case float64:
		w.Write([]byte(strconv.FormatFloat(val, 'g', -1, 64)))
	case bool:
		w.Write([]byte(strconv.FormatBool(val)))
	case nil:
		w.Write([]byte("null"))
	case json.Number:
		w.Write([]byte(val.String()))
	default:
		// Uncommon concrete types (ints from hand-built maps, nested structs)
		// fall back to plain marshaling.
		b, err := json.Marshal(val)
		if err != nil {
			fmt.Fprintf(w, "%v", val)
			return
		}
		w.Write(b)
	}
}

func writeJSONString(w byteWriter, s string) {
	b, _ := json.Marshal(s)
	w.Write(b)
}
