package coordinator

import (
	"fmt"

	"github.com/yndnr/objmesh-go/pkg/crypto/adaptive"
)

// sealing encrypts snapshot values when a sealer is configured. Each value
// is bound to its bundle, session and key, so a sealed value copied under
// another key fails to open.
type sealing struct {
	s *adaptive.Sealer
}

func additionalData(bundle, sessionID, key string) []byte {
	return []byte(bundle + "/" + sessionID + "/" + key)
}

func (sl sealing) seal(bundle, sessionID string, entries map[string][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(entries))
	for k, v := range entries {
		if sl.s == nil {
			out[k] = append([]byte(nil), v...)
			continue
		}
		sealed, err := sl.s.Seal(v, additionalData(bundle, sessionID, k))
		if err != nil {
			return nil, fmt.Errorf("seal %q: %w", k, err)
		}
		out[k] = sealed
	}
	return out, nil
}

func (sl sealing) open(bundle, sessionID string, entries map[string][]byte) (map[string][]byte, error) {
	out := make(map[string][]byte, len(entries))
	for k, v := range entries {
		if sl.s == nil {
			out[k] = append([]byte(nil), v...)
			continue
		}
		plain, err := sl.s.Open(v, additionalData(bundle, sessionID, k))
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", k, err)
		}
		out[k] = plain
	}
	return out, nil
}
