package mesh

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/objmesh-go/internal/storage/substrate"
)

// Frame kinds, sent as the first byte of every user message.
const (
	kindPullRequest  byte = 1
	kindPullResponse byte = 2
)

var errMalformedFrame = errors.New("mesh: malformed frame")

// pullRequest asks a peer for one table of an app.
//
//	1: id    string
//	2: app   string
//	3: table string
//	4: from  string (requesting device id)
type pullRequest struct {
	ID    string
	App   string
	Table string
	From  string
}

// pullResponse answers a pullRequest.
//
//	1: id      string
//	2: error   string
//	3: entries repeated message { 1: key bytes, 2: value bytes, 3: stamp varint }
type pullResponse struct {
	ID      string
	Error   string
	Entries []substrate.Entry
}

func (r *pullRequest) marshal() []byte {
	b := []byte{kindPullRequest}
	b = appendString(b, 1, r.ID)
	b = appendString(b, 2, r.App)
	b = appendString(b, 3, r.Table)
	b = appendString(b, 4, r.From)
	return b
}

func (r *pullRequest) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skip(num, typ, b)
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			r.ID = v
		case 2:
			r.App = v
		case 3:
			r.Table = v
		case 4:
			r.From = v
		}
		return n, nil
	})
}

func (r *pullResponse) marshal() []byte {
	b := []byte{kindPullResponse}
	b = appendString(b, 1, r.ID)
	b = appendString(b, 2, r.Error)
	for _, e := range r.Entries {
		var m []byte
		m = protowire.AppendTag(m, 1, protowire.BytesType)
		m = protowire.AppendBytes(m, e.Key)
		m = protowire.AppendTag(m, 2, protowire.BytesType)
		m = protowire.AppendBytes(m, e.Value)
		m = protowire.AppendTag(m, 3, protowire.VarintType)
		m = protowire.AppendVarint(m, uint64(e.Stamp))

		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func (r *pullResponse) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return skip(num, typ, b)
		}
		switch num {
		case 1, 2:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			if num == 1 {
				r.ID = v
			} else {
				r.Error = v
			}
			return n, nil
		case 3:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			e, err := unmarshalEntry(v)
			if err != nil {
				return 0, err
			}
			r.Entries = append(r.Entries, e)
			return n, nil
		default:
			return skip(num, typ, b)
		}
	})
}

func unmarshalEntry(b []byte) (substrate.Entry, error) {
	var e substrate.Entry
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			e.Key = append([]byte(nil), v...)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			e.Value = append([]byte{}, v...)
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			e.Stamp = int64(v)
			return n, nil
		default:
			return skip(num, typ, b)
		}
	})
	return e, err
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// consumeFields walks a protobuf message, calling fn for each field with
// the bytes following its tag. fn returns the bytes it consumed.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errMalformedFrame, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("%w: %v", errMalformedFrame, err)
		}
		b = b[m:]
	}
	return nil
}

func skip(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}
