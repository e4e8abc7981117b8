package substrate

import (
	"encoding/binary"
	"errors"
)

const (
	tableSpace byte = 't'
	metaSpace  byte = 'm'
	stampSize       = 8
)

var errCorruptValue = errors.New("substrate: stored value shorter than stamp")

// tablePrefix returns the key prefix of a table. The name length is
// encoded first so that one table's prefix never covers another table.
func tablePrefix(name string) []byte {
	b := make([]byte, 0, 1+binary.MaxVarintLen64+len(name))
	b = append(b, tableSpace)
	b = binary.AppendUvarint(b, uint64(len(name)))
	return append(b, name...)
}

func metaKey(name string) []byte {
	b := make([]byte, 0, 1+len(name))
	b = append(b, metaSpace)
	return append(b, name...)
}

func encodeValue(stamp int64, value []byte) []byte {
	b := make([]byte, stampSize, stampSize+len(value))
	binary.BigEndian.PutUint64(b, uint64(stamp))
	return append(b, value...)
}

func decodeValue(raw []byte) (int64, []byte, error) {
	if len(raw) < stampSize {
		return 0, nil, errCorruptValue
	}
	stamp := int64(binary.BigEndian.Uint64(raw[:stampSize]))
	value := make([]byte, len(raw)-stampSize)
	copy(value, raw[stampSize:])
	return stamp, value, nil
}
