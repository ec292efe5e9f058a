package hashfunction

import (
	"encoding/binary"
	"fmt"

	"github.com/go-faster/city"
	"github.com/spaolacci/murmur3"
)

type HashFunctionType int

/* Pre-defined hash functions */
const (
	HashFunctionIdent  = HashFunctionType(0)
	HashFunctionMurmur = HashFunctionType(1)
	HashFunctionCity   = HashFunctionType(2)
)

var errUnknownValueType = func(v interface{}, hf HashFunctionType) error {
	return fmt.Errorf("unknown type of value that the hash will be calculated from: %T for %d hash type", v, hf)
}

func HashFunctionByName(hfn string) (HashFunctionType, error) {
	switch hfn {
	case "identity", "ident", "":
		return HashFunctionIdent, nil
	case "murmur":
		return HashFunctionMurmur, nil
	case "city":
		return HashFunctionCity, nil
	default:
		return 0, fmt.Errorf("unknown hash function type: %s", hfn)
	}
}

func EncodeUInt64(input uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, input)
	return buf
}

func encodeValue(input any, hf HashFunctionType) ([]byte, error) {
	switch v := input.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case int64:
		return EncodeUInt64(uint64(v)), nil
	case uint64:
		return EncodeUInt64(v), nil
	default:
		return nil, errUnknownValueType(input, hf)
	}
}

// ApplyHashFunction hashes a primary-key column value with the given
// hash function.
//
// Parameters:
//   - input: the column value, one of []byte, string, int64, uint64.
//   - hf: the hash function to apply.
//
// Returns:
//   - uint32: the hash of the value.
//   - error: an error if the value type is not hashable.
func ApplyHashFunction(input any, hf HashFunctionType) (uint32, error) {
	buf, err := encodeValue(input, hf)
	if err != nil {
		return 0, err
	}
	switch hf {
	case HashFunctionMurmur:
		return murmur3.Sum32(buf), nil
	case HashFunctionCity:
		return city.Hash32(buf), nil
	default:
		return 0, fmt.Errorf("hash function %d is not applicable to raw values", hf)
	}
}

// PartitionKeyBuckets is the size of the hash space hash-partitioned
// tables split over. Bucket numbers become the two-byte big-endian
// partition-key prefix fed into the key-range index.
const PartitionKeyBuckets = 0x10000

// EncodePartitionKey maps a primary-key column value to the partition
// key of a hash-partitioned table. For HashFunctionIdent the raw encoded
// value is the partition key (range-partitioned tables).
func EncodePartitionKey(input any, hf HashFunctionType) ([]byte, error) {
	if hf == HashFunctionIdent {
		return encodeValue(input, hf)
	}
	h, err := ApplyHashFunction(input, hf)
	if err != nil {
		return nil, err
	}
	bucket := uint16(h % PartitionKeyBuckets)
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, bucket)
	return buf, nil
}
