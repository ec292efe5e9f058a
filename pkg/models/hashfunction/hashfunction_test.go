package hashfunction_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stratodb/strato/pkg/models/hashfunction"
)

func TestHashFunctionByName(t *testing.T) {
	assert := assert.New(t)

	for name, want := range map[string]hashfunction.HashFunctionType{
		"":         hashfunction.HashFunctionIdent,
		"identity": hashfunction.HashFunctionIdent,
		"murmur":   hashfunction.HashFunctionMurmur,
		"city":     hashfunction.HashFunctionCity,
	} {
		hf, err := hashfunction.HashFunctionByName(name)
		assert.NoError(err)
		assert.Equal(want, hf)
	}

	_, err := hashfunction.HashFunctionByName("crc")
	assert.Error(err)
}

func TestEncodePartitionKey(t *testing.T) {
	assert := assert.New(t)

	// Identity keeps the raw bytes.
	k, err := hashfunction.EncodePartitionKey([]byte("user-17"), hashfunction.HashFunctionIdent)
	assert.NoError(err)
	assert.Equal([]byte("user-17"), k)

	// Hashed keys are a fixed two-byte bucket prefix, stable per value.
	for _, hf := range []hashfunction.HashFunctionType{
		hashfunction.HashFunctionMurmur,
		hashfunction.HashFunctionCity,
	} {
		a, err := hashfunction.EncodePartitionKey("user-17", hf)
		assert.NoError(err)
		assert.Len(a, 2)

		b, err := hashfunction.EncodePartitionKey("user-17", hf)
		assert.NoError(err)
		assert.Equal(a, b)

		c, err := hashfunction.EncodePartitionKey(int64(42), hf)
		assert.NoError(err)
		assert.Len(c, 2)
	}

	_, err = hashfunction.EncodePartitionKey(3.14, hashfunction.HashFunctionMurmur)
	assert.Error(err)
}
