// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package codec

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeBytes(t *testing.T) {
	tests := []struct {
		in  []byte
		out []byte
	}{
		{[]byte{}, []byte{0, 0, 0, 0, 0, 0, 0, 0, 247}},
		{[]byte{1, 2, 3}, []byte{1, 2, 3, 0, 0, 0, 0, 0, 250}},
		{[]byte{1, 2, 3, 0}, []byte{1, 2, 3, 0, 0, 0, 0, 0, 251}},
		{[]byte{1, 2, 3, 4, 5, 6, 7, 8}, []byte{1, 2, 3, 4, 5, 6, 7, 8, 255, 0, 0, 0, 0, 0, 0, 0, 0, 247}},
	}
	for _, tt := range tests {
		encoded := EncodeBytes(nil, tt.in)
		require.Equal(t, tt.out, encoded)
		remain, decoded, err := DecodeBytes(encoded, nil)
		require.NoError(t, err)
		require.Empty(t, remain)
		require.Equal(t, tt.in, decoded)
	}
}

func TestKeyNoCollision(t *testing.T) {
	k1 := EncodeKeyValue(EncodeKeyValue(nil, []byte("a"), false), []byte("bc"), false)
	k2 := EncodeKeyValue(EncodeKeyValue(nil, []byte("ab"), false), []byte("c"), false)
	require.NotEqual(t, k1, k2)

	k3 := EncodeKeyValue(nil, nil, true)
	k4 := EncodeKeyValue(nil, []byte{}, false)
	require.NotEqual(t, k3, k4)
}

func TestDecodeKey(t *testing.T) {
	key := EncodeKeyValue(nil, []byte("sym"), false)
	key = EncodeKeyValue(key, nil, true)
	key = EncodeKeyValue(key, []byte{}, false)
	values, err := DecodeKey(key)
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.Equal(t, []byte("sym"), values[0])
	require.Nil(t, values[1])
	require.NotNil(t, values[2])
	require.Len(t, values[2], 0)

	values, err = DecodeKey(nil)
	require.NoError(t, err)
	require.Empty(t, values)

	_, err = DecodeKey([]byte{bytesFlag, 1, 2})
	require.Error(t, err)
	_, err = DecodeKey([]byte{7})
	require.Error(t, err)
}

func TestKeyOrder(t *testing.T) {
	inputs := [][]byte{[]byte("b"), nil, []byte("a"), []byte("ab"), []byte{}, []byte("abcdefghij")}
	keys := make([][]byte, 0, len(inputs))
	for _, in := range inputs {
		keys = append(keys, EncodeKeyValue(nil, in, in == nil))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	var got []string
	for _, k := range keys {
		values, err := DecodeKey(k)
		require.NoError(t, err)
		if values[0] == nil {
			got = append(got, "<nil>")
			continue
		}
		got = append(got, string(values[0]))
	}
	require.Equal(t, []string{"<nil>", "", "a", "ab", "abcdefghij", "b"}, got)
}
