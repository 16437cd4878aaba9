package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codecPayload struct {
	To    string `json:"to" msgpack:"to"`
	Tries int    `json:"tries" msgpack:"tries"`
}

func TestGetCodec(t *testing.T) {
	assert.Equal(t, CodecNameJSON, GetCodec("").Name())
	assert.Equal(t, CodecNameJSON, GetCodec("protobuf").Name())
	assert.Equal(t, CodecNameMsgpack, GetCodec(CodecNameMsgpack).Name())
}

func TestCodecs(t *testing.T) {
	for _, c := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(c.Name(), func(t *testing.T) {
			data, err := c.Marshal(codecPayload{To: "a@b.c", Tries: 2})
			require.NoError(t, err)

			var out codecPayload
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, codecPayload{To: "a@b.c", Tries: 2}, out)
		})
	}
}
