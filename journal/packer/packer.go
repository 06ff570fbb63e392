// Package packer encodes journal metadata blobs with msgpack.
package packer

import "github.com/vmihailenco/msgpack/v5"

func EncodeMessage(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func DecodeMessage(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}
