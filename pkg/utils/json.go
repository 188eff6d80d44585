package utils

import (
	"github.com/bytedance/sonic"
)

// Marshal 使用 sonic 序列化
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal 使用 sonic 反序列化
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// FromJSONBytes decodes data into a new T.
func FromJSONBytes[T any](data []byte) (T, error) {
	var v T
	err := sonic.Unmarshal(data, &v)
	return v, err
}

// Clone returns a deep copy of v through its JSON form. Fields without a
// JSON representation are lost.
func Clone[T any](v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := sonic.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
