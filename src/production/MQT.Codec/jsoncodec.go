// Package codec is the JSON codec shared by the recorder and the producer.
package codec

import (
	"errors"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

var errNotObject = errors.New("payload is not a JSON object")

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// DecodeObject decodes data as a single JSON object. Arrays, scalars and
// null are rejected.
func DecodeObject(data []byte) (map[string]any, error) {
	var obj map[string]any
	if err := defaultConfig.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errNotObject
	}
	return obj, nil
}
