package channel

import "github.com/mattjoyce/dispatchd/internal/codec"

func marshalPayload(msg any) ([]byte, error) {
	return codec.Marshal(msg)
}

func unmarshalPayload(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
