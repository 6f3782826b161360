package plannode

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Encode serializes a fragment tree to its wire form. The encoding is
// deterministic: identical trees produce identical bytes.
func Encode(n *Node) ([]byte, error) {
	if n == nil {
		return nil, fmt.Errorf("cannot encode nil plan node")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan node: %w", err)
	}
	return data, nil
}

// Decode parses a wire-form fragment tree
func Decode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode plan node: %w", err)
	}
	if n.Kind == "" {
		return nil, fmt.Errorf("decoded plan node has no kind")
	}
	return &n, nil
}

// EncodeProperties serializes a stage's custom-properties map. Proto
// deterministic marshaling keeps the bytes stable across runs regardless of
// map iteration order.
func EncodeProperties(props map[string]string) ([]byte, error) {
	fields := make(map[string]any, len(props))
	for k, v := range props {
		fields[k] = v
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build properties struct: %w", err)
	}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties: %w", err)
	}
	return data, nil
}

// DecodeProperties parses a serialized custom-properties map
func DecodeProperties(data []byte) (map[string]string, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to decode properties: %w", err)
	}
	props := make(map[string]string, len(st.GetFields()))
	for k, v := range st.GetFields() {
		props[k] = v.GetStringValue()
	}
	return props, nil
}
