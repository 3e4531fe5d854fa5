package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Request is one gateway call, as carried by both transports
type Request struct {
	Method string                 `json:"method"`
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// ToValue converts any JSON encodable value to a protobuf Value
func ToValue(v interface{}) (*structpb.Value, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return structpb.NewValue(generic)
}

// FromValue decodes a protobuf Value into out, which follows the
// encoding/json rules
func FromValue(v *structpb.Value, out interface{}) error {
	data, err := json.Marshal(v.AsInterface())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// toGeneric turns v into the maps, slices and scalars structpb accepts by a
// JSON round trip
func toGeneric(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return generic, nil
}

// EncodeRequest packs a request in the Struct message of the gRPC service
func EncodeRequest(req *Request) (*structpb.Struct, error) {
	params, err := toGeneric(req.Params)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{
		"method": req.Method,
		"action": req.Action,
	}
	if params != nil {
		fields["params"] = params
	}
	return structpb.NewStruct(fields)
}

// DecodeRequest is the inverse of EncodeRequest
func DecodeRequest(s *structpb.Struct) (*Request, error) {
	m := s.AsMap()
	req := &Request{}
	req.Method, _ = m["method"].(string)
	req.Action, _ = m["action"].(string)
	if req.Action == "" {
		return nil, fmt.Errorf("missing action")
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if p, ok := m["params"]; ok && p != nil {
		params, ok := p.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("params must be a dict")
		}
		req.Params = params
	}
	return req, nil
}

// EncodeResponse wraps a handler result in the response Struct
func EncodeResponse(v interface{}) (*structpb.Struct, error) {
	data, err := ToValue(v)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"data": data}}, nil
}

// DecodeResponse unwraps a response Struct into out. A nil out discards the
// data.
func DecodeResponse(s *structpb.Struct, out interface{}) error {
	if out == nil {
		return nil
	}
	data, ok := s.GetFields()["data"]
	if !ok {
		return nil
	}
	return FromValue(data, out)
}
