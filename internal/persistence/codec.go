package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// EncodeValue serializes arbitrary Go values using encoding/gob.
// Callers must ensure that values are gob-encodable.
func EncodeValue(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)

	// Important: encode as interface{} so we can safely decode into interface{}.
	var iv = v
	if err := enc.Encode(&iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeValue deserializes a gob payload into T. Empty payloads decode to
// the zero value.
func DecodeValue[T any](data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, nil
	}

	// 1) Try interface-encoded payloads first (what EncodeValue produces).
	if v, ok, err := tryDecodeAsAny[T](data); err == nil && ok {
		return v, nil
	} else if err != nil && !mustRetryAsConcrete(err) {
		return zero, err
	}

	// 2) Fall back to decoding directly into T for concrete-encoded payloads.
	if v, err := tryDecodeAsT[T](data); err == nil {
		return v, nil
	} else if !isInterfaceType[T]() {
		return zero, err
	}

	return zero, errors.New("gob: unable to decode into target type")
}

func tryDecodeAsAny[T any](data []byte) (T, bool, error) {
	var zero T
	var iv any
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&iv); err != nil {
		return zero, false, err
	}
	if v, ok := iv.(T); ok {
		return v, true, nil
	}
	if isInterfaceType[T]() {
		return any(iv).(T), true, nil
	}
	return zero, false, fmt.Errorf("gob: decoded interface payload of type %T not assignable to target", iv)
}

func tryDecodeAsT[T any](data []byte) (T, error) {
	var v T
	dec := gob.NewDecoder(bytes.NewBuffer(data))
	if err := dec.Decode(&v); err != nil {
		return v, err
	}
	return v, nil
}

func mustRetryAsConcrete(err error) bool {
	// Heuristic: detect the specific gob message for interface-vs-concrete mismatch
	s := err.Error()
	return strings.Contains(s, "can only be decoded from remote interface") &&
		strings.Contains(s, "received concrete type")
}

func isInterfaceType[T any]() bool {
	return reflect.TypeOf((*T)(nil)).Elem().Kind() == reflect.Interface
}
