package stats

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

// Content types served by the codecs.
const (
	ContentTypeJSON     = "application/json; charset=UTF-8"
	ContentTypeProtobuf = "application/x-protobuf"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec encodes a Snapshot for the wire.
type Codec interface {
	Encode(s Snapshot) ([]byte, error)
	ContentType() string
	Name() string
}

// CodecType represents the codec type
type CodecType byte

const (
	CodecJSON     CodecType = 0x01
	CodecProtobuf CodecType = 0x03
)

// GetCodec returns a codec by type
func GetCodec(typ CodecType) (Codec, error) {
	switch typ {
	case CodecJSON:
		return JSONCodec{}, nil
	case CodecProtobuf:
		return ProtobufCodec{}, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// Negotiate picks a codec from an Accept header value. Anything that does
// not ask for protobuf gets JSON.
func Negotiate(accept string) Codec {
	if strings.Contains(accept, "application/x-protobuf") ||
		strings.Contains(accept, "application/protobuf") {
		return ProtobufCodec{}
	}
	return JSONCodec{}
}

// JSONCodec implements JSON encoding
type JSONCodec struct{}

func (JSONCodec) Encode(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func (JSONCodec) ContentType() string { return ContentTypeJSON }

func (JSONCodec) Name() string { return "json" }

// ProtobufCodec encodes a Snapshot as a google.protobuf.Struct keyed like the
// JSON form.
type ProtobufCodec struct{}

func (ProtobufCodec) Encode(s Snapshot) ([]byte, error) {
	msg, err := ToStruct(s)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func (ProtobufCodec) ContentType() string { return ContentTypeProtobuf }

func (ProtobufCodec) Name() string { return "protobuf" }

// ToStruct converts a Snapshot into a protobuf Struct.
func ToStruct(s Snapshot) (*structpb.Struct, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("snapshot to struct: %w", err)
	}
	return msg, nil
}
