package kafka

import (
	"encoding/json"

	"github.com/datasift/datasift-go"
	"github.com/linkedin/goavro"
	"github.com/pkg/errors"
)

// Supported message encodings.
const (
	EncodingJSON = "json"
	EncodingAvro = "avro"
)

// frameSchema is the Avro schema archived frames are written with. The
// interaction itself is kept as JSON since its shape varies by source.
const frameSchema = `{
	"type": "record",
	"name": "Frame",
	"namespace": "com.datasift.stream",
	"fields": [
		{"name": "hash", "type": "string"},
		{"name": "deleted", "type": "boolean"},
		{"name": "data", "type": "string"}
	]
}`

// codec turns interactions into message values and back. Values decode to
// frames in the multi-stream wire format, {"hash": ..., "data": {...}}, so
// that a stream.Dispatcher can route them.
type codec interface {
	encode(hash string, interaction datasift.Interaction, deleted bool) ([]byte, error)
	decode(value []byte) (map[string]interface{}, error)
}

func newCodec(encoding string) (codec, error) {
	switch encoding {
	case EncodingJSON, "":
		return jsonCodec{}, nil
	case EncodingAvro:
		c, err := goavro.NewCodec(frameSchema)
		if err != nil {
			return nil, errors.Wrap(err, "parsing frame schema")
		}
		return avroCodec{codec: c}, nil
	default:
		return nil, errors.Errorf("unsupported kafka message encoding: '%v'", encoding)
	}
}

type jsonCodec struct{}

func (jsonCodec) encode(hash string, interaction datasift.Interaction, deleted bool) ([]byte, error) {
	data := interaction
	if deleted && !interaction.IsDeleted() {
		data = copyWithDeleted(interaction)
	}
	b, err := json.Marshal(map[string]interface{}{"hash": hash, "data": data})
	return b, errors.Wrap(err, "marshaling frame")
}

func (jsonCodec) decode(value []byte) (map[string]interface{}, error) {
	frame := make(map[string]interface{})
	err := json.Unmarshal(value, &frame)
	return frame, errors.Wrap(err, "unmarshaling json")
}

type avroCodec struct {
	codec *goavro.Codec
}

func (a avroCodec) encode(hash string, interaction datasift.Interaction, deleted bool) ([]byte, error) {
	data, err := json.Marshal(interaction)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling interaction")
	}
	b, err := a.codec.BinaryFromNative(nil, map[string]interface{}{
		"hash":    hash,
		"deleted": deleted,
		"data":    string(data),
	})
	return b, errors.Wrap(err, "encoding avro frame")
}

func (a avroCodec) decode(value []byte) (map[string]interface{}, error) {
	native, _, err := a.codec.NativeFromBinary(value)
	if err != nil {
		return nil, errors.Wrap(err, "decoding avro frame")
	}
	rec, ok := native.(map[string]interface{})
	if !ok {
		return nil, errors.Errorf("avro frame decoded to %T, not a record", native)
	}
	raw, _ := rec["data"].(string)
	data := make(datasift.Interaction)
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, errors.Wrap(err, "unmarshaling archived interaction")
	}
	if deleted, _ := rec["deleted"].(bool); deleted && !data.IsDeleted() {
		data = copyWithDeleted(data)
	}
	return map[string]interface{}{"hash": rec["hash"], "data": map[string]interface{}(data)}, nil
}

func copyWithDeleted(i datasift.Interaction) datasift.Interaction {
	ret := make(datasift.Interaction, len(i)+1)
	for k, v := range i {
		ret[k] = v
	}
	ret["deleted"] = true
	return ret
}
