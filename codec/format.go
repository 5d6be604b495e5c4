package codec

import (
	"encoding/json"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// A Format turns values into bytes and back.
type Format interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSON is the format spoken over HTTP tunnels.
var JSON Format = jsonFormat{}

// CBOR is the format spoken between brokers and over the bus. Encoding is
// deterministic: equal messages produce equal bytes.
var CBOR Format = cborFormat{}

type jsonFormat struct{}

func (jsonFormat) Name() string        { return "json" }
func (jsonFormat) ContentType() string { return "application/json" }

func (jsonFormat) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonFormat) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborFormat struct{}

func (cborFormat) Name() string        { return "cbor" }
func (cborFormat) ContentType() string { return "application/cbor" }

func (cborFormat) Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func (cborFormat) Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewCBOREncoder returns a stream encoder writing CBOR items to w.
func NewCBOREncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewCBORDecoder returns a stream decoder reading CBOR items from r.
func NewCBORDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
