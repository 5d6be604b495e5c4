package broker

import (
	"fmt"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/sarchlab/agency/codec"
	"github.com/sarchlab/agency/comm"
)

// Op names what a frame asks the other side to do.
type Op string

// Frame operations.
const (
	// OpHello introduces a worker to the master.
	OpHello Op = "hello"

	// OpBind asks the master to route a key to the worker.
	OpBind Op = "bind"

	// OpUnbind withdraws an earlier OpBind.
	OpUnbind Op = "unbind"

	// OpDispatch carries a message. From the master it is a delivery, from a
	// worker it is a message to route.
	OpDispatch Op = "dispatch"
)

// A Frame is one item on the broker socket.
type Frame struct {
	Op      Op     `cbor:"op"`
	Worker  string `cbor:"worker,omitempty"`
	Key     string `cbor:"key,omitempty"`
	Shard   string `cbor:"shard,omitempty"`
	Final   bool   `cbor:"final,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`
}

// RoutingKey returns the key a bind or unbind frame is about.
func (f Frame) RoutingKey() comm.RoutingKey {
	return comm.RoutingKey{Key: f.Key, Shard: f.Shard}
}

func (f Frame) String() string {
	return fmt.Sprintf("%s worker=%s key=%s@%s final=%t payload=%dB",
		f.Op, f.Worker, f.Key, f.Shard, f.Final, len(f.Payload))
}

// conn frames a socket. Sends may come from any goroutine, receives from a
// single reader.
type conn struct {
	raw net.Conn
	dec *cbor.Decoder

	writeLock sync.Mutex
	enc       *cbor.Encoder
}

func newConn(raw net.Conn) *conn {
	return &conn{
		raw: raw,
		enc: codec.NewCBOREncoder(raw),
		dec: codec.NewCBORDecoder(raw),
	}
}

func (c *conn) send(f Frame) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	if err := c.enc.Encode(f); err != nil {
		return fmt.Errorf("send %s frame: %w", f.Op, err)
	}

	return nil
}

func (c *conn) receive() (Frame, error) {
	var f Frame
	if err := c.dec.Decode(&f); err != nil {
		return Frame{}, err
	}

	return f, nil
}

func (c *conn) close() error {
	return c.raw.Close()
}

func dispatchFrame(enc *codec.Codec, msg comm.Msg) (Frame, error) {
	payload, err := enc.Encode(msg, enc.Version())
	if err != nil {
		return Frame{}, err
	}

	return Frame{Op: OpDispatch, Payload: payload}, nil
}
