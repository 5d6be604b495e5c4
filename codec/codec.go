// Package codec turns messages into versioned envelopes and back.
//
// An envelope names the message type and the version its body was written
// for. A Codec writes bodies for any version up to its own and reads bodies
// of any version up to its own, running the registered adapters in between.
package codec

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/sarchlab/agency/comm"
)

// CurrentVersion is the wire version this build speaks natively.
const CurrentVersion = 2

// Errors reported by a Codec.
var (
	ErrUnknownType     = errors.New("unknown message type")
	ErrVersionTooNew   = errors.New("message version is newer than supported")
	ErrMalformedBody   = errors.New("malformed message body")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// Envelope is what goes on the wire.
type Envelope struct {
	Type    string         `json:"type" cbor:"type"`
	Version int            `json:"version" cbor:"version"`
	Body    map[string]any `json:"body" cbor:"body"`
}

// An Adapter converts the body of one message type across the version that
// introduced a change. Upgrade goes from Version-1 to Version, Downgrade the
// other way.
type Adapter struct {
	Type      string
	Version   int
	Upgrade   func(body map[string]any) error
	Downgrade func(body map[string]any) error
}

// A Codec encodes and decodes messages in one format at one version.
type Codec struct {
	registry *Registry
	format   Format
	version  int
	adapters []Adapter
}

// New creates a Codec.
func New(registry *Registry, format Format, version int) *Codec {
	return &Codec{
		registry: registry,
		format:   format,
		version:  version,
	}
}

// Version returns the native version of the codec.
func (c *Codec) Version() int {
	return c.version
}

// Format returns the format of the codec.
func (c *Codec) Format() Format {
	return c.format
}

// Registry returns the type registry of the codec.
func (c *Codec) Registry() *Registry {
	return c.registry
}

// WithVersion returns a codec sharing the registry, the format, and the
// adapters of c, at another native version.
func (c *Codec) WithVersion(version int) *Codec {
	other := *c
	other.version = version
	other.adapters = slices.Clone(c.adapters)

	return &other
}

// AddAdapter registers an adapter.
func (c *Codec) AddAdapter(a Adapter) {
	c.adapters = append(c.adapters, a)
	slices.SortStableFunc(c.adapters, func(x, y Adapter) int {
		return cmp.Compare(x.Version, y.Version)
	})
}

// Encode writes msg for a reader of the given version. The target version
// can not be newer than the codec's own.
func (c *Codec) Encode(msg comm.Msg, target int) ([]byte, error) {
	if target > c.version {
		return nil, fmt.Errorf("encode for version %d at version %d: %w",
			target, c.version, ErrVersionTooNew)
	}

	name, err := c.registry.NameOf(msg)
	if err != nil {
		return nil, err
	}

	body, err := c.toBody(msg)
	if err != nil {
		return nil, err
	}

	for _, a := range slices.Backward(c.adapters) {
		if a.Type != name || a.Version <= target || a.Version > c.version {
			continue
		}

		if a.Downgrade == nil {
			continue
		}

		if err := a.Downgrade(body); err != nil {
			return nil, fmt.Errorf("downgrade %s to version %d: %w",
				name, a.Version-1, err)
		}
	}

	return c.format.Marshal(Envelope{Type: name, Version: target, Body: body})
}

// Decode reads an envelope written for any version up to the codec's own.
func (c *Codec) Decode(data []byte) (comm.Msg, error) {
	var env Envelope
	if err := c.format.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrInvalidEnvelope)
	}

	if env.Version > c.version {
		return nil, fmt.Errorf("decode version %d at version %d: %w",
			env.Version, c.version, ErrVersionTooNew)
	}

	msg, err := c.registry.New(env.Type)
	if err != nil {
		return nil, err
	}

	if env.Body == nil {
		env.Body = map[string]any{}
	}

	for _, a := range c.adapters {
		if a.Type != env.Type || a.Version <= env.Version ||
			a.Version > c.version {
			continue
		}

		if a.Upgrade == nil {
			continue
		}

		if err := a.Upgrade(env.Body); err != nil {
			return nil, fmt.Errorf("upgrade %s to version %d: %w",
				env.Type, a.Version, err)
		}
	}

	if err := c.fromBody(env.Body, msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// Peek reads the type and the version of an envelope without decoding the
// message.
func (c *Codec) Peek(data []byte) (string, int, error) {
	var env Envelope
	if err := c.format.Unmarshal(data, &env); err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	return env.Type, env.Version, nil
}

func (c *Codec) toBody(msg comm.Msg) (map[string]any, error) {
	raw, err := c.format.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	body := map[string]any{}
	if err := c.format.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	return body, nil
}

func (c *Codec) fromBody(body map[string]any, msg comm.Msg) error {
	raw, err := c.format.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	if err := c.format.Unmarshal(raw, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedBody, err)
	}

	return nil
}
