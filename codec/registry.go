package codec

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/sarchlab/agency/comm"
)

// A Registry knows the wire name of every message type.
type Registry struct {
	lock   sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
}

// Register makes the type of proto known as name. proto must be a pointer
// to a struct.
func (r *Registry) Register(name string, proto comm.Msg) {
	t := reflect.TypeOf(proto)
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("cannot register %s: not a pointer to a struct", t))
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if _, found := r.byName[name]; found {
		panic(fmt.Sprintf("message type %q registered twice", name))
	}

	r.byName[name] = t.Elem()
	r.byType[t.Elem()] = name
}

// NameOf returns the wire name of the type of msg.
func (r *Registry) NameOf(msg comm.Msg) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	t := reflect.TypeOf(msg)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	name, found := r.byType[t]
	if !found {
		return "", fmt.Errorf("%s: %w", t, ErrUnknownType)
	}

	return name, nil
}

// New creates an empty message of the type known as name.
func (r *Registry) New(name string) (comm.Msg, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	t, found := r.byName[name]
	if !found {
		return nil, fmt.Errorf("%q: %w", name, ErrUnknownType)
	}

	return reflect.New(t).Interface().(comm.Msg), nil
}

// Names returns the registered wire names.
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}

	return names
}

// DefaultRegistry returns a Registry that knows every message type of the
// comm package.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("base", &comm.Base{})
	r.Register("dialog", &comm.Dialog{})
	r.Register("duplicate", &comm.Duplicate{})
	r.Register("announcement", &comm.Announcement{})
	r.Register("bid", &comm.Bid{})
	r.Register("refusal", &comm.Refusal{})
	r.Register("grant", &comm.Grant{})
	r.Register("rejection", &comm.Rejection{})
	r.Register("cancellation", &comm.Cancellation{})
	r.Register("acknowledgement", &comm.Acknowledgement{})
	r.Register("update-report", &comm.UpdateReport{})
	r.Register("final-report", &comm.FinalReport{})
	r.Register("request", &comm.Request{})
	r.Register("response", &comm.Response{})
	r.Register("notification", &comm.Notification{})

	return r
}
