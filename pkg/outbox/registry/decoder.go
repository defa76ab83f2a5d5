package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

// ErrNoDecoder is returned for an event type/version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// DecodeFunc turns an envelope's data field into a typed payload.
type DecodeFunc func(data json.RawMessage) (any, error)

type schema struct {
	event   enums.OutboxEventType
	version int
}

// DecoderRegistry maps (event type, envelope version) to payload decoders so
// consumers can accept several schema versions side by side.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[schema]DecodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[schema]DecodeFunc)}
}

// Register installs fn, replacing any decoder already set for the pair.
func (r *DecoderRegistry) Register(event enums.OutboxEventType, version int, fn DecodeFunc) {
	r.mu.Lock()
	r.decoders[schema{event, version}] = fn
	r.mu.Unlock()
}

// RegisterJSON installs a decoder that unmarshals into a fresh *T.
func RegisterJSON[T any](r *DecoderRegistry, event enums.OutboxEventType, version int) {
	r.Register(event, version, func(data json.RawMessage) (any, error) {
		payload := new(T)
		if err := json.Unmarshal(data, payload); err != nil {
			return nil, fmt.Errorf("decode %s@v%d: %w", event, version, err)
		}
		return payload, nil
	})
}

// Handles reports whether any version of event has a decoder.
func (r *DecoderRegistry) Handles(event enums.OutboxEventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key := range r.decoders {
		if key.event == event {
			return true
		}
	}
	return false
}

func (r *DecoderRegistry) Decode(event enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	r.mu.RLock()
	fn, ok := r.decoders[schema{event, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, event, version)
	}
	return fn(data)
}
