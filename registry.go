package sqlx

import "fmt"

// primitive reports whether v is one of the types the renderer knows
// how to encode natively, without consulting a ValueEncoderRegistry:
// nil, bool, signed/unsigned integers, float32/64, string, rune/byte,
// time.Time (standing in for LocalDate/LocalTime/LocalDateTime/Instant
// — the distinction is made by the caller choosing a layout, not by
// the Go type), uuid.UUID, and []byte. See decode.go / literal.go for
// how each is rendered.
func primitive(v any) bool {
	switch v.(type) {
	case nil, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		string, rune, byte,
		[]byte:
		return true
	default:
		return isTemporal(v) || isUUID(v)
	}
}

// Encoder converts a value of some non-primitive kind into another
// value — possibly still non-primitive, in which case the registry is
// consulted again until a primitive is reached.
type Encoder func(v any) (any, error)

// ValueEncoderRegistry resolves non-primitive bound values (custom
// domain types, enums via their Stringer form, etc.) down to a
// primitive the renderer can encode. Lookups are keyed by the
// value's dynamic type name (as fmt's %T prints it), so registration
// is by concrete Go type.
type ValueEncoderRegistry struct {
	encoders map[any]Encoder
}

// NewValueEncoderRegistry returns an empty registry. Use Register to
// add encoders before passing the registry to a Statement via
// WithEncoders.
func NewValueEncoderRegistry() *ValueEncoderRegistry {
	return &ValueEncoderRegistry{encoders: make(map[any]Encoder)}
}

// keyOf is the map key under which Register/resolve store and look up
// an encoder: the dynamic type of v, rendered as a string.
func keyOf(v any) any {
	return fmt.Sprintf("%T", v)
}

// Register associates the Go type of sample with an Encoder. sample is
// used only to derive the type key; its value is never inspected.
func (r *ValueEncoderRegistry) Register(sample any, enc Encoder) {
	r.encoders[keyOf(sample)] = enc
}

// maxEncodeDepth bounds the number of chained encoder lookups before
// resolve gives up and reports NamedParameterTypeNotSupported. This is
// the registry's cycle guard: a misconfigured registry that encodes A
// -> B -> A would otherwise loop forever.
const maxEncodeDepth = 32

// resolve repeatedly applies registered encoders to v until a
// primitive value is produced or the registry has nothing registered
// for its type, in which case resolve fails.
func (r *ValueEncoderRegistry) resolve(v any) (any, error) {
	if primitive(v) {
		return v, nil
	}

	if s, ok := v.(fmt.Stringer); ok {
		if isEnumLike(v) {
			return s.String(), nil
		}
	}

	for depth := 0; depth < maxEncodeDepth; depth++ {
		if primitive(v) {
			return v, nil
		}
		enc, ok := r.encoders[keyOf(v)]
		if !ok {
			return nil, fmt.Errorf("%w: no encoder registered for %T", ErrNamedParameterTypeNotSupported, v)
		}
		next, err := enc(v)
		if err != nil {
			return nil, err
		}
		v = next
	}
	return nil, fmt.Errorf("%w: encoder chain for %T exceeded depth %d (possible cycle)",
		ErrNamedParameterTypeNotSupported, v, maxEncodeDepth)
}

// isEnumLike reports whether v is a non-primitive value with a String
// method — Go's idiom for enums — so it renders by its textual name.
// The underlying kind is not checked, and resolve applies this before
// consulting any registered encoder.
func isEnumLike(v any) bool {
	switch v.(type) {
	case fmt.Stringer:
		return !primitive(v)
	default:
		return false
	}
}
