package coursesaga

import (
	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// Keys used in the SagaContext extension map by the purchase saga.
const (
	KeyAmount        = "amount"
	KeyPaymentMethod = "payment_method"
)

// SagaContext is the mutable state threaded through the steps of one saga
// instance. It is owned by a single saga invocation and never shared, so it
// carries no locking.
//
// Identifiers are append-only: once a step records an id, no later step can
// overwrite it. Once compensation starts the context is sealed and all
// writes fail.
type SagaContext struct {
	sagaID   string
	userID   int64
	courseID int64

	ids    map[Identifier]int64
	extra  *btree.Map[string, any]
	sealed bool
}

// NewSagaContext creates a context with a fresh saga id.
func NewSagaContext(userID, courseID int64) *SagaContext {
	return NewSagaContextWithID(uuid.NewString(), userID, courseID)
}

// NewSagaContextWithID creates a context using the given correlation token.
func NewSagaContextWithID(sagaID string, userID, courseID int64) *SagaContext {
	return &SagaContext{
		sagaID:   sagaID,
		userID:   userID,
		courseID: courseID,
		ids:      make(map[Identifier]int64),
		extra:    btree.NewMap[string, any](8),
	}
}

func (c *SagaContext) SagaID() string  { return c.sagaID }
func (c *SagaContext) UserID() int64   { return c.userID }
func (c *SagaContext) CourseID() int64 { return c.courseID }

// ID returns the identifier recorded under name.
func (c *SagaContext) ID(name Identifier) (int64, bool) {
	v, ok := c.ids[name]
	return v, ok
}

func (c *SagaContext) PaymentID() (int64, bool) {
	return c.ID(IdentifierPayment)
}

func (c *SagaContext) EnrollmentID() (int64, bool) {
	return c.ID(IdentifierEnrollment)
}

// RecordID writes an identifier. Writing the same identifier twice fails.
func (c *SagaContext) RecordID(name Identifier, value int64) error {
	if c.sealed {
		return ErrContextSealed
	}
	if _, exists := c.ids[name]; exists {
		return IdentifierWritten(name)
	}
	c.ids[name] = value
	return nil
}

// Identifiers returns a copy of all recorded identifiers.
func (c *SagaContext) Identifiers() map[Identifier]int64 {
	out := make(map[Identifier]int64, len(c.ids))
	for k, v := range c.ids {
		out[k] = v
	}
	return out
}

// Put stores a value in the extension map.
func (c *SagaContext) Put(key string, value any) error {
	if c.sealed {
		return ErrContextSealed
	}
	c.extra.Set(key, value)
	return nil
}

// Get reads a value from the extension map.
func (c *SagaContext) Get(key string) (any, bool) {
	return c.extra.Get(key)
}

// Keys returns the extension map keys in sorted order.
func (c *SagaContext) Keys() []string {
	keys := make([]string, 0, c.extra.Len())
	c.extra.Scan(func(key string, _ any) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Sealed reports whether the context has become read-only.
func (c *SagaContext) Sealed() bool {
	return c.sealed
}

func (c *SagaContext) seal() {
	c.sealed = true
}

// Lookup retrieves a typed value from the extension map. It returns false
// when the key is absent or holds a value of another type.
func Lookup[R any](c *SagaContext, key string) (R, bool) {
	var zero R
	v, ok := c.extra.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(R)
	if !ok {
		return zero, false
	}
	return typed, true
}
