// Package ids generates the gateway's time-ordered identifiers.
//
// Episode ids and inference ids are both UUIDv7: a 48-bit millisecond
// timestamp prefix followed by random bits, so ids sort lexicographically by
// creation time and double as a natural index key for the analytics sink.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a UUIDv7 string. It is a distinct type from string so an episode id
// and an inference id can't be passed to the wrong parameter by accident at
// the type level within a single function signature, even though both are
// structurally UUIDs.
type ID string

// New mints a fresh UUIDv7 id.
func New() ID {
	u, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the global random reader is broken; the
		// gateway cannot safely continue without ids, so fall back to a v4
		// rather than returning an error every caller would have to check.
		return ID(uuid.New().String())
	}
	return ID(u.String())
}

// NewEpisodeID mints an episode id for a request that did not supply one.
func NewEpisodeID() ID { return New() }

// NewInferenceID mints an inference id. Always gateway-generated, never
// caller-supplied.
func NewInferenceID() ID { return New() }

// NewFeedbackID mints a feedback record id.
func NewFeedbackID() ID { return New() }

// Parse validates that s is a well-formed UUID and returns it as an ID.
func Parse(s string) (ID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("ids: invalid id %q: %w", s, err)
	}
	return ID(s), nil
}

func (id ID) String() string { return string(id) }
