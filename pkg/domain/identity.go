// Package domain provides the shared building blocks for framegate.
// All subsystems (bus, frame, progress, input, bridge) share these types.
package domain

import "github.com/google/uuid"

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// EntityID is a typed identifier. All entities use string IDs for portability
// across the host/frame boundary.
type EntityID string

// NewID generates a random identifier.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }
