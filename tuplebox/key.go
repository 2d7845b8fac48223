package tuplebox

import (
	"github.com/google/uuid"

	"tupleworld/moo"
)

// OidKey is the domain key type for single-OID-keyed relations
// (ObjectParent, ObjectLocation, ObjectFlags, ObjectName, ObjectOwner,
// ObjectVerbs, ObjectPropDefs).
type OidKey moo.Oid

// OidUUIDKey is the domain key type for (OID, UUID)-keyed relations
// (VerbProgram, ObjectPropertyValue, ObjectPropertyPerms). It is a
// comparable struct so it can be used directly as a Go map key.
type OidUUIDKey struct {
	Oid  moo.Oid
	UUID uuid.UUID
}
