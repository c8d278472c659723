package cache

import orbit "github.com/orbitkit/orbit-go"

// SchemaKey names one relationship declared on one record type.
type SchemaKey struct {
	Type         string
	Relationship string
}

// InverseRelationship names the relationship on the opposite side that a
// SchemaKey's relationship is declared inverse of, and what kind it is.
type InverseRelationship struct {
	Type         string
	Relationship string
	Kind         orbit.RelationshipKind
}

// Schema declares, per relationship, which relationship on the other side
// must be kept in sync when this one changes. A relationship with no entry
// here only gets the private bookkeeping stripEdgesPointingAt needs for
// remove-cascade cleanup; its opposite side's own Relationships data is
// never touched.
//
// Declare registers both directions of a named pair in one call, since an
// inverse relationship is symmetric by definition: planet.moons (to-many)
// and moon.planet (to-one) each cascade into the other.
type Schema map[SchemaKey]InverseRelationship

// NewSchema returns an empty schema ready for Declare calls.
func NewSchema() Schema {
	return make(Schema)
}

// Declare registers relA on typeA as the inverse of relB on typeB, and
// vice versa.
func (s Schema) Declare(typeA, relA string, kindA orbit.RelationshipKind, typeB, relB string, kindB orbit.RelationshipKind) Schema {
	s[SchemaKey{Type: typeA, Relationship: relA}] = InverseRelationship{Type: typeB, Relationship: relB, Kind: kindB}
	s[SchemaKey{Type: typeB, Relationship: relB}] = InverseRelationship{Type: typeA, Relationship: relA, Kind: kindA}
	return s
}
