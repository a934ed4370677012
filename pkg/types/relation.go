package types

// RelationType is the kind of directed edge between two symbols
type RelationType string

const (
	RelationCalls      RelationType = "calls"
	RelationImports    RelationType = "imports"
	RelationExtends    RelationType = "extends"
	RelationImplements RelationType = "implements"
)

// Valid reports whether t is a stored relation type
func (t RelationType) Valid() bool {
	switch t {
	case RelationCalls, RelationImports, RelationExtends, RelationImplements:
		return true
	}
	return false
}

// Direction selects which edges of a symbol to follow
type Direction string

const (
	DirectionIn   Direction = "in"   // edges pointing at the symbol (callers)
	DirectionOut  Direction = "out"  // edges leaving the symbol (callees)
	DirectionBoth Direction = "both"
)

// ParseDirection accepts both store (in/out) and graph (callers/callees) spellings.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in", "callers", "incoming":
		return DirectionIn, nil
	case "out", "callees", "outgoing", "":
		return DirectionOut, nil
	case "both":
		return DirectionBoth, nil
	}
	return "", ErrInvalidDirection
}

// Relation is a directed edge between two stored symbols
type Relation struct {
	SourceID string       `json:"source_id"`
	TargetID string       `json:"target_id"`
	Type     RelationType `json:"relation_type"`
}

// PendingRelation is an edge whose target is still a name. It lives only
// for the duration of one indexing pass.
type PendingRelation struct {
	CallerID   string       `json:"caller_id"`
	CalleeName string       `json:"callee_name"`
	Type       RelationType `json:"relation_type"`
}
