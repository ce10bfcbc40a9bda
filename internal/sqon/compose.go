package sqon

// ObjectIDField is the document field holding a record's object id.
const ObjectIDField = "object_id"

// ComposeSetQuery narrows current to the given object ids.
//
//	current  | ids       | result
//	present  | non-empty | and(current, in(object_id, ids))
//	present  | empty     | current
//	empty    | non-empty | in(object_id, ids)
//	empty    | empty     | MatchAll
//
// current is never modified; the result shares it as a child.
func ComposeSetQuery(current Node, objectIDs []string) Node {
	var idFilter Node = MatchAll
	if len(objectIDs) > 0 {
		p, err := InStrings(ObjectIDField, objectIDs)
		if err != nil {
			// Unreachable: the field is a constant and ids are non-empty strings.
			panic(err)
		}
		idFilter = p
	}

	switch {
	case !IsEmpty(current) && !IsEmpty(idFilter):
		return &Combination{op: OpAnd, content: []Node{current, idFilter}}
	case !IsEmpty(current):
		return current
	case !IsEmpty(idFilter):
		return idFilter
	}
	return MatchAll
}
