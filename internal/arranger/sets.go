package arranger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/kartikbazzad/bunbase/stage/internal/sqon"
)

// ErrMissingSetID marks a saveSet response without a set id.
var ErrMissingSetID = errors.New("saveSet response has no setId")

// SetPersistenceError is returned by SaveSet for every failure. The set may
// or may not have been created, so callers must not retry blindly.
type SetPersistenceError struct {
	Endpoint string
	Err      error
}

func (e *SetPersistenceError) Error() string {
	return fmt.Sprintf("failed to save set at %s: %v", e.Endpoint, e.Err)
}

func (e *SetPersistenceError) Unwrap() error {
	return e.Err
}

var graphQLName = regexp.MustCompile(`^[_A-Za-z][_0-9A-Za-z]*$`)

// saveSetMutation builds the mutation. The set type is a GraphQL enum and
// goes in unquoted; the path is a string literal.
func saveSetMutation(setType, setPath string) string {
	return fmt.Sprintf(`mutation ($sqon: JSON!) {
	saveSet(
		sqon: $sqon,
		type: %s,
		path: %s
	) {
		setId
	}
}`, setType, strconv.Quote(setPath))
}

type saveSetData struct {
	SaveSet *struct {
		SetID string `json:"setId"`
	} `json:"saveSet"`
}

// SaveSet persists q as a saved set and returns the generated set id.
func (c *Client) SaveSet(ctx context.Context, q sqon.Node) (string, error) {
	if !graphQLName.MatchString(c.setType) {
		return "", &SetPersistenceError{Endpoint: c.endpoint, Err: fmt.Errorf("invalid set type %q", c.setType)}
	}

	vars := map[string]any{"sqon": sqon.Filter{Node: q}}
	var data saveSetData
	if err := c.Query(ctx, saveSetMutation(c.setType, c.setPath), vars, &data); err != nil {
		return "", &SetPersistenceError{Endpoint: c.endpoint, Err: err}
	}
	if data.SaveSet == nil || data.SaveSet.SetID == "" {
		return "", &SetPersistenceError{Endpoint: c.endpoint, Err: ErrMissingSetID}
	}
	return data.SaveSet.SetID, nil
}
