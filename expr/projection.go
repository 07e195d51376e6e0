package expr

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/dynamock/attr"
)

// ProjectionExpr is a parsed projection expression.
type ProjectionExpr struct {
	Paths []*Path
}

// ParseProjection parses a comma separated list of attribute names and
// #aliases.
func ParseProjection(input string, opts Options) (*ProjectionExpr, error) {
	p, err := newParser(Projection, input, opts)
	if err != nil {
		return nil, err
	}
	proj := &ProjectionExpr{}
	err = p.parseList(func() error {
		path, err := p.parsePath()
		if err == nil {
			proj.Paths = append(proj.Paths, path)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	if err := checkOverlap(Projection, proj.Names()); err != nil {
		return nil, err
	}
	return proj, nil
}

// Names returns the resolved attribute names in expression order.
func (pr *ProjectionExpr) Names() []string {
	out := make([]string, len(pr.Paths))
	for i, p := range pr.Paths {
		out[i] = p.Name
	}
	return out
}

// Apply returns a deep copy of item holding only the projected attributes
// that are present.
func (pr *ProjectionExpr) Apply(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(pr.Paths))
	for _, p := range pr.Paths {
		if v, ok := item[p.Name]; ok {
			out[p.Name] = attr.Clone(v)
		}
	}
	return out
}

func (pr *ProjectionExpr) String() string {
	parts := make([]string, len(pr.Paths))
	for i, p := range pr.Paths {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}
