package graph

import (
	"context"
	"errors"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// Request is one GraphQL request as posted to /query.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// Response is the standard GraphQL response envelope.
type Response struct {
	Data   interface{}   `json:"data,omitempty"`
	Errors gqlerror.List `json:"errors,omitempty"`
}

// Executor parses, validates, and resolves queries against the schema.
type Executor struct {
	schema   *ast.Schema
	resolver *Resolver
}

// NewExecutor returns an Executor answering queries from q.
func NewExecutor(q Querier) *Executor {
	return &Executor{
		schema:   Schema(),
		resolver: &Resolver{q: q},
	}
}

// Execute runs one request. Parse and validation failures come back in the
// errors list with a nil data field; resolver failures abort the operation.
func (e *Executor) Execute(ctx context.Context, req Request) Response {
	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		return errorResponse(err)
	}

	if errs := validator.Validate(e.schema, doc); len(errs) > 0 {
		return Response{Errors: errs}
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return Response{Errors: gqlerror.List{gqlerror.Errorf("operation %q not found", req.OperationName)}}
	}
	if op.Operation != ast.Query {
		return Response{Errors: gqlerror.List{gqlerror.Errorf("only query operations are supported")}}
	}

	vars, err := validator.VariableValues(e.schema, op, req.Variables)
	if err != nil {
		return errorResponse(err)
	}

	data, err := e.resolveQuery(ctx, doc, op.SelectionSet, vars)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Data: data}
}

// resolveQuery dispatches each top-level field to its resolver.
func (e *Executor) resolveQuery(ctx context.Context, doc *ast.QueryDocument, sel ast.SelectionSet, vars map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	for _, field := range collectFields(doc, sel) {
		args := field.ArgumentMap(vars)

		var (
			value interface{}
			err   error
		)
		switch field.Name {
		case "apiCall":
			value, err = e.resolver.apiCall(ctx, doc, field, args)
		case "apiCalls":
			value, err = e.resolver.apiCalls(ctx, doc, field, args)
		case "apiCallCount":
			value, err = e.resolver.apiCallCount(ctx)
		case "events":
			value, err = e.resolver.events(ctx, doc, field, args)
		case "_meta":
			value, err = e.resolver.meta(ctx, doc, field)
		case "__typename":
			value = "Query"
		default:
			err = gqlerror.Errorf("unknown query field %q", field.Name)
		}
		if err != nil {
			return nil, err
		}
		out[fieldAlias(field)] = value
	}
	return out, nil
}

// collectFields flattens fragment spreads and inline fragments into the
// field list, preserving document order.
func collectFields(doc *ast.QueryDocument, sel ast.SelectionSet) []*ast.Field {
	var fields []*ast.Field
	for _, s := range sel {
		switch s := s.(type) {
		case *ast.Field:
			fields = append(fields, s)
		case *ast.FragmentSpread:
			if frag := doc.Fragments.ForName(s.Name); frag != nil {
				fields = append(fields, collectFields(doc, frag.SelectionSet)...)
			}
		case *ast.InlineFragment:
			fields = append(fields, collectFields(doc, s.SelectionSet)...)
		}
	}
	return fields
}

func fieldAlias(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func errorResponse(err error) Response {
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		return Response{Errors: gqlerror.List{gqlErr}}
	}
	var list gqlerror.List
	if errors.As(err, &list) {
		return Response{Errors: list}
	}
	return Response{Errors: gqlerror.List{gqlerror.Errorf("%s", err.Error())}}
}
