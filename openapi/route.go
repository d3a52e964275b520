package openapi

import (
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Route describes one operation. Chain the builders, then Build to attach it
// to the document.
type Route struct {
	doc    *Document
	method string
	path   string
	op     *openapi3.Operation
}

func (r *Route) Summary(summary string) *Route {
	r.op.Summary = summary
	return r
}

func (r *Route) Description(description string) *Route {
	r.op.Description = description
	return r
}

func (r *Route) OperationID(id string) *Route {
	r.op.OperationID = id
	return r
}

func (r *Route) Tags(tags ...string) *Route {
	r.op.Tags = append(r.op.Tags, tags...)
	return r
}

// Body documents a required application/json request body reflected from
// example's type.
func (r *Route) Body(example any, description string) *Route {
	r.op.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: r.doc.schemaFor(example),
				},
			},
		},
	}
	return r
}

func (r *Route) BodyOptional(example any, description string) *Route {
	r.Body(example, description)
	r.op.RequestBody.Value.Required = false
	return r
}

// Response documents one status code. A nil example means no body.
func (r *Route) Response(status int, example any, description string) *Route {
	var content openapi3.Content
	if example != nil {
		content = openapi3.Content{
			"application/json": &openapi3.MediaType{
				Schema: r.doc.schemaFor(example),
			},
		}
	}

	r.op.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content:     content,
		},
	})
	return r
}

// ResponseHeader documents a header on an already-declared response.
func (r *Route) ResponseHeader(status int, name, description string) *Route {
	resp := r.op.Responses.Value(strconv.Itoa(status))
	if resp == nil || resp.Value == nil {
		return r
	}

	if resp.Value.Headers == nil {
		resp.Value.Headers = make(openapi3.Headers)
	}
	resp.Value.Headers[name] = &openapi3.HeaderRef{
		Value: &openapi3.Header{
			Parameter: openapi3.Parameter{
				Description: description,
				Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
			},
		},
	}
	return r
}

// PathParam documents a path parameter. typ is an OpenAPI primitive type
// name such as "string" or "integer".
func (r *Route) PathParam(name, typ, description string) *Route {
	r.op.Parameters = append(r.op.Parameters, &openapi3.ParameterRef{
		Value: &openapi3.Parameter{
			Name:        name,
			In:          "path",
			Required:    true,
			Description: description,
			Schema:      &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}},
		},
	})
	return r
}

// Security requires any one of the named schemes.
func (r *Route) Security(schemes ...string) *Route {
	if r.op.Security == nil {
		r.op.Security = &openapi3.SecurityRequirements{}
	}
	for _, scheme := range schemes {
		*r.op.Security = append(*r.op.Security, openapi3.SecurityRequirement{scheme: {}})
	}
	return r
}

func (r *Route) NoSecurity() *Route {
	r.op.Security = &openapi3.SecurityRequirements{}
	return r
}

// Build attaches the operation to the document. Path parameters present in
// the route pattern but never declared are filled in as strings.
func (r *Route) Build() {
	declared := make(map[string]bool)
	for _, p := range r.op.Parameters {
		if p.Value != nil && p.Value.In == "path" {
			declared[p.Value.Name] = true
		}
	}

	for _, part := range strings.Split(r.path, "/") {
		if !strings.HasPrefix(part, ":") {
			continue
		}
		name := strings.TrimPrefix(part, ":")
		if name == "" || declared[name] {
			continue
		}
		r.PathParam(name, "string", "")
	}

	r.doc.addOperation(r.method, r.path, r.op)
}
