package service

import (
	"context"
	"fmt"

	"github.com/hazyhaar/dommirror/inspector/internal/export"
	"github.com/hazyhaar/dommirror/kit"
	"github.com/hazyhaar/dommirror/mirror"
)

type DocumentRequest struct{}

type NodeRequest struct {
	ID mirror.NodeID `json:"id"`
}

type AttributeRequest struct {
	ID    mirror.NodeID `json:"id"`
	Name  string        `json:"name"`
	Value string        `json:"value"`
}

type ValueRequest struct {
	ID    mirror.NodeID `json:"id"`
	Value string        `json:"value"`
}

type StylesRequest struct {
	ID         mirror.NodeID `json:"id"`
	AuthorOnly bool          `json:"author_only"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

type ExportRequest struct {
	ID       mirror.NodeID `json:"id"`
	Format   string        `json:"format"`
	Sanitize bool          `json:"sanitize"`
	BaseURL  string        `json:"base_url"`
}

// Endpoints exposes every operation as a kit.Endpoint. Each expects a
// pointer to its request type.
type Endpoints struct {
	Document        kit.Endpoint
	Node            kit.Endpoint
	Children        kit.Endpoint
	SetAttribute    kit.Endpoint
	RemoveAttribute kit.Endpoint
	SetValue        kit.Endpoint
	Styles          kit.Endpoint
	Search          kit.Endpoint
	Export          kit.Endpoint
}

// MakeEndpoints wraps the service. Every endpoint is logged under its MCP
// tool name, inside mws.
func MakeEndpoints(s *Service, mws ...kit.Middleware) Endpoints {
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(mws...)(kit.Logging(s.logger, name)(ep))
	}
	return Endpoints{
		Document: wrap("dom_document", endpoint(func(ctx context.Context, _ *DocumentRequest) (any, error) {
			return s.Document(ctx)
		})),
		Node: wrap("dom_node", endpoint(func(ctx context.Context, r *NodeRequest) (any, error) {
			return s.Node(ctx, r.ID)
		})),
		Children: wrap("dom_children", endpoint(func(ctx context.Context, r *NodeRequest) (any, error) {
			return s.Children(ctx, r.ID)
		})),
		SetAttribute: wrap("dom_set_attribute", endpoint(func(ctx context.Context, r *AttributeRequest) (any, error) {
			return s.SetAttribute(ctx, r.ID, r.Name, r.Value)
		})),
		RemoveAttribute: wrap("dom_remove_attribute", endpoint(func(ctx context.Context, r *AttributeRequest) (any, error) {
			return s.RemoveAttribute(ctx, r.ID, r.Name)
		})),
		SetValue: wrap("dom_set_value", endpoint(func(ctx context.Context, r *ValueRequest) (any, error) {
			return s.SetValue(ctx, r.ID, r.Value)
		})),
		Styles: wrap("dom_styles", endpoint(func(ctx context.Context, r *StylesRequest) (any, error) {
			return s.Styles(ctx, r.ID, r.AuthorOnly)
		})),
		Search: wrap("dom_search", endpoint(func(ctx context.Context, r *SearchRequest) (any, error) {
			return s.Search(ctx, r.Query)
		})),
		Export: wrap("dom_export", endpoint(func(ctx context.Context, r *ExportRequest) (any, error) {
			format, err := export.ParseFormat(r.Format)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			return s.Export(ctx, r.ID, export.Options{Format: format, Sanitize: r.Sanitize, BaseURL: r.BaseURL})
		})),
	}
}

// endpoint adapts a typed handler; a request of the wrong type is a
// programming error reported as ErrInvalid.
func endpoint[T any](fn func(context.Context, *T) (any, error)) kit.Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		r, ok := req.(*T)
		if !ok {
			return nil, fmt.Errorf("%w: request type %T", ErrInvalid, req)
		}
		return fn(ctx, r)
	}
}
