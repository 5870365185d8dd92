package inspector

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dommirror/inspector/internal/service"
	"github.com/hazyhaar/dommirror/kit"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// MCPServer returns a server named after the configuration with every dom_*
// tool registered.
func (i *Inspector) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: i.cfg.MCP.Name, Version: Version}, nil)
	i.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers the mirror tools on an MCP server.
func (i *Inspector) RegisterMCP(srv *mcp.Server) {
	id := map[string]any{"type": "integer", "description": "Mirrored node id"}
	name := map[string]any{"type": "string", "description": "Attribute name"}

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_document",
		Description: "Return the session id, the mirrored node count and the document element.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, i.eps.Document, kit.DecodeArgs[service.DocumentRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_node",
		Description: "Return one mirrored node: kind, name, value, attributes and child count.",
		InputSchema: inputSchema(map[string]any{"id": id}, []string{"id"}),
	}, i.eps.Node, kit.DecodeArgs[service.NodeRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_children",
		Description: "Return the children of a node, fetching them from the page when not yet mirrored.",
		InputSchema: inputSchema(map[string]any{"id": id}, []string{"id"}),
	}, i.eps.Children, kit.DecodeArgs[service.NodeRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_set_attribute",
		Description: "Set an attribute on an element in the page. The mirror changes once the page confirms.",
		InputSchema: inputSchema(map[string]any{
			"id":    id,
			"name":  name,
			"value": map[string]any{"type": "string", "description": "Attribute value"},
		}, []string{"id", "name", "value"}),
	}, i.eps.SetAttribute, kit.DecodeArgs[service.AttributeRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_remove_attribute",
		Description: "Remove an attribute from an element in the page.",
		InputSchema: inputSchema(map[string]any{"id": id, "name": name}, []string{"id", "name"}),
	}, i.eps.RemoveAttribute, kit.DecodeArgs[service.AttributeRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_set_value",
		Description: "Replace the text of a text node in the page.",
		InputSchema: inputSchema(map[string]any{
			"id":    id,
			"value": map[string]any{"type": "string", "description": "New text"},
		}, []string{"id", "value"}),
	}, i.eps.SetValue, kit.DecodeArgs[service.ValueRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_styles",
		Description: "Return computed, inline and attribute styles of an element and the CSS rules matching it.",
		InputSchema: inputSchema(map[string]any{
			"id":          id,
			"author_only": map[string]any{"type": "boolean", "description": "Drop user-agent rules"},
		}, []string{"id"}),
	}, i.eps.Styles, kit.DecodeArgs[service.StylesRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_search",
		Description: "Search the page by tag name, CSS selector or text and return the matching mirrored nodes.",
		InputSchema: inputSchema(map[string]any{
			"query": map[string]any{"type": "string", "description": "Tag, selector or text"},
		}, []string{"query"}),
	}, i.eps.Search, kit.DecodeArgs[service.SearchRequest])

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "dom_export",
		Description: "Serialise the mirrored part of a subtree as HTML or Markdown, optionally sanitised.",
		InputSchema: inputSchema(map[string]any{
			"id":       id,
			"format":   map[string]any{"type": "string", "enum": []string{"html", "markdown"}, "description": "Output format, default html"},
			"sanitize": map[string]any{"type": "boolean", "description": "Strip scripts and unsafe attributes"},
			"base_url": map[string]any{"type": "string", "description": "Base for relative links in Markdown"},
		}, []string{"id"}),
	}, i.eps.Export, kit.DecodeArgs[service.ExportRequest])
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
