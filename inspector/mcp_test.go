package inspector

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/dommirror/inspector/internal/service"
)

var testMCPImpl = &mcp.Implementation{Name: "dommirror-test", Version: "0.1.0"}

func mcpSession(t *testing.T, in *Inspector) *mcp.ClientSession {
	t.Helper()
	srv := in.MCPServer()
	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any, out any) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if err := result.GetError(); err != nil {
		t.Fatalf("CallTool(%s) tool error: %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	if err := json.Unmarshal([]byte(tc.Text), out); err != nil {
		t.Fatalf("CallTool(%s): unmarshal: %v", name, err)
	}
}

func TestMCP_ListTools(t *testing.T) {
	in := start(t, &Config{HTML: HTMLConfig{File: writePage(t)}})
	session := mcpSession(t, in)

	res, err := session.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{
		"dom_document": true, "dom_node": true, "dom_children": true,
		"dom_set_attribute": true, "dom_remove_attribute": true, "dom_set_value": true,
		"dom_styles": true, "dom_search": true, "dom_export": true,
	}
	for _, tool := range res.Tools {
		delete(want, tool.Name)
	}
	if len(want) != 0 {
		t.Fatalf("missing tools: %v", want)
	}
}

func TestMCP_BrowseAndEdit(t *testing.T) {
	in := start(t, &Config{HTML: HTMLConfig{File: writePage(t)}})
	session := mcpSession(t, in)

	var doc service.Document
	callTool(t, session, "dom_document", map[string]any{}, &doc)
	if doc.Element.Name != "HTML" {
		t.Fatalf("dom_document: %+v", doc)
	}

	id := doc.Element.ID
	for _, step := range []int{1, 0, 0} {
		var kids []service.Node
		callTool(t, session, "dom_children", map[string]any{"id": id}, &kids)
		id = kids[step].ID
	}

	var set service.Node
	callTool(t, session, "dom_set_attribute", map[string]any{"id": id, "name": "title", "value": "from mcp"}, &set)
	if set.Name != "P" || len(set.Attributes) != 2 {
		t.Fatalf("dom_set_attribute: %+v", set)
	}

	var st service.Styles
	callTool(t, session, "dom_styles", map[string]any{"id": id, "author_only": true}, &st)
	if len(st.Rules) != 1 || st.Rules[0].Selector != "p" {
		t.Fatalf("dom_styles: %+v", st.Rules)
	}

	var found []service.Node
	callTool(t, session, "dom_search", map[string]any{"query": "p.x"}, &found)
	if len(found) != 1 || found[0].ID != id {
		t.Fatalf("dom_search: %+v", found)
	}

	var kids []service.Node
	callTool(t, session, "dom_children", map[string]any{"id": id}, &kids)
	var out service.Export
	callTool(t, session, "dom_export", map[string]any{"id": id, "format": "markdown"}, &out)
	if !strings.Contains(out.Content, "Hello") {
		t.Fatalf("dom_export: %+v", out)
	}
}

func TestMCP_ToolErrors(t *testing.T) {
	in := start(t, &Config{HTML: HTMLConfig{File: writePage(t)}})
	session := mcpSession(t, in)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "dom_node",
		Arguments: map[string]any{"id": 4242},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !result.IsError {
		t.Fatal("unknown node: expected a tool error")
	}
}

func TestHandler_MCPMounted(t *testing.T) {
	in := start(t, &Config{HTML: HTMLConfig{File: writePage(t)}, MCP: MCPConfig{Enabled: true}})
	srv := httptest.NewServer(in.Handler())
	defer srv.Close()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(context.Background(), &mcp.StreamableClientTransport{Endpoint: srv.URL + "/mcp"}, nil)
	if err != nil {
		t.Fatalf("connect /mcp: %v", err)
	}
	defer session.Close()

	var doc service.Document
	callTool(t, session, "dom_document", map[string]any{}, &doc)
	if doc.Element.Name != "HTML" {
		t.Fatalf("dom_document over http: %+v", doc)
	}
}
