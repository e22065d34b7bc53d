package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
)

// JSON-RPC structures
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type InitializeResult struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

type ToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var eventFields = map[string]Property{
	"title":         {Type: "string", Description: "Event title"},
	"description":   {Type: "string", Description: "Optional details"},
	"event_time":    {Type: "string", Description: "Start time, RFC 3339"},
	"event_time_ms": {Type: "number", Description: "Start time, epoch milliseconds"},
	"color":         {Type: "number", Description: "Card color as 0xAARRGGBB"},
}

func withEventID(props map[string]Property) map[string]Property {
	out := map[string]Property{"event_id": {Type: "string", Description: "Event ID"}}
	for k, v := range props {
		out[k] = v
	}
	return out
}

type MCPServer struct {
	cfg    *bridgeConfig
	client *http.Client

	mu    sync.Mutex
	token string
}

func NewMCPServer(cfg *bridgeConfig, client *http.Client) *MCPServer {
	return &MCPServer{cfg: cfg, client: client, token: cfg.Token}
}

// Run answers newline-delimited JSON-RPC requests from r until EOF.
func (s *MCPServer) Run(r io.Reader, w io.Writer) {
	reader := bufio.NewReader(r)
	enc := json.NewEncoder(w)

	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line != "" {
			var req JSONRPCRequest
			if jerr := json.Unmarshal([]byte(line), &req); jerr != nil {
				fmt.Fprintf(os.Stderr, "Error parsing JSON: %v\n", jerr)
			} else if resp, ok := s.handleRequest(req); ok {
				_ = enc.Encode(resp)
			}
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "Error reading: %v\n", err)
			}
			return
		}
	}
}

// handleRequest returns false for notifications, which get no response.
func (s *MCPServer) handleRequest(req JSONRPCRequest) (JSONRPCResponse, bool) {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req), true
	case "notifications/initialized", "initialized":
		return JSONRPCResponse{}, false
	case "tools/list":
		return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: ToolsListResult{Tools: tools()}}, true
	case "tools/call":
		return s.handleToolsCall(req), true
	default:
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32601, Message: "Method not found"},
		}, true
	}
}

func (s *MCPServer) handleInitialize(req JSONRPCRequest) JSONRPCResponse {
	result := InitializeResult{
		ProtocolVersion: "2024-11-05",
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{},
		},
	}
	result.ServerInfo.Name = "eventtracker-mcp"
	result.ServerInfo.Version = "1.0.0"

	return JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func tools() []Tool {
	idOnly := map[string]Property{"event_id": {Type: "string", Description: "Event ID"}}
	return []Tool{
		{
			Name:        "tracker_list_events",
			Description: "List upcoming events, soonest first",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "tracker_get_event",
			Description: "Get one event",
			InputSchema: InputSchema{Type: "object", Properties: idOnly, Required: []string{"event_id"}},
		},
		{
			Name:        "tracker_create_event",
			Description: "Create an event. A reminder is scheduled 2 hours before it starts when reminders are allowed.",
			InputSchema: InputSchema{Type: "object", Properties: eventFields, Required: []string{"title"}},
		},
		{
			Name:        "tracker_update_event",
			Description: "Update an event and reschedule its reminder",
			InputSchema: InputSchema{Type: "object", Properties: withEventID(eventFields), Required: []string{"event_id", "title"}},
		},
		{
			Name:        "tracker_delete_event",
			Description: "Delete an event and cancel its reminder",
			InputSchema: InputSchema{Type: "object", Properties: idOnly, Required: []string{"event_id"}},
		},
		{
			Name:        "tracker_reminder_permission",
			Description: "Show whether reminders are allowed and if the user still has to be asked",
			InputSchema: InputSchema{Type: "object"},
		},
		{
			Name:        "tracker_set_reminder_permission",
			Description: "Allow or refuse reminders",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{"granted": {Type: "boolean", Description: "true to allow reminders"}},
				Required:   []string{"granted"},
			},
		},
	}
}

func (s *MCPServer) handleToolsCall(req JSONRPCRequest) JSONRPCResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &RPCError{Code: -32602, Message: "Invalid params"},
		}
	}

	var result string
	var isError bool

	eventPath := func() (string, bool) {
		id := strings.TrimSpace(fmt.Sprintf("%v", params.Arguments["event_id"]))
		if params.Arguments["event_id"] == nil || id == "" {
			return "event_id is required", false
		}
		return "/api/events/" + id, true
	}

	switch params.Name {
	case "tracker_list_events":
		result, isError = s.apiRequest(http.MethodGet, "/api/events", nil)
	case "tracker_get_event":
		if path, ok := eventPath(); ok {
			result, isError = s.apiRequest(http.MethodGet, path, nil)
		} else {
			result, isError = path, true
		}
	case "tracker_create_event":
		result, isError = s.apiRequest(http.MethodPost, "/api/events", params.Arguments)
	case "tracker_update_event":
		if path, ok := eventPath(); ok {
			body := make(map[string]interface{}, len(params.Arguments))
			for k, v := range params.Arguments {
				if k != "event_id" {
					body[k] = v
				}
			}
			result, isError = s.apiRequest(http.MethodPut, path, body)
		} else {
			result, isError = path, true
		}
	case "tracker_delete_event":
		if path, ok := eventPath(); ok {
			result, isError = s.apiRequest(http.MethodDelete, path, nil)
		} else {
			result, isError = path, true
		}
	case "tracker_reminder_permission":
		result, isError = s.apiRequest(http.MethodGet, "/api/reminders/permission", nil)
	case "tracker_set_reminder_permission":
		result, isError = s.apiRequest(http.MethodPost, "/api/reminders/permission", params.Arguments)
	default:
		result = "Unknown tool: " + params.Name
		isError = true
	}

	return JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: ToolCallResult{
			Content: []ContentBlock{{Type: "text", Text: result}},
			IsError: isError,
		},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// bearer returns the cached session token, signing in first when needed.
func (s *MCPServer) bearer(refresh bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && !refresh {
		return s.token, nil
	}
	if s.cfg.Login == "" {
		if s.token == "" {
			return "", fmt.Errorf("no token configured")
		}
		return s.token, nil
	}

	body, _ := json.Marshal(map[string]string{"login": s.cfg.Login, "password": s.cfg.Password})
	resp, err := s.client.Post(s.cfg.APIURL+"/api/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("sign in: %w", err)
	}
	defer resp.Body.Close()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("sign in: decode response: %w", err)
	}
	if !env.Success {
		return "", fmt.Errorf("sign in: %s", env.Error)
	}
	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &session); err != nil {
		return "", fmt.Errorf("sign in: %w", err)
	}
	s.token = session.Token
	return s.token, nil
}

func (s *MCPServer) apiRequest(method, path string, body interface{}) (string, bool) {
	text, isError, status := s.doRequest(method, path, body, false)
	if status == http.StatusUnauthorized {
		text, isError, _ = s.doRequest(method, path, body, true)
	}
	return text, isError
}

func (s *MCPServer) doRequest(method, path string, body interface{}, refresh bool) (string, bool, int) {
	token, err := s.bearer(refresh)
	if err != nil {
		return err.Error(), true, 0
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequest(method, s.cfg.APIURL+path, reqBody)
	if err != nil {
		return fmt.Sprintf("Error creating request: %v", err), true, 0
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Sprintf("Error making request: %v", err), true, 0
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Sprintf("Error reading response: %v", err), true, resp.StatusCode
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return string(respBody), resp.StatusCode >= 400, resp.StatusCode
	}
	if !env.Success {
		return fmt.Sprintf("API Error: %s", env.Error), true, resp.StatusCode
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, env.Data, "", "  "); err != nil {
		return string(env.Data), false, resp.StatusCode
	}
	return pretty.String(), false, resp.StatusCode
}
