package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/latchkey-labs/embermcp/internal/jsonrpc"
	"github.com/latchkey-labs/embermcp/internal/logger"
)

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      clientInfo      `json:"clientInfo"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
}

type toolsListParams struct {
	Cursor     string `json:"cursor,omitempty"`
	MaxResults int    `json:"maxResults,omitempty"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      *toolsCallMeta  `json:"_meta,omitempty"`
}

type toolsCallMeta struct {
	ProgressToken string `json:"progressToken,omitempty"`
}

type cancelledParams struct {
	RequestId     json.RawMessage `json:"requestId"`
	Reason        string          `json:"reason,omitempty"`
	ProgressToken string          `json:"progressToken,omitempty"`
}

// handleRequest routes one decoded Request through the state-gated dispatch
// table of spec.md §4.3 and writes exactly one reply onto outCh.
func (s *Session) handleRequest(req *jsonrpc.Request) {
	if s.hooks.OnRequest != nil {
		s.hooks.OnRequest(req.Method)
	}

	switch req.Method {
	case jsonrpc.MethodInitialize:
		s.handleInitialize(req)
	case jsonrpc.MethodPing:
		s.handlePing(req)
	case jsonrpc.MethodToolsList:
		s.handleToolsList(req)
	case jsonrpc.MethodToolsCall:
		s.handleToolsCall(req)
	default:
		s.replyError(req.Id, jsonrpc.NewMethodNotFound(string(req.Method)))
	}
}

func (s *Session) handleInitialize(req *jsonrpc.Request) {
	if s.State() != StateUninitialized {
		s.replyError(req.Id, jsonrpc.NewInvalidState(s.State().String()))
		return
	}

	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.replyError(req.Id, jsonrpc.NewInvalidParams(err.Error()))
			return
		}
	}
	if params.ProtocolVersion == "" || params.ClientInfo.Name == "" {
		s.replyError(req.Id, jsonrpc.NewInvalidParams("protocolVersion and clientInfo.name are required"))
		return
	}

	s.setState(StateInitializing)
	s.setState(StateInitialized)

	result := map[string]any{
		"protocolVersion": ProtocolVersion,
		"serverInfo": map[string]string{
			"name":    s.cfg.ServerName,
			"version": s.cfg.ServerVersion,
		},
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": true},
		},
	}
	s.replyResult(req.Id, result)
}

func (s *Session) handlePing(req *jsonrpc.Request) {
	if s.State() != StateActive {
		s.replyError(req.Id, s.notActiveError())
		return
	}
	s.replyResult(req.Id, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Session) handleToolsList(req *jsonrpc.Request) {
	if s.State() != StateActive {
		s.replyError(req.Id, s.notActiveError())
		return
	}

	var params toolsListParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}

	descriptors := s.registry.List()
	if params.MaxResults > 0 && params.MaxResults < len(descriptors) {
		descriptors = descriptors[:params.MaxResults]
	}

	s.replyResult(req.Id, map[string]any{"tools": descriptors})
}

func (s *Session) handleToolsCall(req *jsonrpc.Request) {
	if s.State() != StateActive {
		s.replyError(req.Id, s.notActiveError())
		return
	}

	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		s.replyError(req.Id, jsonrpc.NewInvalidParams("name is required"))
		return
	}
	if s.hooks.OnToolCall != nil {
		s.hooks.OnToolCall(params.Name)
	}

	if !s.registry.Has(params.Name) {
		s.replyError(req.Id, jsonrpc.NewMethodNotFound(params.Name))
		return
	}

	if !s.registry.IsAsync(params.Name) {
		result, rpcErr := s.registry.CallSync(s.ctx, params.Name, params.Arguments)
		if rpcErr != nil {
			s.replyError(req.Id, rpcErr)
			if s.hooks.OnToolCallComplete != nil {
				s.hooks.OnToolCallComplete(req.Id.String(), params.Name, false, fmt.Errorf("%s", rpcErr.Message))
			}
			return
		}
		s.replyResult(req.Id, toolCallResult(result))
		if s.hooks.OnToolCallComplete != nil {
			s.hooks.OnToolCallComplete(req.Id.String(), params.Name, !result.IsError, nil)
		}
		return
	}

	progressToken := req.Id.String()
	if params.Meta != nil && params.Meta.ProgressToken != "" {
		progressToken = params.Meta.ProgressToken
	}

	tk, rpcErr := s.registry.Dispatch(s.engine, req.Id, req.Method, params.Name, params.Arguments, progressToken)
	if rpcErr != nil {
		s.replyError(req.Id, rpcErr)
		if s.hooks.OnToolCallComplete != nil {
			s.hooks.OnToolCallComplete(req.Id.String(), params.Name, false, fmt.Errorf("%s", rpcErr.Message))
		}
		return
	}
	s.pendingTasks.Store(taskKey(req.Id), &pendingTask{task: tk, name: params.Name})
}

func (s *Session) handleNotification(n *jsonrpc.Notification) {
	switch n.Method {
	case jsonrpc.MethodInitialized:
		if s.State() == StateInitialized {
			s.setState(StateActive)
		} else {
			logger.WarnContext(s.ctx, "notifications/initialized received outside Initialized", "session", s.id, "state", s.State().String())
		}
	case jsonrpc.MethodCancelled:
		s.handleCancelled(n)
	default:
		if !jsonrpc.IsRecognizedNotificationMethod(n.Method) {
			logger.DebugContext(s.ctx, "ignoring unrecognized notification", "session", s.id, "method", string(n.Method))
		}
	}
}

func (s *Session) handleCancelled(n *jsonrpc.Notification) {
	if s.State() != StateActive {
		return
	}
	var params cancelledParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		return
	}

	var id jsonrpc.Id
	if err := id.UnmarshalJSON(params.RequestId); err != nil {
		return
	}

	if v, ok := s.pendingTasks.Load(taskKey(id)); ok {
		if pt, ok := v.(*pendingTask); ok {
			pt.task.Cancel()
		}
	}
}

// notActiveError distinguishes "never initialized" from "no longer
// accepting requests" so the dispatch table's two non-Active cases surface
// the error codes spec.md §7 defines for each.
func (s *Session) notActiveError() *jsonrpc.Error {
	switch s.State() {
	case StateShuttingDown, StateShutdown:
		return jsonrpc.NewInvalidState(s.State().String())
	default:
		return jsonrpc.NewNotInitialized()
	}
}

func (s *Session) replyResult(id jsonrpc.Id, v any) {
	payload, err := jsonrpc.EncodeResult(id, v)
	if err != nil {
		s.replyError(id, jsonrpc.NewInternalError(err.Error()))
		return
	}
	s.send(payload)
}

func (s *Session) replyError(id jsonrpc.Id, e *jsonrpc.Error) {
	s.send(mustEncodeError(id, e))
}
