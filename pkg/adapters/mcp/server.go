// Package mcp exposes an agent as Model Context Protocol tools, so an LLM
// client can hold or inspect conversations with it.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/processor"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ChannelName is the input channel recorded for messages sent through MCP.
const ChannelName = "mcp"

// DomainURI names the domain resource.
const DomainURI = "tendril://domain"

// Agent is the part of a tendril agent the tools drive.
type Agent interface {
	HandleMessage(ctx context.Context, msg domain.UserMessage, out ports.OutputChannel) ([]domain.Event, error)
	TriggerIntent(ctx context.Context, senderID, intent string, entities []domain.Entity, out ports.OutputChannel) ([]domain.Event, error)
	ExecuteAction(ctx context.Context, senderID, action string, out ports.OutputChannel) ([]domain.Event, error)
	PredictNext(ctx context.Context, senderID string) (processor.Prediction, error)
	Tracker(ctx context.Context, senderID string) (*domain.Tracker, error)
	Domain() *domain.Domain
}

// TurnResponse is returned by every tool that advances a conversation.
type TurnResponse struct {
	Messages     []processor.CollectedMessage `json:"messages" jsonschema_description:"Bot messages sent during the turn"`
	LatestAction string                       `json:"latest_action" jsonschema_description:"Last action executed"`
	Slots        map[string]any               `json:"slots" jsonschema_description:"Slot values after the turn"`
}

// PredictionResponse lists the best scored actions.
type PredictionResponse struct {
	Policy     string                  `json:"policy" jsonschema_description:"Policy that made the prediction"`
	Confidence float64                 `json:"confidence"`
	Top        []processor.ActionScore `json:"top" jsonschema_description:"Highest scored actions, best first"`
}

type messageArgs struct {
	SenderID string `json:"sender_id"`
	Text     string `json:"text"`
}

type intentArgs struct {
	SenderID string `json:"sender_id"`
	Intent   string `json:"intent"`
	Entities string `json:"entities"`
}

type actionArgs struct {
	SenderID string `json:"sender_id"`
	Action   string `json:"action"`
}

type senderArgs struct {
	SenderID string `json:"sender_id"`
}

// Server wraps an agent as an MCP server.
type Server struct {
	agent     Agent
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer registers the tools and resources for agent.
func NewServer(agent Agent, version string, opts ...Option) *Server {
	s := &Server{
		agent:     agent,
		mcpServer: server.NewMCPServer("tendril-mcp", version),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio serves on stdin and stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(fmt.Sprintf("http://localhost:%d", port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a user message to the agent and get its replies. Text like /intent{\"entity\": \"value\"} bypasses NLU."),
		mcp.WithString("sender_id", mcp.Required(), mcp.Description("Conversation id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("User message")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))

	s.mcpServer.AddTool(mcp.NewTool("trigger_intent",
		mcp.WithDescription("Inject an intent into the conversation as if the user had expressed it."),
		mcp.WithString("sender_id", mcp.Required(), mcp.Description("Conversation id")),
		mcp.WithString("intent", mcp.Required(), mcp.Description("Intent name from the domain")),
		mcp.WithString("entities", mcp.Description("JSON object of entity values (optional)")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleTriggerIntent))

	s.mcpServer.AddTool(mcp.NewTool("execute_action",
		mcp.WithDescription("Run a single action of the domain on the conversation."),
		mcp.WithString("sender_id", mcp.Required(), mcp.Description("Conversation id")),
		mcp.WithString("action", mcp.Required(), mcp.Description("Action name")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleExecuteAction))

	s.mcpServer.AddTool(mcp.NewTool("predict_next",
		mcp.WithDescription("Show which actions the agent would take next, without running them."),
		mcp.WithString("sender_id", mcp.Required(), mcp.Description("Conversation id")),
		mcp.WithOutputSchema[PredictionResponse](),
	), mcp.NewStructuredToolHandler(s.handlePredictNext))

	s.mcpServer.AddTool(mcp.NewTool("get_tracker",
		mcp.WithDescription("Get the full state and event log of a conversation."),
		mcp.WithString("sender_id", mcp.Required(), mcp.Description("Conversation id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		t, err := s.agent.Tracker(ctx, req.GetString("sender_id", ""))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("tracker failed: %v", err)), nil
		}
		data, err := json.Marshal(t.Snapshot(true))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("tracker failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func (s *Server) handleSendMessage(ctx context.Context, _ mcp.CallToolRequest, args messageArgs) (TurnResponse, error) {
	out := processor.NewCollector(ChannelName)
	msg := domain.UserMessage{Text: args.Text, SenderID: args.SenderID, InputChannel: ChannelName}
	if _, err := s.agent.HandleMessage(ctx, msg, out); err != nil {
		return TurnResponse{}, fmt.Errorf("send_message failed: %w", err)
	}
	return s.turn(ctx, args.SenderID, out)
}

func (s *Server) handleTriggerIntent(ctx context.Context, _ mcp.CallToolRequest, args intentArgs) (TurnResponse, error) {
	var values map[string]any
	if args.Entities != "" {
		if err := json.Unmarshal([]byte(args.Entities), &values); err != nil {
			return TurnResponse{}, fmt.Errorf("entities must be a JSON object: %w", err)
		}
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	entities := make([]domain.Entity, 0, len(names))
	for _, name := range names {
		entities = append(entities, domain.Entity{Entity: name, Value: values[name]})
	}

	out := processor.NewCollector(ChannelName)
	if _, err := s.agent.TriggerIntent(ctx, args.SenderID, args.Intent, entities, out); err != nil {
		return TurnResponse{}, fmt.Errorf("trigger_intent failed: %w", err)
	}
	return s.turn(ctx, args.SenderID, out)
}

func (s *Server) handleExecuteAction(ctx context.Context, _ mcp.CallToolRequest, args actionArgs) (TurnResponse, error) {
	out := processor.NewCollector(ChannelName)
	if _, err := s.agent.ExecuteAction(ctx, args.SenderID, args.Action, out); err != nil {
		return TurnResponse{}, fmt.Errorf("execute_action failed: %w", err)
	}
	return s.turn(ctx, args.SenderID, out)
}

const topPredictions = 5

func (s *Server) handlePredictNext(ctx context.Context, _ mcp.CallToolRequest, args senderArgs) (PredictionResponse, error) {
	pred, err := s.agent.PredictNext(ctx, args.SenderID)
	if err != nil {
		return PredictionResponse{}, fmt.Errorf("predict_next failed: %w", err)
	}
	scores := append([]processor.ActionScore(nil), pred.Scores...)
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if len(scores) > topPredictions {
		scores = scores[:topPredictions]
	}
	return PredictionResponse{Policy: pred.Policy, Confidence: pred.Confidence, Top: scores}, nil
}

func (s *Server) turn(ctx context.Context, senderID string, out *processor.Collector) (TurnResponse, error) {
	t, err := s.agent.Tracker(ctx, senderID)
	if err != nil {
		return TurnResponse{}, err
	}
	messages := out.Messages()
	if messages == nil {
		messages = []processor.CollectedMessage{}
	}
	return TurnResponse{Messages: messages, LatestAction: t.LatestActionName(), Slots: t.Slots()}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(DomainURI, "Agent domain",
		mcp.WithResourceDescription("Intents, entities, slots, responses and actions the agent knows."),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.agent.Domain())
		if err != nil {
			return nil, fmt.Errorf("failed to encode domain: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: DomainURI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
