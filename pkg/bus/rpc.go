package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	streadway "github.com/streadway/amqp"
)

// RPCQueue is the well-known queue the broker binary consumes RPC
// requests from. The binding is intentionally minimal — a JSON
// envelope over a single queue, no schema registry, no auth — since
// the wire protocol itself is out of scope (SPEC_FULL §1); only the
// dispatch surface onto facade.Service is in scope.
const RPCQueue = "x-data-agent.rpc"

// Request is the wire envelope a caller publishes to RPCQueue.
type Request struct {
	Method string         `json:"method"`
	Args   map[string]any `json:"args"`
}

// Response is the wire envelope returned on a request's ReplyTo queue.
type Response struct {
	Result any        `json:"result,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the {kind, message} serialization of a facade error.
type ErrorInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Dispatcher resolves one RPC method call against the facade.
type Dispatcher func(ctx context.Context, method string, args map[string]any) (any, error)

// RPCServer consumes RPCQueue and dispatches each request, replying on
// the request's ReplyTo queue with the matching CorrelationId.
type RPCServer struct {
	conn    *streadway.Connection
	channel *streadway.Channel
	errKind func(error) string
}

// DialRPCServer connects to url and declares RPCQueue.
func DialRPCServer(url string, errKind func(error) string) (*RPCServer, error) {
	conn, err := streadway.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bus: rpc dial %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: rpc open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(RPCQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: rpc declare queue %s: %w", RPCQueue, err)
	}
	return &RPCServer{conn: conn, channel: ch, errKind: errKind}, nil
}

// Close tears down the channel and connection.
func (s *RPCServer) Close() error {
	if s.channel != nil {
		_ = s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Serve consumes requests until ctx is cancelled, dispatching each to
// dispatch.
func (s *RPCServer) Serve(ctx context.Context, dispatch Dispatcher) error {
	deliveries, err := s.channel.Consume(RPCQueue, "data-agent-broker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: rpc consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			s.handle(ctx, dispatch, d)
		}
	}
}

func (s *RPCServer) handle(ctx context.Context, dispatch Dispatcher, d streadway.Delivery) {
	var req Request
	resp := Response{}

	if err := json.Unmarshal(d.Body, &req); err != nil {
		resp.Error = &ErrorInfo{Kind: "DecodeError", Message: err.Error()}
	} else {
		result, err := dispatch(ctx, req.Method, req.Args)
		if err != nil {
			kind := "Error"
			if s.errKind != nil {
				kind = s.errKind(err)
			}
			resp.Error = &ErrorInfo{Kind: kind, Message: err.Error()}
		} else {
			resp.Result = result
		}
	}

	_ = d.Ack(false)

	if d.ReplyTo == "" {
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = s.channel.Publish("", d.ReplyTo, false, false, streadway.Publishing{
		ContentType:   "application/json",
		CorrelationId: d.CorrelationId,
		Body:          body,
	})
}

// RPCClient is a minimal request/reply client over the same queue.
type RPCClient struct {
	conn    *streadway.Connection
	channel *streadway.Channel
	replyTo streadway.Queue
}

// DialRPCClient connects to url and declares an exclusive reply queue.
func DialRPCClient(url string) (*RPCClient, error) {
	conn, err := streadway.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("bus: rpc client dial %s: %w", url, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: rpc client open channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bus: rpc client declare reply queue: %w", err)
	}
	return &RPCClient{conn: conn, channel: ch, replyTo: q}, nil
}

// Close tears down the channel and connection.
func (c *RPCClient) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Call sends method(args) and waits for the matching reply.
func (c *RPCClient) Call(ctx context.Context, method string, args map[string]any) (Response, error) {
	body, err := json.Marshal(Request{Method: method, Args: args})
	if err != nil {
		return Response{}, err
	}

	corrID := uuid.NewString()
	deliveries, err := c.channel.Consume(c.replyTo.Name, "", true, true, false, false, nil)
	if err != nil {
		return Response{}, fmt.Errorf("bus: rpc client consume replies: %w", err)
	}

	if err := c.channel.Publish("", RPCQueue, false, false, streadway.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       c.replyTo.Name,
		Body:          body,
	}); err != nil {
		return Response{}, fmt.Errorf("bus: rpc client publish: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case d := <-deliveries:
			if d.CorrelationId != corrID {
				continue
			}
			var resp Response
			if err := json.Unmarshal(d.Body, &resp); err != nil {
				return Response{}, fmt.Errorf("bus: rpc client decode reply: %w", err)
			}
			return resp, nil
		}
	}
}
