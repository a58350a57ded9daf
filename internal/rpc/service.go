package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified grpc service name.
const ServiceName = "neuromance.Neuromance"

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// NeuromanceServer is the daemon-side service contract.
type NeuromanceServer interface {
	CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationInfo, error)
	ListConversations(ctx context.Context, req *Empty) (*ListConversationsResponse, error)
	ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error)
	SetBookmark(ctx context.Context, req *SetBookmarkRequest) (*Empty, error)
	RemoveBookmark(ctx context.Context, req *RemoveBookmarkRequest) (*Empty, error)
	DeleteConversation(ctx context.Context, req *DeleteConversationRequest) (*Empty, error)
	SwitchModel(ctx context.Context, req *SwitchModelRequest) (*Empty, error)
	ListModels(ctx context.Context, req *Empty) (*ListModelsResponse, error)
	GetStatus(ctx context.Context, req *Empty) (*StatusResponse, error)
	GetDetailedStatus(ctx context.Context, req *Empty) (*DetailedStatusResponse, error)
	HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error)
	Shutdown(ctx context.Context, req *Empty) (*Empty, error)
	Chat(stream ChatServerStream) error
}

// ChatServerStream is the server view of the bidirectional chat stream.
type ChatServerStream interface {
	Send(*ChatEvent) error
	Recv() (*ChatClientMessage, error)
	Context() context.Context
}

type chatServerStream struct {
	grpc.ServerStream
}

func (s *chatServerStream) Send(e *ChatEvent) error { return s.ServerStream.SendMsg(e) }

func (s *chatServerStream) Recv() (*ChatClientMessage, error) {
	m := new(ChatClientMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func unaryHandler[Req any, Resp any](
	method string,
	invoke func(NeuromanceServer, context.Context, *Req) (*Resp, error),
) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return invoke(srv.(NeuromanceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return invoke(srv.(NeuromanceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func chatHandler(srv any, stream grpc.ServerStream) error {
	return srv.(NeuromanceServer).Chat(&chatServerStream{stream})
}

// ServiceDesc is the hand-written descriptor for the Neuromance
// service; messages travel as JSON through the registered codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NeuromanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateConversation", Handler: unaryHandler("CreateConversation", NeuromanceServer.CreateConversation)},
		{MethodName: "ListConversations", Handler: unaryHandler("ListConversations", NeuromanceServer.ListConversations)},
		{MethodName: "ListMessages", Handler: unaryHandler("ListMessages", NeuromanceServer.ListMessages)},
		{MethodName: "SetBookmark", Handler: unaryHandler("SetBookmark", NeuromanceServer.SetBookmark)},
		{MethodName: "RemoveBookmark", Handler: unaryHandler("RemoveBookmark", NeuromanceServer.RemoveBookmark)},
		{MethodName: "DeleteConversation", Handler: unaryHandler("DeleteConversation", NeuromanceServer.DeleteConversation)},
		{MethodName: "SwitchModel", Handler: unaryHandler("SwitchModel", NeuromanceServer.SwitchModel)},
		{MethodName: "ListModels", Handler: unaryHandler("ListModels", NeuromanceServer.ListModels)},
		{MethodName: "GetStatus", Handler: unaryHandler("GetStatus", NeuromanceServer.GetStatus)},
		{MethodName: "GetDetailedStatus", Handler: unaryHandler("GetDetailedStatus", NeuromanceServer.GetDetailedStatus)},
		{MethodName: "HealthCheck", Handler: unaryHandler("HealthCheck", NeuromanceServer.HealthCheck)},
		{MethodName: "Shutdown", Handler: unaryHandler("Shutdown", NeuromanceServer.Shutdown)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Chat",
			Handler:       chatHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// ChatClientStream is the client view of the bidirectional chat stream.
type ChatClientStream interface {
	Send(*ChatClientMessage) error
	Recv() (*ChatEvent, error)
	CloseSend() error
	Context() context.Context
}

type chatClientStream struct {
	grpc.ClientStream
}

func (s *chatClientStream) Send(m *ChatClientMessage) error { return s.ClientStream.SendMsg(m) }

func (s *chatClientStream) Recv() (*ChatEvent, error) {
	e := new(ChatEvent)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Client wraps a grpc connection with typed call methods.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a typed client over an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func invoke[Req any, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req *Req) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, req *CreateConversationRequest) (*ConversationInfo, error) {
	return invoke[CreateConversationRequest, ConversationInfo](ctx, c.cc, "CreateConversation", req)
}

func (c *Client) ListConversations(ctx context.Context) (*ListConversationsResponse, error) {
	return invoke[Empty, ListConversationsResponse](ctx, c.cc, "ListConversations", &Empty{})
}

func (c *Client) ListMessages(ctx context.Context, req *ListMessagesRequest) (*ListMessagesResponse, error) {
	return invoke[ListMessagesRequest, ListMessagesResponse](ctx, c.cc, "ListMessages", req)
}

func (c *Client) SetBookmark(ctx context.Context, req *SetBookmarkRequest) error {
	_, err := invoke[SetBookmarkRequest, Empty](ctx, c.cc, "SetBookmark", req)
	return err
}

func (c *Client) RemoveBookmark(ctx context.Context, req *RemoveBookmarkRequest) error {
	_, err := invoke[RemoveBookmarkRequest, Empty](ctx, c.cc, "RemoveBookmark", req)
	return err
}

func (c *Client) DeleteConversation(ctx context.Context, req *DeleteConversationRequest) error {
	_, err := invoke[DeleteConversationRequest, Empty](ctx, c.cc, "DeleteConversation", req)
	return err
}

func (c *Client) SwitchModel(ctx context.Context, req *SwitchModelRequest) error {
	_, err := invoke[SwitchModelRequest, Empty](ctx, c.cc, "SwitchModel", req)
	return err
}

func (c *Client) ListModels(ctx context.Context) (*ListModelsResponse, error) {
	return invoke[Empty, ListModelsResponse](ctx, c.cc, "ListModels", &Empty{})
}

func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	return invoke[Empty, StatusResponse](ctx, c.cc, "GetStatus", &Empty{})
}

func (c *Client) GetDetailedStatus(ctx context.Context) (*DetailedStatusResponse, error) {
	return invoke[Empty, DetailedStatusResponse](ctx, c.cc, "GetDetailedStatus", &Empty{})
}

func (c *Client) HealthCheck(ctx context.Context, req *HealthCheckRequest) (*HealthCheckResponse, error) {
	return invoke[HealthCheckRequest, HealthCheckResponse](ctx, c.cc, "HealthCheck", req)
}

func (c *Client) Shutdown(ctx context.Context) error {
	_, err := invoke[Empty, Empty](ctx, c.cc, "Shutdown", &Empty{})
	return err
}

func (c *Client) Chat(ctx context.Context) (ChatClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Chat"))
	if err != nil {
		return nil, err
	}
	return &chatClientStream{stream}, nil
}
