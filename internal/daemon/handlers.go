package daemon

import (
	"context"
	"os"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/neuromance/neuromance/internal/core"
	"github.com/neuromance/neuromance/internal/rpc"
)

// statusFrom maps the domain taxonomy onto gRPC status codes.
func statusFrom(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch core.CodeOf(err) {
	case core.CodeConversationNotFound, core.CodeModelNotFound,
		core.CodeBookmarkNotFound, core.CodeToolUnknown:
		code = codes.NotFound
	case core.CodeBookmarkExists:
		code = codes.AlreadyExists
	case core.CodeNoActiveConversation, core.CodeConfig:
		code = codes.FailedPrecondition
	case core.CodeInvalidConversationID, core.CodeAmbiguousShortHash,
		core.CodeInvalidRequest:
		code = codes.InvalidArgument
	case core.CodeAuthentication:
		code = codes.Unauthenticated
	case core.CodeRateLimited:
		code = codes.ResourceExhausted
	case core.CodeStorage, core.CodeServiceUnavailable:
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func (s *Server) CreateConversation(ctx context.Context, req *rpc.CreateConversationRequest) (*rpc.ConversationInfo, error) {
	s.touch()
	conv, err := s.manager.CreateConversation(req.Title)
	if err != nil {
		return nil, statusFrom(err)
	}
	return &rpc.ConversationInfo{
		ID:        conv.ID,
		Title:     conv.Title,
		Status:    string(conv.Status),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Active:    true,
	}, nil
}

func (s *Server) ListConversations(ctx context.Context, req *rpc.Empty) (*rpc.ListConversationsResponse, error) {
	s.touch()
	store := s.manager.Store()

	summaries, err := store.ListConversations()
	if err != nil {
		return nil, statusFrom(err)
	}
	bookmarks, err := store.Bookmarks()
	if err != nil {
		return nil, statusFrom(err)
	}
	byConv := map[string][]string{}
	for name, id := range bookmarks {
		byConv[id] = append(byConv[id], name)
	}
	current, _ := store.Current()

	infos := make([]rpc.ConversationInfo, 0, len(summaries))
	for _, sum := range summaries {
		infos = append(infos, rpc.ConversationInfo{
			ID:           sum.ID,
			Title:        sum.Title,
			Status:       string(sum.Status),
			CreatedAt:    sum.CreatedAt,
			UpdatedAt:    sum.UpdatedAt,
			MessageCount: sum.MessageCount,
			Bookmarks:    byConv[sum.ID],
			Active:       sum.ID == current,
		})
	}
	return &rpc.ListConversationsResponse{Conversations: infos}, nil
}

func (s *Server) ListMessages(ctx context.Context, req *rpc.ListMessagesRequest) (*rpc.ListMessagesResponse, error) {
	s.touch()
	store := s.manager.Store()

	id := req.ConversationID
	var err error
	if id == "" {
		id, err = store.Current()
	} else {
		id, err = store.Resolve(id)
	}
	if err != nil {
		return nil, statusFrom(err)
	}

	conv, err := store.LoadConversation(id)
	if err != nil {
		return nil, statusFrom(err)
	}

	messages := conv.Messages
	if req.Limit > 0 && len(messages) > req.Limit {
		messages = messages[len(messages)-req.Limit:]
	}
	// Most recent first.
	out := make([]core.Message, len(messages))
	for i, msg := range messages {
		out[len(messages)-1-i] = msg
	}
	return &rpc.ListMessagesResponse{ConversationID: id, Messages: out}, nil
}

func (s *Server) SetBookmark(ctx context.Context, req *rpc.SetBookmarkRequest) (*rpc.Empty, error) {
	s.touch()
	store := s.manager.Store()
	id, err := store.Resolve(req.ConversationID)
	if err != nil {
		return nil, statusFrom(err)
	}
	if err := store.SetBookmark(req.Name, id); err != nil {
		return nil, statusFrom(err)
	}
	return &rpc.Empty{}, nil
}

func (s *Server) RemoveBookmark(ctx context.Context, req *rpc.RemoveBookmarkRequest) (*rpc.Empty, error) {
	s.touch()
	if err := s.manager.Store().RemoveBookmark(req.Name); err != nil {
		return nil, statusFrom(err)
	}
	return &rpc.Empty{}, nil
}

func (s *Server) DeleteConversation(ctx context.Context, req *rpc.DeleteConversationRequest) (*rpc.Empty, error) {
	s.touch()
	store := s.manager.Store()
	id, err := store.Resolve(req.ConversationID)
	if err != nil {
		return nil, statusFrom(err)
	}
	if err := store.DeleteConversation(id); err != nil {
		return nil, statusFrom(err)
	}
	return &rpc.Empty{}, nil
}

func (s *Server) SwitchModel(ctx context.Context, req *rpc.SwitchModelRequest) (*rpc.Empty, error) {
	s.touch()
	if err := s.manager.SwitchModel(req.ConversationID, req.Model); err != nil {
		return nil, statusFrom(err)
	}
	return &rpc.Empty{}, nil
}

func (s *Server) ListModels(ctx context.Context, req *rpc.Empty) (*rpc.ListModelsResponse, error) {
	s.touch()
	def := s.manager.Config().Settings().DefaultModel
	profiles := s.manager.ListModels()
	models := make([]rpc.ModelInfo, 0, len(profiles))
	for _, p := range profiles {
		models = append(models, rpc.ModelInfo{
			Nickname: p.Nickname,
			Provider: p.Provider,
			Model:    p.Model,
			Default:  p.Nickname == def,
		})
	}
	return &rpc.ListModelsResponse{Models: models}, nil
}

func (s *Server) GetStatus(ctx context.Context, req *rpc.Empty) (*rpc.StatusResponse, error) {
	s.touch()
	resp := &rpc.StatusResponse{
		Version:       rpc.Version,
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if current, err := s.manager.Store().Current(); err == nil {
		resp.ActiveConversation = current
	}
	return resp, nil
}

func (s *Server) GetDetailedStatus(ctx context.Context, req *rpc.Empty) (*rpc.DetailedStatusResponse, error) {
	last := s.lastActivityTime()
	brief, err := s.GetStatus(ctx, req)
	if err != nil {
		return nil, err
	}
	summaries, err := s.manager.Store().ListConversations()
	if err != nil {
		return nil, statusFrom(err)
	}
	return &rpc.DetailedStatusResponse{
		StatusResponse:   *brief,
		Conversations:    len(summaries),
		CachedClients:    s.manager.CachedClients(),
		PendingApprovals: s.manager.PendingApprovals(),
		LastActivity:     last,
	}, nil
}

func (s *Server) HealthCheck(ctx context.Context, req *rpc.HealthCheckRequest) (*rpc.HealthCheckResponse, error) {
	s.touch()
	return &rpc.HealthCheckResponse{
		ServerVersion: rpc.Version,
		Compatible:    rpc.CompatibleVersions(req.ClientVersion, rpc.Version),
	}, nil
}

func (s *Server) Shutdown(ctx context.Context, req *rpc.Empty) (*rpc.Empty, error) {
	s.logger.Info("shutdown RPC received")
	// Answer first; the serve loop stops after this RPC completes.
	go s.requestShutdown()
	return &rpc.Empty{}, nil
}
