package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/handler"
	"github.com/chn0318/logreplica/rpc/logrpcpb"
)

// Server implements logrpcpb.LogHandlerRpcServer, dispatching each inbound
// request to the *handler.Handler registered for its stream id. One Server
// serves every stream hosted by this process, mirroring
// storageserver.StorageServer's single listener fronting many logical
// shards.
type Server struct {
	logrpcpb.UnimplementedLogHandlerRpcServer

	mu       sync.RWMutex
	handlers map[engine.StreamID]*handler.Handler
}

func NewServer() *Server {
	return &Server{handlers: make(map[engine.StreamID]*handler.Handler)}
}

// Register makes h reachable under id; cmd/handlerd calls this once per
// stream it brings up.
func (s *Server) Register(id engine.StreamID, h *handler.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[id] = h
}

func (s *Server) Unregister(id engine.StreamID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

func (s *Server) lookup(id engine.StreamID) (*handler.Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[id]
	if !ok {
		return nil, fmt.Errorf("rpc: no handler registered for stream %d", id)
	}
	return h, nil
}

func (s *Server) SendConfigChangeCmd(ctx context.Context, req *logrpcpb.ConfigChangeCmdReq) (*logrpcpb.ConfigChangeCmdResp, error) {
	h, err := s.lookup(engine.StreamID(req.StreamId))
	if err != nil {
		return nil, errToStatus(handler.ErrInvalidArgument(err.Error()))
	}
	cmd := requestToConfigChangeCmd(req)
	if err := h.RunLocalConfigChange(ctx, cmd); err != nil {
		return nil, errToStatus(err)
	}
	return &logrpcpb.ConfigChangeCmdResp{Ret: 0}, nil
}

func (s *Server) GetPalfStat(ctx context.Context, req *logrpcpb.GetStatReq) (*logrpcpb.GetStatResp, error) {
	h, err := s.lookup(engine.StreamID(req.StreamId))
	if err != nil {
		return nil, errToStatus(handler.ErrInvalidArgument(err.Error()))
	}
	maxTsNs, err := h.GetMaxTSNs(ctx)
	if err != nil {
		return nil, errToStatus(err)
	}
	return &logrpcpb.GetStatResp{MaxTsNs: maxTsNs}, nil
}

func requestToConfigChangeCmd(req *logrpcpb.ConfigChangeCmdReq) engine.ConfigChangeCmd {
	cmd := engine.ConfigChangeCmd{
		Self:           req.Self,
		StreamID:       engine.StreamID(req.StreamId),
		CurrReplicaNum: req.CurrReplicaNum,
		NewReplicaNum:  req.NewReplicaNum,
		Kind:           engine.ConfigChangeKind(req.CmdKind),
		TimeoutNs:      req.TimeoutNs,
	}
	if req.AddedMember != nil {
		cmd.AddedMember = engine.Member{Address: req.AddedMember.Address}
	}
	if req.RemovedMember != nil {
		cmd.RemovedMember = engine.Member{Address: req.RemovedMember.Address}
	}
	return cmd
}
