package rpc

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/rpc/logrpcpb"
)

// Proxy implements handler.RPCProxy over grpc, dialing and caching one
// connection per address the way storageserver.StorageServer's client side
// keeps a connection pool rather than dialing per call.
type Proxy struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewProxy() *Proxy {
	return &Proxy{conns: make(map[string]*grpc.ClientConn)}
}

func (p *Proxy) getConn(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cc, ok := p.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	p.conns[addr] = cc
	return cc, nil
}

// Close releases every pooled connection, used by cmd/handlerd on shutdown.
func (p *Proxy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, cc := range p.conns {
		cc.Close()
		delete(p.conns, addr)
	}
}

// waitForReady blocks until cc reaches connectivity.Ready or ctx expires,
// triggering a connection attempt if none is already in flight. It is how
// connTimeoutUs is actually enforced: grpc.NewClient itself never blocks,
// so without this the connect-timeout budget would go unobserved.
func waitForReady(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		s := cc.GetState()
		if s == connectivity.Ready {
			return nil
		}
		if !cc.WaitForStateChange(ctx, s) {
			return ctx.Err()
		}
	}
}

// SendConfigChangeCmd implements handler.RPCProxy (spec §4.4's RPC-dispatch
// branch). connTimeoutUs bounds dial/connect time, processBudgetUs bounds
// the remote call itself; both are honored via context deadlines the way
// the original caps "min(timeout, connect_timeout_cap)" before issuing the
// RPC.
func (p *Proxy) SendConfigChangeCmd(ctx context.Context, addr string, cmd engine.ConfigChangeCmd, connTimeoutUs, processBudgetUs int64) error {
	cc, err := p.getConn(addr)
	if err != nil {
		return errConnect(err)
	}
	if connTimeoutUs > 0 {
		connCtx, cancel := context.WithTimeout(ctx, time.Duration(connTimeoutUs)*time.Microsecond)
		err := waitForReady(connCtx, cc)
		cancel()
		if err != nil {
			return errConnect(err)
		}
	}
	callCtx := ctx
	if processBudgetUs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(processBudgetUs)*time.Microsecond)
		defer cancel()
	}
	client := logrpcpb.NewLogHandlerRpcClient(cc)
	req := &logrpcpb.ConfigChangeCmdReq{
		Self:           cmd.Self,
		StreamId:       int64(cmd.StreamID),
		CurrReplicaNum: cmd.CurrReplicaNum,
		NewReplicaNum:  cmd.NewReplicaNum,
		CmdKind:        logrpcpb.ConfigChangeKind(cmd.Kind),
		TimeoutNs:      cmd.TimeoutNs,
	}
	if cmd.AddedMember.IsValid() {
		req.AddedMember = &logrpcpb.Member{Address: cmd.AddedMember.Address}
	}
	if cmd.RemovedMember.IsValid() {
		req.RemovedMember = &logrpcpb.Member{Address: cmd.RemovedMember.Address}
	}
	_, err = client.SendConfigChangeCmd(callCtx, req)
	return statusToHandlerErr(err)
}

// GetPalfStat implements handler.RPCProxy's sync-monitor query (spec §4.5).
func (p *Proxy) GetPalfStat(ctx context.Context, addr string, self string, id engine.StreamID) (int64, error) {
	cc, err := p.getConn(addr)
	if err != nil {
		return 0, errConnect(err)
	}
	client := logrpcpb.NewLogHandlerRpcClient(cc)
	resp, err := client.GetPalfStat(ctx, &logrpcpb.GetStatReq{Self: self, StreamId: int64(id)})
	if err != nil {
		return 0, statusToHandlerErr(err)
	}
	return resp.MaxTsNs, nil
}
