package rpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/chn0318/logreplica/apply"
	"github.com/chn0318/logreplica/config"
	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/engine/memengine"
	"github.com/chn0318/logreplica/handler"
	"github.com/chn0318/logreplica/locator"
	"github.com/chn0318/logreplica/replay"
	"github.com/chn0318/logreplica/rpc/logrpcpb"
)

const testStream engine.StreamID = 42

func newBufconnServer(t *testing.T) (logrpcpb.LogHandlerRpcClient, *handler.Handler, func()) {
	t.Helper()

	eng := memengine.New()
	eng.SetRole(engine.Leader, 1)
	applySvc := apply.NewService()
	replaySvc := replay.NewService()
	loc := locator.NewInMemoryLocator()
	loc.SetLeader(testStream, "bufconn-self")
	proxy := NewProxy()

	h := handler.New()
	require.NoError(t, h.Init(context.Background(), testStream, "bufconn-self", config.Default(), eng, applySvc, replaySvc, loc, loc, proxy))
	h.SwitchRole(engine.Leader, 1)

	srv := NewServer()
	srv.Register(testStream, h)

	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer()
	logrpcpb.RegisterLogHandlerRpcServer(grpcServer, srv)
	go grpcServer.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		grpcServer.Stop()
	}
	return logrpcpb.NewLogHandlerRpcClient(conn), h, cleanup
}

func TestGetPalfStatOverBufconn(t *testing.T) {
	client, h, cleanup := newBufconnServer(t)
	defer cleanup()

	_, _, err := h.Append(context.Background(), []byte("x"), 1, false, handler.NewAppendCallback(nil))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.GetPalfStat(ctx, &logrpcpb.GetStatReq{Self: "caller", StreamId: int64(testStream)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resp.MaxTsNs)
}

func TestSendConfigChangeCmdOverBufconn(t *testing.T) {
	client, h, cleanup := newBufconnServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.SendConfigChangeCmd(ctx, &logrpcpb.ConfigChangeCmdReq{
		Self:          "caller",
		StreamId:      int64(testStream),
		AddedMember:   &logrpcpb.Member{Address: "new:1"},
		NewReplicaNum: 3,
		CmdKind:       logrpcpb.ConfigChangeKind_ADD_MEMBER,
		TimeoutNs:     int64(time.Second),
	})
	require.NoError(t, err)

	members, err := h.GetPaxosMemberList(context.Background())
	require.NoError(t, err)
	assert.True(t, members.Contains("new:1"))
}

func TestGetPalfStatUnknownStreamReturnsError(t *testing.T) {
	client, _, cleanup := newBufconnServer(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.GetPalfStat(ctx, &logrpcpb.GetStatReq{Self: "caller", StreamId: 9999})
	assert.Error(t, err)
}
