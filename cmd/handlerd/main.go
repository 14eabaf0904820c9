package main

import (
	"context"
	"flag"
	"log"
	"net"

	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/chn0318/logreplica/apply"
	"github.com/chn0318/logreplica/config"
	"github.com/chn0318/logreplica/engine"
	"github.com/chn0318/logreplica/engine/memengine"
	"github.com/chn0318/logreplica/handler"
	"github.com/chn0318/logreplica/locator"
	"github.com/chn0318/logreplica/replay"
	"github.com/chn0318/logreplica/rpc"
	"github.com/chn0318/logreplica/rpc/logrpcpb"
)

func main() {
	addr := flag.String("addr", ":50061", "gRPC listen address")
	self := flag.String("self", "localhost:50061", "this replica's advertised address")
	streamID := flag.Int64("stream", 1, "log stream id this process hosts")
	configFile := flag.String("config", "", "optional viper config file (toml/yaml/json)")
	peers := flag.String("peers", "", "comma-separated candidate peer addresses for the leader locator")
	leader := flag.Bool("leader", true, "whether this replica starts as leader")
	flag.Parse()

	v := viper.New()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			log.Fatalf("read config error: %v", err)
		}
	}
	cfg := config.LoadFromViper(v)

	id := engine.StreamID(*streamID)

	eng := memengine.New()
	if *leader {
		eng.SetRole(engine.Leader, 1)
	}

	applyService := apply.NewService()
	replayService := replay.NewService()
	loc := locator.NewInMemoryLocator()
	loc.SetLeader(id, *self)
	if *peers != "" {
		loc.SetCandidates(id, splitAddrs(*peers))
	}
	proxy := rpc.NewProxy()
	defer proxy.Close()

	h := handler.New()
	ctx := context.Background()
	if err := h.Init(ctx, id, *self, cfg, eng, applyService, replayService, loc, loc, proxy); err != nil {
		log.Fatalf("handler init error: %v", err)
	}
	if *leader {
		h.SwitchRole(engine.Leader, 1)
	}

	syncCtx, cancelSync := context.WithCancel(context.Background())
	defer cancelSync()
	go h.RunSyncMonitor(syncCtx)

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatalf("listen error: %v", err)
	}

	srv := rpc.NewServer()
	srv.Register(id, h)

	grpcServer := grpc.NewServer()
	logrpcpb.RegisterLogHandlerRpcServer(grpcServer, srv)

	log.Printf("log handler gRPC server listening on %s stream=%d self=%s leader=%v", *addr, id, *self, *leader)
	if err := grpcServer.Serve(lis); err != nil {
		log.Fatalf("serve error: %v", err)
	}
}

func splitAddrs(csv string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	return out
}
