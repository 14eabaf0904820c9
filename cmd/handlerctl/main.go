package main

import (
	"context"
	"flag"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chn0318/logreplica/rpc/logrpcpb"
)

func main() {
	addr := flag.String("addr", "localhost:50061", "log handler gRPC address")
	cmd := flag.String("cmd", "stat", "command: stat | add-member | remove-member | change-replica-num")
	self := flag.String("self", "handlerctl", "caller identity sent with the request")
	streamID := flag.Int64("stream", 1, "log stream id")
	memberAddr := flag.String("member", "", "member address for add-member/remove-member")
	replicaNum := flag.Int64("replica-num", 0, "new replica count for change-replica-num")
	currReplicaNum := flag.Int64("curr-replica-num", 0, "current replica count for change-replica-num")
	timeoutMs := flag.Int64("timeout-ms", 5000, "RPC timeout in milliseconds")
	flag.Parse()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	client := logrpcpb.NewLogHandlerRpcClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutMs)*time.Millisecond)
	defer cancel()

	switch *cmd {
	case "stat":
		resp, err := client.GetPalfStat(ctx, &logrpcpb.GetStatReq{Self: *self, StreamId: *streamID})
		if err != nil {
			log.Fatalf("GetPalfStat error: %v", err)
		}
		log.Printf("max_ts_ns=%d", resp.MaxTsNs)

	case "add-member":
		if *memberAddr == "" {
			log.Fatal("add-member requires -member")
		}
		req := &logrpcpb.ConfigChangeCmdReq{
			Self:          *self,
			StreamId:      *streamID,
			AddedMember:   &logrpcpb.Member{Address: *memberAddr},
			NewReplicaNum: *replicaNum,
			CmdKind:       logrpcpb.ConfigChangeKind_ADD_MEMBER,
			TimeoutNs:     *timeoutMs * int64(time.Millisecond),
		}
		if _, err := client.SendConfigChangeCmd(ctx, req); err != nil {
			log.Fatalf("SendConfigChangeCmd error: %v", err)
		}
		log.Println("add-member OK")

	case "remove-member":
		if *memberAddr == "" {
			log.Fatal("remove-member requires -member")
		}
		req := &logrpcpb.ConfigChangeCmdReq{
			Self:          *self,
			StreamId:      *streamID,
			RemovedMember: &logrpcpb.Member{Address: *memberAddr},
			NewReplicaNum: *replicaNum,
			CmdKind:       logrpcpb.ConfigChangeKind_REMOVE_MEMBER,
			TimeoutNs:     *timeoutMs * int64(time.Millisecond),
		}
		if _, err := client.SendConfigChangeCmd(ctx, req); err != nil {
			log.Fatalf("SendConfigChangeCmd error: %v", err)
		}
		log.Println("remove-member OK")

	case "change-replica-num":
		req := &logrpcpb.ConfigChangeCmdReq{
			Self:           *self,
			StreamId:       *streamID,
			CurrReplicaNum: *currReplicaNum,
			NewReplicaNum:  *replicaNum,
			CmdKind:        logrpcpb.ConfigChangeKind_CHANGE_REPLICA_NUM,
			TimeoutNs:      *timeoutMs * int64(time.Millisecond),
		}
		if _, err := client.SendConfigChangeCmd(ctx, req); err != nil {
			log.Fatalf("SendConfigChangeCmd error: %v", err)
		}
		log.Println("change-replica-num OK")

	default:
		log.Fatalf("unknown -cmd %q", *cmd)
	}
}
