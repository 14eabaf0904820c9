// Package rpc wires the Log Handler Core's facade to a grpc transport: a
// client-side Proxy implementing handler.RPCProxy, and a server translating
// inbound logrpcpb requests into calls against a local *handler.Handler.
// Connection pooling follows storageserver.StorageServer's pattern of a
// mutex-guarded map of dialed *grpc.ClientConn keyed by address.
package rpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chn0318/logreplica/handler"
)

// kindToCode maps a handler.Kind to the grpc status code the server returns
// for it, so a remote caller's Proxy can map the code back to a Kind
// without the wire format needing to carry anything beyond a standard grpc
// status. Where several kinds share a code, codeToKind picks one of them.
func kindToCode(k handler.Kind) codes.Code {
	switch k {
	case handler.KindNone:
		return codes.OK
	case handler.KindNotInit:
		return codes.FailedPrecondition
	case handler.KindNotRunning:
		return codes.FailedPrecondition
	case handler.KindInvalidArgument:
		return codes.InvalidArgument
	case handler.KindNotMaster:
		return codes.FailedPrecondition
	case handler.KindTimeout:
		return codes.DeadlineExceeded
	case handler.KindRetryableLater:
		return codes.Unavailable
	case handler.KindRemovingLeaderDenied:
		return codes.PermissionDenied
	case handler.KindStateMismatch:
		return codes.FailedPrecondition
	case handler.KindConnectError:
		return codes.Unavailable
	default:
		return codes.Unknown
	}
}

// codeToKind is kindToCode's inverse, used by the client Proxy to recover a
// handler.Kind from a grpc status it receives back. FailedPrecondition is
// ambiguous (it covers NotInit/NotRunning/NotMaster/StateMismatch on the
// server side); the proxy resolves it to NotMaster, since that's the only
// one of those four the reconfiguration dispatcher's retry loop acts on.
// Unavailable is likewise shared by RetryableLater and ConnectError and is
// resolved to RetryableLater.
func codeToKind(c codes.Code) handler.Kind {
	switch c {
	case codes.OK:
		return handler.KindNone
	case codes.FailedPrecondition:
		return handler.KindNotMaster
	case codes.InvalidArgument:
		return handler.KindInvalidArgument
	case codes.DeadlineExceeded:
		return handler.KindTimeout
	case codes.Unavailable:
		return handler.KindRetryableLater
	case codes.PermissionDenied:
		return handler.KindRemovingLeaderDenied
	default:
		return handler.KindUnexpected
	}
}

// errToStatus converts a handler error (or any error) into a grpc status
// error the wire can carry.
func errToStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(kindToCode(handler.KindOf(err)), err.Error())
}

// errConnect wraps a dial-time failure as a ConnectError.
func errConnect(err error) error {
	return handler.ErrConnect(err.Error())
}

// statusToHandlerErr converts a grpc-returned error back into a
// *handler.Error the dispatcher's classifyReconfigResult can switch on. A
// connection-level error (no grpc status attached) becomes ConnectError.
func statusToHandlerErr(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return handler.ErrConnect(err.Error())
	}
	kind := codeToKind(st.Code())
	switch kind {
	case handler.KindNotMaster:
		return handler.ErrNotMaster
	case handler.KindInvalidArgument:
		return handler.ErrInvalidArgument(st.Message())
	case handler.KindTimeout:
		return handler.ErrTimeout
	case handler.KindRetryableLater:
		return handler.ErrRetryableLater(st.Message())
	case handler.KindRemovingLeaderDenied:
		return handler.ErrRemovingLeaderDenied
	default:
		return handler.ErrUnexpected(st.Message())
	}
}
