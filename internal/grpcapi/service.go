// Package grpcapi exposes the vault over gRPC.
//
// The service is described by hand rather than generated: every request and
// response is a google.protobuf.Struct whose fields match the JSON bodies
// of the HTTP API.
package grpcapi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "corenest.v1.Vault"

// PrincipalMetadataKey carries the caller identity.
const PrincipalMetadataKey = "x-principal"

// ErrorCodeTrailer carries the numeric domain fault code on failed calls.
const ErrorCodeTrailer = "x-corenest-error-code"

const (
	methodStoreData        = "StoreData"
	methodGrantAccess      = "GrantAccess"
	methodRevokeAccess     = "RevokeAccess"
	methodAccessData       = "AccessData"
	methodGetKeyHash       = "GetKeyHash"
	methodGetDataAccessLog = "GetDataAccessLog"
	methodGetRecordInfo    = "GetRecordInfo"
)

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// VaultServer is the server side of corenest.v1.Vault.
type VaultServer interface {
	StoreData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GrantAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AccessData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetKeyHash(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDataAccessLog(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRecordInfo(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFn func(VaultServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, fn unaryFn) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(VaultServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(VaultServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes corenest.v1.Vault for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*VaultServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodStoreData, VaultServer.StoreData),
		unary(methodGrantAccess, VaultServer.GrantAccess),
		unary(methodRevokeAccess, VaultServer.RevokeAccess),
		unary(methodAccessData, VaultServer.AccessData),
		unary(methodGetKeyHash, VaultServer.GetKeyHash),
		unary(methodGetDataAccessLog, VaultServer.GetDataAccessLog),
		unary(methodGetRecordInfo, VaultServer.GetRecordInfo),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "corenest/v1/vault.proto",
}

// Request messages.  Responses reuse the types package DTOs.

type recordRequest struct {
	RecordID uint64 `json:"record_id"`
}

type grantRequest struct {
	RecordID     uint64  `json:"record_id"`
	Grantee      string  `json:"grantee"`
	EncryptedKey *string `json:"encrypted_key,omitempty"`
}
