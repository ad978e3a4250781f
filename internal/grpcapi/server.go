package grpcapi

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
	"github.com/BrandonDHaskell/corenest/internal/corenest/wire"
)

type Dependencies struct {
	Logger logrus.FieldLogger
	Addr   string
	Vault  *service.Vault
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     logrus.FieldLogger
	addr       string
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		recoverInterceptor(logger),
		loggingInterceptor(logger),
	))
	gs.RegisterService(&ServiceDesc, &vaultServer{vault: d.Vault, logger: logger})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)

	return &Server{grpcServer: gs, health: hs, logger: logger, addr: d.Addr}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Shutdown drains in-flight calls, falling back to a hard stop when ctx
// expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}

// ── interceptors ─────────────────────────────────────────────────────────────

func loggingInterceptor(logger logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now().UTC()
		resp, err := handler(ctx, req)
		logger.WithFields(logrus.Fields{
			"method": info.FullMethod,
			"code":   status.Code(err).String(),
			"dur":    time.Since(start).String(),
		}).Info("grpc request")
		return resp, err
	}
}

func recoverInterceptor(logger logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.WithFields(logrus.Fields{"method": info.FullMethod, "panic": p}).Error("handler panic")
				err = status.Error(codes.Internal, "unexpected server error")
			}
		}()
		return handler(ctx, req)
	}
}

// ── handlers ─────────────────────────────────────────────────────────────────

type vaultServer struct {
	vault  *service.Vault
	logger logrus.FieldLogger
}

func (s *vaultServer) StoreData(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	var req types.StoreDataRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	id, err := s.vault.StoreData(ctx, caller, req.Reference, req.KeyHash)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, types.StoreDataResponse{ID: id})
}

func (s *vaultServer) GrantAccess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caller, req, grantee, err := grantCall(ctx, in)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if err := s.vault.GrantAccess(ctx, caller, req.RecordID, grantee, req.EncryptedKey); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, types.OKResponse{OK: true})
}

func (s *vaultServer) RevokeAccess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caller, req, grantee, err := grantCall(ctx, in)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if req.EncryptedKey != nil {
		return nil, s.toStatus(ctx, fault.Invalid("encrypted_key is not accepted on revoke"))
	}
	if err := s.vault.RevokeAccess(ctx, caller, req.RecordID, grantee); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, types.OKResponse{OK: true})
}

func (s *vaultServer) AccessData(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caller, id, err := recordCall(ctx, in)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	res, err := s.vault.AccessData(ctx, caller, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, res)
}

func (s *vaultServer) GetKeyHash(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caller, id, err := recordCall(ctx, in)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	kh, err := s.vault.GetKeyHash(ctx, caller, id)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, types.KeyHashResponse{KeyHash: kh})
}

func (s *vaultServer) GetDataAccessLog(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caller, req, grantee, err := grantCall(ctx, in)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if req.EncryptedKey != nil {
		return nil, s.toStatus(ctx, fault.Invalid("encrypted_key is not accepted here"))
	}
	lg, err := s.vault.GetDataAccessLog(ctx, caller, req.RecordID, grantee)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, lg)
}

// GetRecordInfo needs no caller identity.
func (s *vaultServer) GetRecordInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return nil, s.toStatus(ctx, err)
	}
	info, err := s.vault.GetRecordInfo(ctx, req.RecordID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return s.reply(ctx, info)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func callerFrom(ctx context.Context) (types.Principal, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(PrincipalMetadataKey)
	if len(vals) != 1 {
		return "", fault.Invalid("exactly one %s metadata value is required", PrincipalMetadataKey)
	}
	p, err := types.ParsePrincipal(vals[0])
	if err != nil {
		return "", fault.Invalid("%s: %v", PrincipalMetadataKey, err)
	}
	return p, nil
}

func decodeRequest(in *structpb.Struct, dst any) error {
	if err := wire.FromStruct(in, dst); err != nil {
		return fault.Invalid("invalid request message")
	}
	return nil
}

func recordCall(ctx context.Context, in *structpb.Struct) (types.Principal, uint64, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return "", 0, err
	}
	var req recordRequest
	if err := decodeRequest(in, &req); err != nil {
		return "", 0, err
	}
	return caller, req.RecordID, nil
}

func grantCall(ctx context.Context, in *structpb.Struct) (types.Principal, grantRequest, types.Principal, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return "", grantRequest{}, "", err
	}
	var req grantRequest
	if err := decodeRequest(in, &req); err != nil {
		return "", grantRequest{}, "", err
	}
	grantee, err := types.ParsePrincipal(req.Grantee)
	if err != nil {
		return "", grantRequest{}, "", fault.Invalid("grantee: %v", err)
	}
	return caller, req, grantee, nil
}

func (s *vaultServer) reply(ctx context.Context, v any) (*structpb.Struct, error) {
	out, err := wire.ToStruct(v)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return out, nil
}

func grpcCode(c fault.Code) codes.Code {
	switch c {
	case fault.CodeNoPermission:
		return codes.PermissionDenied
	case fault.CodeNotFound:
		return codes.NotFound
	case fault.CodeInvalidInput:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// toStatus converts err to a gRPC status.  Domain faults also set the
// numeric code trailer; anything else is logged and made opaque.
func (s *vaultServer) toStatus(ctx context.Context, err error) error {
	if fe, ok := fault.As(err); ok {
		_ = grpc.SetTrailer(ctx, metadata.Pairs(ErrorCodeTrailer, strconv.FormatUint(uint64(fe.Code), 10)))
		return status.Error(grpcCode(fe.Code), fe.Message)
	}
	if ctx.Err() != nil {
		return status.FromContextError(ctx.Err()).Err()
	}
	s.logger.WithError(err).Error("grpc call failed")
	return status.Error(codes.Internal, "unexpected server error")
}
