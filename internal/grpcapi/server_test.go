package grpcapi_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/service"
	"github.com/BrandonDHaskell/corenest/internal/corenest/store/memory"
	"github.com/BrandonDHaskell/corenest/internal/grpcapi"
)

// dial starts a server on an in-process listener and returns a connection
// to it.
func dial(t *testing.T) *grpc.ClientConn {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := grpcapi.NewServer(grpcapi.Dependencies{
		Logger: logger,
		Vault:  service.NewVault(memory.New(), logger),
	})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func strptr(s string) *string { return &s }

// ── Vault service ────────────────────────────────────────────────────────────

func TestVault_FullFlow(t *testing.T) {
	conn := dial(t)
	ctx := context.Background()
	alice := grpcapi.NewClient(conn, "alice")
	bob := grpcapi.NewClient(conn, "bob")

	id, err := alice.StoreData(ctx, "ipfs://doc", strptr("kh"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	_, err = bob.AccessData(ctx, id)
	assert.ErrorIs(t, err, fault.ErrNoPermission)

	require.NoError(t, alice.GrantAccess(ctx, id, "bob", strptr("ek-bob")))

	res, err := bob.AccessData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://doc", res.Reference)
	require.NotNil(t, res.Key)
	assert.Equal(t, "ek-bob", *res.Key)

	lg, err := alice.GetDataAccessLog(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), lg.AccessCount)

	kh, err := alice.GetKeyHash(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, kh)
	assert.Equal(t, "kh", *kh)

	_, err = bob.GetKeyHash(ctx, id)
	assert.ErrorIs(t, err, fault.ErrNoPermission)

	info, err := bob.GetRecordInfo(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", info.Owner.String())

	require.NoError(t, alice.RevokeAccess(ctx, id, "bob"))
	_, err = bob.AccessData(ctx, id)
	assert.ErrorIs(t, err, fault.ErrNoPermission)
}

func TestVault_NotFoundAndInvalid(t *testing.T) {
	conn := dial(t)
	ctx := context.Background()
	alice := grpcapi.NewClient(conn, "alice")

	_, err := alice.AccessData(ctx, 404)
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.Equal(t, fault.CodeNotFound, fault.CodeOf(err))

	err = alice.GrantAccess(ctx, 1, "", nil)
	assert.ErrorIs(t, err, fault.ErrInvalidInput)

	anon := grpcapi.NewClient(conn, "")
	_, err = anon.StoreData(ctx, "ref", nil)
	assert.ErrorIs(t, err, fault.ErrInvalidInput)
}

func TestVault_StatusCodesAndTrailer(t *testing.T) {
	conn := dial(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), grpcapi.PrincipalMetadataKey, "alice")

	in, err := structpb.NewStruct(map[string]any{"record_id": 7})
	require.NoError(t, err)

	var trailer metadata.MD
	err = conn.Invoke(ctx, "/"+grpcapi.ServiceName+"/AccessData", in, new(structpb.Struct), grpc.Trailer(&trailer))
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, []string{"102"}, trailer.Get(grpcapi.ErrorCodeTrailer))
}

func TestVault_UnknownRequestField(t *testing.T) {
	conn := dial(t)
	ctx := metadata.AppendToOutgoingContext(context.Background(), grpcapi.PrincipalMetadataKey, "alice")

	in, err := structpb.NewStruct(map[string]any{"reference": "r", "owner": "mallory"})
	require.NoError(t, err)

	err = conn.Invoke(ctx, "/"+grpcapi.ServiceName+"/StoreData", in, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestHealth_Serving(t *testing.T) {
	conn := dial(t)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{
		Service: grpcapi.ServiceName,
	})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
