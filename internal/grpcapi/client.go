package grpcapi

import (
	"context"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/corenest/internal/corenest/fault"
	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
	"github.com/BrandonDHaskell/corenest/internal/corenest/wire"
)

// Client calls corenest.v1.Vault as a fixed principal.  Domain failures come
// back as *fault.Error values, so callers branch on them exactly as they
// would against a local service.Vault.
type Client struct {
	conn      grpc.ClientConnInterface
	principal types.Principal
}

func NewClient(conn grpc.ClientConnInterface, principal types.Principal) *Client {
	return &Client{conn: conn, principal: principal}
}

func (c *Client) StoreData(ctx context.Context, reference string, keyHash *string) (uint64, error) {
	var out types.StoreDataResponse
	err := c.invoke(ctx, methodStoreData, types.StoreDataRequest{Reference: reference, KeyHash: keyHash}, &out)
	return out.ID, err
}

func (c *Client) GrantAccess(ctx context.Context, id uint64, grantee types.Principal, encryptedKey *string) error {
	var out types.OKResponse
	return c.invoke(ctx, methodGrantAccess, grantRequest{RecordID: id, Grantee: grantee.String(), EncryptedKey: encryptedKey}, &out)
}

func (c *Client) RevokeAccess(ctx context.Context, id uint64, grantee types.Principal) error {
	var out types.OKResponse
	return c.invoke(ctx, methodRevokeAccess, grantRequest{RecordID: id, Grantee: grantee.String()}, &out)
}

func (c *Client) AccessData(ctx context.Context, id uint64) (types.AccessResult, error) {
	var out types.AccessResult
	err := c.invoke(ctx, methodAccessData, recordRequest{RecordID: id}, &out)
	return out, err
}

func (c *Client) GetKeyHash(ctx context.Context, id uint64) (*string, error) {
	var out types.KeyHashResponse
	err := c.invoke(ctx, methodGetKeyHash, recordRequest{RecordID: id}, &out)
	return out.KeyHash, err
}

func (c *Client) GetDataAccessLog(ctx context.Context, id uint64, grantee types.Principal) (types.AccessLog, error) {
	var out types.AccessLog
	err := c.invoke(ctx, methodGetDataAccessLog, grantRequest{RecordID: id, Grantee: grantee.String()}, &out)
	return out, err
}

func (c *Client) GetRecordInfo(ctx context.Context, id uint64) (types.RecordInfo, error) {
	var out types.RecordInfo
	err := c.invoke(ctx, methodGetRecordInfo, recordRequest{RecordID: id}, &out)
	return out, err
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	in, err := wire.ToStruct(req)
	if err != nil {
		return err
	}
	ctx = metadata.AppendToOutgoingContext(ctx, PrincipalMetadataKey, c.principal.String())

	out := new(structpb.Struct)
	var trailer metadata.MD
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out, grpc.Trailer(&trailer)); err != nil {
		return fromStatus(err, trailer)
	}
	return wire.FromStruct(out, resp)
}

// fromStatus turns a failed call back into a domain fault when the server
// attached one.
func fromStatus(err error, trailer metadata.MD) error {
	vals := trailer.Get(ErrorCodeTrailer)
	if len(vals) == 0 {
		return err
	}
	n, perr := strconv.ParseUint(vals[0], 10, 32)
	if perr != nil {
		return err
	}
	msg := ""
	if st, ok := status.FromError(err); ok {
		msg = st.Message()
	}
	if fe, ok := fault.FromCode(fault.Code(n), msg); ok {
		return fe
	}
	return err
}
