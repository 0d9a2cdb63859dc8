package listing

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/constructa/listquery/internal/middleware/authjwt"
	"github.com/constructa/listquery/internal/pkg/log"
	"github.com/constructa/listquery/internal/types"
	listingErrors "github.com/constructa/listquery/listing/errors"
	"github.com/constructa/listquery/listing/models"
	"github.com/constructa/listquery/listing/services"
)

const serviceName = "listing.v1.ListingService"

// JSONCodec carries listing messages as JSON over gRPC
type JSONCodec struct{}

func (JSONCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                               { return "json" }

// ListingServer is the server API of the listing gRPC service
type ListingServer interface {
	ListWithCount(ctx context.Context, req *models.ListRequest) (*models.ListResponse, error)
	FacetValues(ctx context.Context, req *models.FacetRequest) (*models.FacetResponse, error)
}

// ServiceDesc describes the listing gRPC service for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ListingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListWithCount", Handler: listWithCountHandler},
		{MethodName: "FacetValues", Handler: facetValuesHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// grpcServer implements ListingServer on top of the list service.
type grpcServer struct {
	service services.ListService
}

// NewGrpcServer creates a new gRPC server for the listing service.
func NewGrpcServer(svc services.ListService) ListingServer {
	return &grpcServer{service: svc}
}

// ListWithCount is the implementation of the gRPC endpoint.
func (s *grpcServer) ListWithCount(ctx context.Context, req *models.ListRequest) (*models.ListResponse, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, listingErrors.ToGRPCStatus(listingErrors.ErrMissingUserContext)
	}
	if req.EntityType == "" {
		return nil, status.Error(codes.InvalidArgument, "entity_type is required")
	}
	resp, err := s.service.ListWithCount(ctx, req, user)
	return resp, listingErrors.ToGRPCStatus(err)
}

// FacetValues is the implementation of the gRPC endpoint.
func (s *grpcServer) FacetValues(ctx context.Context, req *models.FacetRequest) (*models.FacetResponse, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, listingErrors.ToGRPCStatus(listingErrors.ErrMissingUserContext)
	}
	if req.EntityType == "" || req.Field == "" {
		return nil, status.Error(codes.InvalidArgument, "entity_type and field are required")
	}
	resp, err := s.service.FacetValues(ctx, req, user)
	return resp, listingErrors.ToGRPCStatus(err)
}

// NewServer creates a grpc.Server speaking JSON with JWT authentication and
// registers srv on it
func NewServer(srv ListingServer, publicKey, claimKey string) *grpc.Server {
	server := grpc.NewServer(
		grpc.ForceServerCodec(JSONCodec{}),
		grpc.UnaryInterceptor(AuthInterceptor(publicKey, claimKey)),
	)
	server.RegisterService(&ServiceDesc, srv)
	return server
}

type userKey struct{}

// UserFromContext returns the caller attached by AuthInterceptor
func UserFromContext(ctx context.Context) (*types.UserContext, bool) {
	user, ok := ctx.Value(userKey{}).(*types.UserContext)
	return user, ok && user != nil
}

// AuthInterceptor validates the bearer token in the authorization metadata
// and attaches the caller to the context. A request id from x-request-id
// metadata is attached for logging.
func AuthInterceptor(publicKey, claimKey string) grpc.UnaryServerInterceptor {
	if claimKey == "" {
		claimKey = "claim"
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if ids := md.Get(strings.ToLower(types.HeaderRequestID)); len(ids) > 0 {
			ctx = log.WithRequestID(ctx, ids[0])
		}

		var token string
		if values := md.Get(strings.ToLower(types.HeaderAuthorization)); len(values) > 0 {
			token = strings.TrimSpace(strings.TrimPrefix(values[0], types.BearerPrefix))
		}
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}

		user, err := authjwt.ValidateToken(token, publicKey, claimKey)
		if err != nil {
			log.WarnWithContext(ctx, "%s: %v", info.FullMethod, err)
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(context.WithValue(ctx, userKey{}, &user), req)
	}
}

func listWithCountHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(models.ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ListingServer).ListWithCount(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListWithCount"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ListingServer).ListWithCount(ctx, req.(*models.ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func facetValuesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(models.FacetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ListingServer).FacetValues(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/FacetValues"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ListingServer).FacetValues(ctx, req.(*models.FacetRequest))
	}
	return interceptor(ctx, in, info, handler)
}
