package listing

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/constructa/listquery/listing/models"
)

// GrpcClient calls a remote listing service
type GrpcClient struct {
	cc   grpc.ClientConnInterface
	conn *grpc.ClientConn
}

// NewGrpcClient wraps an established connection
func NewGrpcClient(cc grpc.ClientConnInterface) *GrpcClient {
	return &GrpcClient{cc: cc}
}

// DialGrpcClient connects to the listing service at targetAddress
func DialGrpcClient(targetAddress string, opts ...grpc.DialOption) (*GrpcClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.Dial(targetAddress, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to listing service at %s: %w", targetAddress, err)
	}
	return &GrpcClient{cc: conn, conn: conn}, nil
}

// Close closes a connection opened by DialGrpcClient
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// ListWithCount calls the remote ListWithCount method
func (c *GrpcClient) ListWithCount(ctx context.Context, req *models.ListRequest, opts ...grpc.CallOption) (*models.ListResponse, error) {
	out := new(models.ListResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(JSONCodec{})}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListWithCount", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// FacetValues calls the remote FacetValues method
func (c *GrpcClient) FacetValues(ctx context.Context, req *models.FacetRequest, opts ...grpc.CallOption) (*models.FacetResponse, error) {
	out := new(models.FacetResponse)
	opts = append([]grpc.CallOption{grpc.ForceCodec(JSONCodec{})}, opts...)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/FacetValues", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
