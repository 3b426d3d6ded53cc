package handlers

import (
	"context"
	"log/slog"
	"storefront/internal/cart"
	"storefront/pkg/ctxmanage"
	"storefront/pkg/logkey"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const getCartDetailsMethod = "/storefront.cart.v1.CartItemService/GetCartDetails"

// CartItemServiceServer lets internal services read a user's cart. Requests
// carry the user id; replies are a struct with the cart id, subtotal and
// items.
type CartItemServiceServer interface {
	GetCartDetails(ctx context.Context, userID *wrapperspb.StringValue) (*structpb.Struct, error)
}

var CartItemServiceDesc = grpc.ServiceDesc{
	ServiceName: "storefront.cart.v1.CartItemService",
	HandlerType: (*CartItemServiceServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "GetCartDetails",
		Handler:    getCartDetailsHandler,
	}},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cart.proto",
}

func getCartDetailsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CartItemServiceServer).GetCartDetails(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCartDetailsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CartItemServiceServer).GetCartDetails(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

type cartItemService struct {
	carts *cart.Service
}

func NewCartItemServiceHandler(carts *cart.Service) CartItemServiceServer {
	return &cartItemService{carts: carts}
}

func RegisterCartItemService(s grpc.ServiceRegistrar, srv CartItemServiceServer) {
	s.RegisterService(&CartItemServiceDesc, srv)
}

func (s *cartItemService) GetCartDetails(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := req.GetValue()
	if userID == "" {
		return nil, status.Error(codes.InvalidArgument, "user id is required")
	}
	ct, err := s.carts.GetCart(ctx, cart.UserOwner(userID))
	if err != nil {
		slog.Error("grpc cart lookup failed", slog.String(logkey.TraceID, ctxmanage.GetTraceId(ctx)),
			slog.String(logkey.UserID, userID), slog.String(logkey.ERROR, err.Error()))
		return nil, status.Errorf(codes.Internal, "failed to get cart details: %v", err)
	}

	items := make([]any, 0, len(ct.Items))
	for _, it := range ct.Items {
		items = append(items, map[string]any{
			"productId": it.ProductID,
			"variantId": it.VariantID,
			"quantity":  it.Quantity,
			"price":     it.Price.String(),
		})
	}
	out, err := structpb.NewStruct(map[string]any{
		"cartId":    ct.ID,
		"subtotal":  ct.Subtotal.String(),
		"itemCount": ct.ItemCount,
		"items":     items,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode cart: %v", err)
	}
	return out, nil
}

// GetCartDetails calls CartItemService over cc.
func GetCartDetails(ctx context.Context, cc grpc.ClientConnInterface, userID string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, getCartDetailsMethod, wrapperspb.String(userID), out); err != nil {
		return nil, err
	}
	return out, nil
}
