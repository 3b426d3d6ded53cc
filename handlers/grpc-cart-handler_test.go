package handlers_test

import (
	"context"
	"net"
	"storefront/handlers"
	"storefront/internal/cart"
	"storefront/internal/storetest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func dialCartService(t *testing.T, carts *cart.Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	handlers.RegisterCartItemService(srv, handlers.NewCartItemServiceHandler(carts))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCGetCartDetails(t *testing.T) {
	ctx := context.Background()
	db := storetest.New()
	carts := cart.NewService(db, db)
	p := db.AddProduct("beret", "12.50", 5)
	_, err := carts.AddItem(ctx, cart.UserOwner("u-1"), cart.AddItemInput{ProductID: p.ID, Quantity: 2})
	require.NoError(t, err)

	conn := dialCartService(t, carts)
	out, err := handlers.GetCartDetails(ctx, conn, "u-1")
	require.NoError(t, err)

	fields := out.AsMap()
	assert.Equal(t, "25", fields["subtotal"])
	assert.Equal(t, float64(2), fields["itemCount"])
	items, ok := fields["items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, p.ID, item["productId"])
	assert.Equal(t, float64(2), item["quantity"])
}

func TestGRPCGetCartDetailsNeedsUser(t *testing.T) {
	db := storetest.New()
	conn := dialCartService(t, cart.NewService(db, db))

	_, err := handlers.GetCartDetails(context.Background(), conn, "")
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
