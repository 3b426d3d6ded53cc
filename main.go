package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"storefront/handlers"
	"storefront/internal/auth"
	"storefront/internal/cart"
	"storefront/internal/config"
	"storefront/internal/consul"
	"storefront/internal/inventory"
	"storefront/internal/notify"
	"storefront/internal/orders"
	"storefront/internal/payments"
	"storefront/internal/products"
	"storefront/internal/refunds"
	"storefront/internal/reviews"
	"storefront/internal/stores/kafka"
	"storefront/internal/stores/objectstore"
	"storefront/internal/stores/postgres"
	"storefront/internal/stores/redis"
	"storefront/internal/users"
	"storefront/pkg/logkey"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	if err := startApp(); err != nil {
		slog.Error("storefront stopped", slog.String(logkey.ERROR, err.Error()))
		os.Exit(1)
	}
}

func startApp() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	/*
		//------------------------------------------------------//
		//                 Setting up Postgres                   //
		//------------------------------------------------------//
	*/
	db, err := postgres.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.Migrate(db); err != nil {
		return err
	}

	userStore, err := users.NewConf(db)
	if err != nil {
		return err
	}
	productStore, err := products.NewConf(db)
	if err != nil {
		return err
	}
	cartStore, err := cart.NewConf(db)
	if err != nil {
		return err
	}
	orderStore, err := orders.NewConf(db)
	if err != nil {
		return err
	}
	refundStore, err := refunds.NewConf(db)
	if err != nil {
		return err
	}
	reviewStore, err := reviews.NewConf(db)
	if err != nil {
		return err
	}
	ledger, err := inventory.NewLedger(db, &productStore)
	if err != nil {
		return err
	}

	/*
		//------------------------------------------------------//
		//            Events, queues and object storage          //
		//------------------------------------------------------//
	*/
	var events notify.Publisher = notify.LogPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		k, err := kafka.NewConf(cfg.KafkaBrokers, cfg.ServiceName)
		if err != nil {
			return err
		}
		defer k.Close()
		if err := k.EnsureTopics(ctx, 3, 1); err != nil {
			slog.Error("could not ensure kafka topics", slog.String(logkey.ERROR, err.Error()))
		}
		events = k
	}

	var reviewQueue notify.ReviewQueue = &notify.MemoryQueue{}
	var dedupe payments.Deduper = payments.NewMemoryDeduper()
	if cfg.RedisAddr != "" {
		r, err := redis.NewConf(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer r.Close()
		reviewQueue, dedupe = r, r
	}

	var images products.ImageStore
	if cfg.S3.Enabled() {
		s3, err := objectstore.NewConf(ctx, cfg.S3)
		if err != nil {
			return err
		}
		images = s3
	}

	var gateway payments.Gateway
	switch cfg.Payment.Provider {
	case config.ProviderStripe:
		gateway = payments.NewStripe(cfg.Payment.StripeSecretKey, cfg.Payment.CallbackURL)
	default:
		gateway = payments.NewPaystack(cfg.Payment.PaystackSecretKey, cfg.Payment.PaystackBaseURL, nil)
	}

	/*
		//------------------------------------------------------//
		//                   Domain services                     //
		//------------------------------------------------------//
	*/
	keys, err := auth.NewKeys(cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}
	productSvc := products.NewService(&productStore, images)
	cartSvc := cart.NewService(&cartStore, &productStore)
	orderSvc := orders.NewService(&orderStore, &productStore, cartSvc, ledger, events, reviewQueue,
		orders.Options{Currency: cfg.Payment.Currency, ReviewDelay: cfg.ReviewRequestDelay})
	paymentSvc := payments.NewService(orderSvc, gateway, events, dedupe,
		payments.Options{Currency: cfg.Payment.Currency, CallbackURL: cfg.Payment.CallbackURL})
	svc := handlers.Services{
		Users:    users.NewService(&userStore, &productStore, keys),
		Products: productSvc,
		Stock:    ledger,
		Carts:    cartSvc,
		Orders:   orderSvc,
		Payments: paymentSvc,
		Refunds:  refunds.NewService(&refundStore, orderSvc, gateway, events),
		Reviews:  reviews.NewService(&reviewStore, &productStore, orderSvc),
	}

	if cfg.CatalogSeedFile != "" {
		n, err := productSvc.SeedFromFile(ctx, cfg.CatalogSeedFile)
		if err != nil {
			return err
		}
		slog.Info("catalog seeded", slog.Int("Products", n))
	}

	/*
		//------------------------------------------------------//
		//                 Setting up http & grpc                //
		//------------------------------------------------------//
	*/
	api, err := handlers.API("/api", keys, svc, handlers.Webhooks{
		PaystackSecret: cfg.Payment.PaystackSecretKey,
		StripeSecret:   cfg.Payment.StripeWebhookSecret,
		AllowUnsigned:  cfg.IsDevelopment(),
	})
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	handlers.RegisterCartItemService(grpcServer, handlers.NewCartItemServiceHandler(cartSvc))

	serverErrors := make(chan error, 2)
	go func() {
		slog.Info("http server starting", slog.String("Addr", cfg.HTTPAddr))
		serverErrors <- httpServer.ListenAndServe()
	}()
	go func() {
		slog.Info("grpc server starting", slog.String("Addr", cfg.GRPCAddr))
		serverErrors <- grpcServer.Serve(grpcListener)
	}()

	go notify.NewReviewRequestWorker(reviewQueue, events, time.Minute).Run(ctx)

	if cfg.ConsulAddr != "" {
		client, err := consul.NewClient(cfg.ConsulAddr)
		if err != nil {
			return err
		}
		_, grpcPort, _ := net.SplitHostPort(cfg.GRPCAddr)
		port, _ := strconv.Atoi(grpcPort)
		id, err := consul.RegisterService(client, consul.Registration{
			ServiceName: cfg.ServiceName,
			Addr:        cfg.HTTPAddr,
			GRPCPort:    port,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := consul.Deregister(client, id); err != nil {
				slog.Error("consul deregistration failed", slog.String(logkey.ERROR, err.Error()))
			}
		}()
	}

	/*
		//------------------------------------------------------//
		//                  Graceful shutdown                    //
		//------------------------------------------------------//
	*/
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown started")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		_ = httpServer.Close()
		return fmt.Errorf("could not stop http server gracefully: %w", err)
	}
	slog.Info("shutdown complete")
	return nil
}
