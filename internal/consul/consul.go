// Package consul registers the process with a Consul agent.
package consul

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

type Registration struct {
	ServiceName string
	// Addr is the HTTP listen address, for example ":8080".
	Addr string
	// Host is advertised to other services. It defaults to the hostname.
	Host     string
	GRPCPort int
}

func NewClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = addr
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

// RegisterService registers the service with an HTTP health check on /ping
// and returns the service id to deregister with.
func RegisterService(client *consulapi.Client, r Registration) (string, error) {
	_, portStr, err := net.SplitHostPort(r.Addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", r.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	host := r.Host
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			return "", fmt.Errorf("failed to get hostname: %w", err)
		}
	}

	id := fmt.Sprintf("%s-%s-%d", r.ServiceName, host, port)
	reg := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    r.ServiceName,
		Address: host,
		Port:    port,
		Tags:    []string{"http"},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/ping", host, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if r.GRPCPort > 0 {
		reg.Meta = map[string]string{"grpc_port": strconv.Itoa(r.GRPCPort)}
	}
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return "", fmt.Errorf("failed to register %s with consul: %w", id, err)
	}
	slog.Info("registered with consul", slog.String("ServiceID", id))
	return id, nil
}

func Deregister(client *consulapi.Client, id string) error {
	if err := client.Agent().ServiceDeregister(id); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", id, err)
	}
	return nil
}

// GetServiceAddress returns the address and port of a healthy instance of
// the named service.
func GetServiceAddress(client *consulapi.Client, name string) (string, int, error) {
	entries, _, err := client.Health().Service(name, "", true, nil)
	if err != nil {
		return "", 0, fmt.Errorf("consul health lookup for %s: %w", name, err)
	}
	if len(entries) == 0 {
		return "", 0, fmt.Errorf("no healthy instance of %s", name)
	}
	svc := entries[0].Service
	addr := svc.Address
	if addr == "" {
		addr = entries[0].Node.Address
	}
	return addr, svc.Port, nil
}
