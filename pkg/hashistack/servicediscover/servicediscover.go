package servicediscover

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"ppv-trustcore/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the HTTP service with consul for the lifetime of the app.
// It does nothing unless CONSUL.ADDR is set.
var Module = fx.Module("servicediscover", fx.Invoke(registerConsul))

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	service   *api.AgentServiceRegistration
}

func NewConsulRegistry(address, serviceName, serviceID, host string, port int) (*ConsulRegistry, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	service := &api.AgentServiceRegistration{
		ID:      serviceID,
		Name:    serviceName,
		Address: host,
		Port:    port,
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s:%d/healthz/ready", host, port),
			Interval: "10s",
			Timeout:  "5s",
		},
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: serviceID,
		service:   service,
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Consul.Addr == "" {
		return nil
	}

	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("invalid HTTP_SERVER.ADDR for consul registration: %w", err)
	}

	host := cfg.Consul.ServiceHost
	if host == "" {
		host, _ = os.Hostname()
	}

	serviceID := fmt.Sprintf("%s-%d", cfg.AppName, cfg.NodeID)
	registry, err := NewConsulRegistry(cfg.Consul.Addr, cfg.AppName, serviceID, host, port)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("registering service with consul", zap.String("service_id", serviceID), zap.String("host", host))
			return registry.Register(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}
