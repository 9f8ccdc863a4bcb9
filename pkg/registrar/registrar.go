// Package registrar registers this instance into a coordination store
// (etcd) under a leased key and keeps that lease alive until shutdown.
package registrar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kadds/job-judge/pkg/config"
	"github.com/kadds/job-judge/pkg/logger"
)

const minLeaseTTL = 30 * time.Second

// Info is the JSON value written at {prefix}/{module}/{name}/info.
type Info struct {
	Address string `json:"address"`
	Enabled bool   `json:"enabled"`
	Ctime   int64  `json:"ctime"`
	Mtime   int64  `json:"mtime"`
}

// Registrar owns one leased key in the coordination store for the life of
// the process, renewing it until Close is called or a shutdown signal
// arrives.
type Registrar struct {
	client *clientv3.Client
	cfg    config.RegistrarConfig

	key     string
	leaseID clientv3.LeaseID

	stopCh chan struct{}
}

// New connects to the coordination store named in cfg, retrying with a 1s
// backoff up to cfg.Retries times.
func New(ctx context.Context, cfg config.RegistrarConfig) (*Registrar, error) {
	ttl := cfg.TTL
	if ttl < minLeaseTTL {
		ttl = minLeaseTTL
	}

	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("registrar: no coordination store endpoints configured")
	}

	var client *clientv3.Client
	var err error
	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}

	for attempt := 0; attempt < retries; attempt++ {
		client, err = clientv3.New(clientv3.Config{
			Endpoints:   cfg.Endpoints,
			Username:    cfg.Username,
			Password:    cfg.Password,
			DialTimeout: cfg.DialTimeout,
		})
		if err == nil {
			statusCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
			_, err = client.Status(statusCtx, cfg.Endpoints[0])
			cancel()
			if err == nil {
				break
			}
			client.Close()
		}
		logger.Log.Warn("registrar: connect failed, retrying", "attempt", attempt+1, "err", err)
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("registrar: connect to coordination store: %w", err)
	}

	cfg.TTL = ttl
	return &Registrar{client: client, cfg: cfg, stopCh: make(chan struct{})}, nil
}

// Register grants a lease and writes {prefix}/{module}/{name}/info under
// it, then starts the keepalive and signal-watch background tasks.
func (r *Registrar) Register(ctx context.Context, module, name, address string) error {
	lease, err := r.client.Grant(ctx, int64(r.cfg.TTL.Seconds()))
	if err != nil {
		return fmt.Errorf("registrar: grant lease: %w", err)
	}
	r.leaseID = lease.ID

	r.key = fmt.Sprintf("%s/%s/%s/info", r.cfg.Prefix, module, name)
	now := time.Now().Unix()
	info := Info{Address: address, Enabled: true, Ctime: now, Mtime: now}
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("registrar: marshal info: %w", err)
	}

	if _, err := r.client.Put(ctx, r.key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("registrar: put %s: %w", r.key, err)
	}

	go r.keepalive()
	go r.watchSignals()
	return nil
}

// keepalive renews the lease every TTL-10s, retrying after 1s on failure.
func (r *Registrar) keepalive() {
	interval := r.cfg.TTL - 10*time.Second
	if interval <= 0 {
		interval = r.cfg.TTL / 2
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			for {
				ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout)
				_, err := r.client.KeepAliveOnce(ctx, r.leaseID)
				cancel()
				if err == nil {
					break
				}
				logger.Log.Warn("registrar: lease renewal failed, retrying", "err", err)
				select {
				case <-r.stopCh:
					return
				case <-time.After(time.Second):
				}
			}
			ticker.Reset(interval)
		}
	}
}

// watchSignals reacts to SIGINT/SIGTERM/SIGQUIT by closing the registrar.
func (r *Registrar) watchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		r.Close()
	case <-r.stopCh:
	}
}

// Close revokes the lease (deleting the instance key along with it) and
// stops the keepalive and signal-watch tasks. After Close returns no new
// registrations may be made through this Registrar.
func (r *Registrar) Close() error {
	select {
	case <-r.stopCh:
		return nil // already closed
	default:
		close(r.stopCh)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout)
	defer cancel()

	if r.leaseID != 0 {
		if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
			logger.Log.Warn("registrar: lease revoke failed", "err", err)
		}
	}
	return r.client.Close()
}
