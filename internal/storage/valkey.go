package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type ValkeyTLSConfig struct {
	Enabled bool
	CAFile  string
}

type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      ValkeyTLSConfig
}

type valkeyKV struct {
	client valkey.Client
	option valkey.ClientOption
}

const notifyChannelPrefix = "consentry:notify:"

// NewValkey returns a KV backed by a valkey server so consent written in one
// context is visible to every other context sharing the server. Change
// notifications ride on pub/sub.
func NewValkey(cfg ValkeyConfig) (KV, error) {
	if cfg.Address == "" {
		return nil, errors.New("storage: valkey address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("storage: read valkey ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("storage: valkey ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("storage: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: valkey ping: %w", err)
	}

	return &valkeyKV{client: client, option: option}, nil
}

func (s *valkeyKV) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("storage: valkey get bytes: %w", err)
	}
	return payload, true, nil
}

func (s *valkeyKV) Store(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(string(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("storage: valkey set: %w", err)
	}
	s.publish(ctx, key, "set")
	return nil
}

func (s *valkeyKV) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("storage: valkey del: %w", err)
	}
	s.publish(ctx, key, "del")
	return nil
}

// Watch subscribes on a dedicated connection so notifications keep flowing
// while the primary client serves reads and writes.
func (s *valkeyKV) Watch(ctx context.Context, key string, fn func(Event)) (func(), error) {
	subscriber, err := valkey.NewClient(s.option)
	if err != nil {
		return nil, fmt.Errorf("storage: valkey subscriber: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer subscriber.Close()
		cmd := subscriber.B().Subscribe().Channel(notifyChannelPrefix + key).Build()
		_ = subscriber.Receive(watchCtx, cmd, func(msg valkey.PubSubMessage) {
			fn(Event{Key: key, Deleted: msg.Message == "del"})
		})
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (s *valkeyKV) Close(context.Context) error {
	s.client.Close()
	return nil
}

// publish is best effort: a missed notification only delays another
// context's re-read until its next page load.
func (s *valkeyKV) publish(ctx context.Context, key, op string) {
	cmd := s.client.B().Publish().Channel(notifyChannelPrefix + key).Message(op).Build()
	_ = s.client.Do(ctx, cmd).Error()
}
