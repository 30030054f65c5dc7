package httpclient

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// Clients holds every named InstrumentedClient built from one components
// section, replacing an earlier package-level HTTPClientsComponent. Other
// components FindComponent(consts.ComponentHTTPClients) and type-assert to
// this instead of calling a package-level global.
type Clients struct {
	mu      sync.RWMutex
	clients map[string]*InstrumentedClient
	defName string
}

// Factory builds every configured named client. Telemetry is a soft
// dependency: if the telemetry component is absent or disabled, requests
// go out over a plain transport instead of otelhttp's instrumented one —
// otelhttp itself falls back to a no-op tracer without a configured
// provider, so this just makes that fallback explicit.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("httpclient: component disabled")
		}
		cfg.applyDefaults()

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("httpclient: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("httpclient: logging component has unexpected type %T", loggerComp)
		}

		wrapTransport := instrumentedTransportWrapper(bc)

		hc := &Clients{clients: map[string]*InstrumentedClient{}, defName: cfg.Default}
		for name, cCfg := range cfg.Clients {
			underlying := &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        cCfg.MaxIdleConns,
				MaxIdleConnsPerHost: cCfg.MaxIdleConnsPerHost,
				IdleConnTimeout:     cCfg.IdleConnTimeout,
				TLSHandshakeTimeout: 5 * time.Second,
			}

			httpClient := &http.Client{
				Timeout:   cCfg.Timeout,
				Transport: wrapTransport(underlying),
			}

			hc.clients[name] = &InstrumentedClient{
				Name:           name,
				BaseURL:        cCfg.BaseURL,
				DefaultHeaders: cCfg.DefaultHeaders,
				Client:         httpClient,
				Retry:          cCfg.Retry,
				Underlying:     underlying,
				logger:         logger,
			}
		}

		return hc, nil
	}
}

// instrumentedTransportWrapper resolves the optional telemetry component
// once, up front, so it isn't re-queried per client.
func instrumentedTransportWrapper(bc *component.BuildContext) func(http.RoundTripper) http.RoundTripper {
	_, err := bc.FindComponent(consts.ComponentTelemetry)
	if err != nil {
		if errors.Is(err, component.ErrUnregistered) || errors.Is(err, component.ErrDisabled) {
			return func(rt http.RoundTripper) http.RoundTripper { return rt }
		}
	}
	return func(rt http.RoundTripper) http.RoundTripper { return otelhttp.NewTransport(rt) }
}

// Client returns the named client, or the default client when name is "".
func (hc *Clients) Client(name string) (*InstrumentedClient, error) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if name == "" {
		name = hc.defName
	}
	cli, ok := hc.clients[name]
	if !ok {
		return nil, fmt.Errorf("httpclient: client %q not found", name)
	}
	return cli, nil
}

// Default returns the client named by the components section's default key.
func (hc *Clients) Default() (*InstrumentedClient, error) {
	return hc.Client(hc.defName)
}

// ClearComponent closes idle connections on every client's transport.
func (hc *Clients) ClearComponent() {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	for _, cli := range hc.clients {
		if cli != nil && cli.Underlying != nil {
			cli.Underlying.CloseIdleConnections()
		}
	}
}
