/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

// Command proofgate runs an admission-control and load-balancing proxy in
// front of a fleet of proof-generation workers.
package main

import (
	"flag"
	"fmt"
	golog "log"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-appkit/config"
	"github.com/acronis/go-appkit/httpserver"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/service"

	"github.com/proofgate/proofgate/internal/httpapi"
	"github.com/proofgate/proofgate/internal/proxy"
)

func main() {
	if err := runApp(); err != nil {
		golog.Fatal(err)
	}
}

func runApp() error {
	configPath := flag.String("config", "proofgate.yml", "path to the configuration file")
	flag.Parse()

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	prx, err := proxy.New(cfg.Proxy, logger)
	if err != nil {
		return fmt.Errorf("create proxy: %w", err)
	}
	prx.MustRegisterMetrics()
	defer prx.UnregisterMetrics()

	httpServer, err := makeHTTPServer(cfg.Server, prx, logger)
	if err != nil {
		return err
	}

	serviceUnits := append(prx.Units(logger), httpServer)
	return service.New(logger, service.NewCompositeUnit(serviceUnits...)).Start()
}

func makeHTTPServer(cfg *httpserver.Config, prx *proxy.Proxy, logger log.FieldLogger) (*httpserver.HTTPServer, error) {
	apiHandler := httpapi.NewHandler(prx.Gate(), prx.Pool())
	opts := httpserver.Opts{
		ServiceNameInURL: "proofgate",
		ErrorDomain:      "ProofGate",
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: apiHandler.Routes,
		},
		HealthCheck:    prx.HealthCheck,
		MetricsHandler: promhttp.Handler(),
	}
	return httpserver.New(cfg, logger, opts)
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfgLoader := config.NewDefaultLoader("proofgate")
	cfg := NewAppConfig()
	err := cfgLoader.LoadFromFile(path, config.DataTypeYAML, cfg)
	return cfg, err
}

type AppConfig struct {
	Server *httpserver.Config
	Log    *log.Config
	Proxy  *proxy.Config
}

func NewAppConfig() *AppConfig {
	return &AppConfig{
		Server: httpserver.NewConfig(),
		Log:    log.NewConfig(),
		Proxy:  proxy.NewConfig(),
	}
}

func (c *AppConfig) SetProviderDefaults(dp config.DataProvider) {
	config.CallSetProviderDefaultsForFields(c, dp)
}

func (c *AppConfig) Set(dp config.DataProvider) error {
	return config.CallSetForFields(c, dp)
}
