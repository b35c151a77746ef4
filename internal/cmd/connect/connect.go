// Package connect builds the transport and client shared by all
// commands from the bound configuration.
package connect

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"scantool/internal/elm"
	"scantool/internal/obd"
	"scantool/internal/transport"
	"scantool/pkg/log"
)

// Open builds a transport from the configuration, opens it and runs
// the adapter handshake. The caller owns the returned client and must
// Disconnect it.
func Open(ctx context.Context) (*obd.Client, error) {
	tr, err := buildTransport()
	if err != nil {
		return nil, err
	}
	if err := tr.Open(); err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}

	client := obd.NewClient(elm.NewSession(tr), obd.WithTimeout(viper.GetDuration("timeout")))
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	info := client.VehicleInfo()
	log.Info("connected",
		zap.String("protocol", info.Protocol),
		zap.String("vin", info.VIN))
	return client, nil
}

func buildTransport() (transport.Transport, error) {
	var tr transport.Transport

	if viper.GetBool("mock") {
		tr = transport.NewReplay(demoExchanges)
	} else {
		cfg := transport.Config{
			Kind:    transport.Kind(viper.GetString("transport")),
			Address: viper.GetString("address"),
			Baud:    viper.GetInt("baud"),
		}

		if cfg.Address == "" && (cfg.Kind == transport.KindSerial || cfg.Kind == "") {
			device, err := elm.AutoDetect(cfg.Baud)
			if err != nil {
				return nil, fmt.Errorf("no adapter address given and %w", err)
			}
			cfg.Address = device
		}

		var err error
		tr, err = transport.New(cfg)
		if err != nil {
			return nil, err
		}
	}

	if path := viper.GetString("record"); path != "" {
		tr = transport.NewRecorder(tr, path)
	}
	return tr, nil
}
