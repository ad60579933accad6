// Copyright 2025 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	terminate "github.com/pulcy/go-terminate"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/binkynet/gpiohal/pkg/driver/chardev"
	"github.com/binkynet/gpiohal/pkg/driver/periph"
	"github.com/binkynet/gpiohal/pkg/driver/sim"
	"github.com/binkynet/gpiohal/pkg/driver/sysfs"
	"github.com/binkynet/gpiohal/pkg/environment"
	"github.com/binkynet/gpiohal/pkg/gpio"
	"github.com/binkynet/gpiohal/pkg/logging"
	"github.com/binkynet/gpiohal/pkg/monitor"
	"github.com/binkynet/gpiohal/pkg/mqtt"
	"github.com/binkynet/gpiohal/pkg/server"
)

const (
	projectName       = "GPIO HAL"
	defaultServerPort = 7130
)

var (
	projectVersion = "dev"
	projectBuild   = "dev"
)

func main() {
	var levelFlag string
	var driverType string
	var chipPath string
	var pinCount int
	var pollInterval time.Duration
	var watchFlags []string
	var outputFlags []string
	var pullFlag string
	var serverHost string
	var serverPort int
	var mqttBroker string
	var mqttTopicPrefix string
	var mqttClientID string

	pflag.StringVarP(&levelFlag, "level", "l", "info", "Set log level")
	pflag.StringVarP(&driverType, "driver", "d", "auto", "Type of GPIO driver to use (auto|sim|periph|chardev|sysfs)")
	pflag.StringVar(&chipPath, "chip", "/dev/gpiochip0", "GPIO chip device (chardev driver)")
	pflag.IntVar(&pinCount, "pins", 0, "Number of pins (0 uses the driver default)")
	pflag.DurationVar(&pollInterval, "poll-interval", time.Millisecond*10, "Interval of polled event detection")
	pflag.StringSliceVarP(&watchFlags, "watch", "w", nil, "Input to watch as <pin>[=<event>,...]")
	pflag.StringSliceVarP(&outputFlags, "output", "o", nil, "Output to drive as <pin>[=high|low]")
	pflag.StringVar(&pullFlag, "pull", "none", "Pull configuration of watched inputs (none|up|down)")
	pflag.StringVar(&serverHost, "host", "0.0.0.0", "Host address the HTTP server will listen on")
	pflag.IntVar(&serverPort, "port", defaultServerPort, "Port the HTTP server will listen on")
	pflag.StringVar(&mqttBroker, "mqtt-broker", "", "Address (host:port) of MQTT broker to publish events to")
	pflag.StringVar(&mqttTopicPrefix, "mqtt-topic-prefix", "gpiohal", "Prefix of published MQTT topics")
	pflag.StringVar(&mqttClientID, "mqtt-client-id", "", "MQTT client ID (defaults to gpiohal-<hostname>)")
	pflag.Parse()

	// Prepare to shutdown in a controlled manor
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logOutput := logging.NewMultiWriter(zerolog.ConsoleWriter{Out: os.Stderr})
	logger := zerolog.New(logOutput).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(levelFlag)
	if err != nil {
		Exitf("Invalid log level '%s': %v\n", levelFlag, err)
	}
	logger = logger.Level(level)

	// Parse monitor configuration
	var monCfg monitor.Config
	for _, s := range watchFlags {
		w, err := monitor.ParseWatch(s)
		if err != nil {
			Exitf("Invalid --watch: %v\n", err)
		}
		monCfg.Watches = append(monCfg.Watches, w)
	}
	for _, s := range outputFlags {
		o, err := monitor.ParseOutput(s)
		if err != nil {
			Exitf("Invalid --output: %v\n", err)
		}
		monCfg.Outputs = append(monCfg.Outputs, o)
	}
	if monCfg.Pull, err = monitor.ParsePull(pullFlag); err != nil {
		Exitf("Invalid --pull: %v\n", err)
	}

	// Create driver
	if driverType == "auto" {
		driverType = environment.AutoDetectDriver(logger, chipPath)
		logger.Info().Str("driver", driverType).Msg("Detected GPIO driver")
	}
	var drv gpio.Driver
	var simulator server.Simulator
	switch driverType {
	case environment.DriverSim:
		simDrv := sim.New(sim.Config{PinCount: pinCount}, logger)
		drv, simulator = simDrv, simDrv
	case environment.DriverPeriph:
		drv, err = periph.New(periph.Config{
			PinCount:     pinCount,
			PollInterval: pollInterval,
		}, periph.Dependencies{Log: logger})
		if err != nil {
			Exitf("Failed to initialize periph driver: %v\n", err)
		}
	case environment.DriverChardev:
		drv = chardev.New(chardev.Config{
			Chip:         chipPath,
			PinCount:     pinCount,
			PollInterval: pollInterval,
		}, chardev.Dependencies{Log: logger})
	case environment.DriverSysfs:
		drv = sysfs.New(sysfs.Config{
			PinCount:     pinCount,
			PollInterval: pollInterval,
		}, sysfs.Dependencies{Log: logger})
	default:
		Exitf("Unknown driver type '%s' (auto|%s)\n", driverType, strings.Join(environment.DriverTypes(), "|"))
	}

	mgr, err := gpio.NewManager(gpio.Config{Name: driverType}, gpio.Dependencies{
		Log:    logger,
		Driver: drv,
	})
	if err != nil {
		Exitf("Failed to initialize GPIO manager: %v\n", err)
	}

	// Optional MQTT publishing
	var publisher *mqtt.Publisher
	monDeps := monitor.Dependencies{Log: logger, Manager: mgr}
	if mqttBroker != "" {
		if mqttClientID == "" {
			hostname, _ := os.Hostname()
			mqttClientID = "gpiohal-" + hostname
		}
		publisher = mqtt.New(mqtt.Config{
			BrokerAddress: mqttBroker,
			ClientID:      mqttClientID,
			TopicPrefix:   mqttTopicPrefix,
		}, mqtt.Dependencies{Log: logger})
		monDeps.Notifier = publisher
		logOutput.Add(publisher.LogWriter())
	}
	mon := monitor.New(monCfg, monDeps)

	httpServer := server.New(server.Config{
		Host:     serverHost,
		HTTPPort: serverPort,
	}, server.Dependencies{
		Log:       logger,
		Manager:   mgr,
		Monitor:   mon,
		Simulator: simulator,
	})

	t := terminate.NewTerminator(func(template string, args ...interface{}) {
		logger.Info().Msgf(template, args...)
	}, cancel)
	go t.ListenSignals()

	fmt.Printf("Starting %s (version %s build %s)\n", projectName, projectVersion, projectBuild)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	g.Go(func() error { return httpServer.Run(ctx) })
	if publisher != nil {
		g.Go(func() error { return publisher.Run(ctx) })
	}
	runErr := g.Wait()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second*5)
	defer closeCancel()
	if err := mgr.Close(closeCtx); err != nil {
		logger.Warn().Err(err).Msg("Failed to close GPIO manager")
	}
	if runErr != nil {
		Exitf("Service run failed: %v\n", errors.Cause(runErr))
	}
}

// Print the given error message and exit with code 1
func Exitf(message string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, message, args...)
	os.Exit(1)
}
