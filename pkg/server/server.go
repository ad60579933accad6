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

package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/binkynet/gpiohal/pkg/gpio"
	"github.com/binkynet/gpiohal/pkg/monitor"
)

// Config for the HTTP server.
type Config struct {
	// Host interface to listen on
	Host string
	// Port to listen on for HTTP requests
	HTTPPort int
}

// Monitor provides the status of monitored pins.
type Monitor interface {
	Status() []monitor.PinStatus
	SetOutput(pin uint32, high bool) error
}

// Simulator drives the level of simulated input pins.
type Simulator interface {
	SetLevel(id uint32, high bool) error
}

// Dependencies of the HTTP server.
type Dependencies struct {
	Log     zerolog.Logger
	Manager *gpio.Manager
	Monitor Monitor
	// Optional, only set when running on the simulated driver.
	Simulator Simulator
}

// Server runs the HTTP server for the service.
type Server struct {
	Config
	Dependencies
}

// PinView is the JSON representation of a monitored pin.
type PinView struct {
	monitor.PinStatus
	LastEventAgo string `json:"last_event_ago,omitempty"`
}

// PinsResponse is returned by GET /pins.
type PinsResponse struct {
	InUse []uint32  `json:"in_use"`
	Pins  []PinView `json:"pins"`
}

// New configures a new Server.
func New(cfg Config, deps Dependencies) *Server {
	deps.Log = deps.Log.With().Str("component", "server").Logger()
	return &Server{
		Config:       cfg,
		Dependencies: deps,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() *echo.Echo {
	httpRouter := echo.New()
	httpRouter.HideBanner = true
	httpRouter.HidePort = true
	httpRouter.GET("/health", healthHandler)
	httpRouter.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	httpRouter.GET("/debug/pprof/*", echo.WrapHandler(http.HandlerFunc(pprof.Index)))
	httpRouter.GET("/pins", s.getPins)
	httpRouter.PUT("/pins/:pin/output/:level", s.putOutput)
	if s.Simulator != nil {
		httpRouter.PUT("/pins/:pin/level/:level", s.putLevel)
	}
	return httpRouter
}

// Run the server until the given context is canceled.
func (s *Server) Run(ctx context.Context) error {
	log := s.Log
	httpAddr := net.JoinHostPort(s.Host, strconv.Itoa(s.HTTPPort))
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on address %s", httpAddr)
	}
	httpSrv := http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Second * 5,
	}

	log.Debug().Str("address", httpAddr).Msg("Serving HTTP")
	go func() {
		if err := httpSrv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to serve HTTP server")
		}
		log.Debug().Str("address", httpAddr).Msg("Done Serving HTTP")
	}()

	// Wait until context closed
	<-ctx.Done()

	log.Info().Msg("Closing server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func healthHandler(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) getPins(c echo.Context) error {
	resp := PinsResponse{
		InUse: s.Manager.InUse(),
		Pins: lo.Map(s.Monitor.Status(), func(st monitor.PinStatus, _ int) PinView {
			v := PinView{PinStatus: st}
			if st.LastEventTime != nil {
				v.LastEventAgo = humanize.Time(*st.LastEventTime)
			}
			return v
		}),
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) putOutput(c echo.Context) error {
	pin, high, err := parsePinLevel(c)
	if err != nil {
		return err
	}
	if err := s.Monitor.SetOutput(pin, high); err != nil {
		if gpio.IsNotInUse(err) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) putLevel(c echo.Context) error {
	pin, high, err := parsePinLevel(c)
	if err != nil {
		return err
	}
	if err := s.Simulator.SetLevel(pin, high); err != nil {
		if gpio.IsInvalidPin(err) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// parsePinLevel parses the :pin & :level path parameters.
func parsePinLevel(c echo.Context) (uint32, bool, error) {
	out, err := monitor.ParseOutput(fmt.Sprintf("%s=%s", c.Param("pin"), c.Param("level")))
	if err != nil {
		return 0, false, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return out.Pin, out.High, nil
}
