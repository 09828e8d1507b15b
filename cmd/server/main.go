/*
 * Copyright (c) 2025, WSO2 LLC. (http://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

// Package main is the entry point for starting the data access coordination server.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/asgardeo/datacoord/internal/cert"
	"github.com/asgardeo/datacoord/internal/managers"
	"github.com/asgardeo/datacoord/internal/system/config"
	"github.com/asgardeo/datacoord/internal/system/constants"
	"github.com/asgardeo/datacoord/internal/system/log"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := log.GetLogger()
	defer logger.Sync()

	home := getServerHome(logger)

	cfg, err := config.LoadConfig(path.Join(home, constants.DeploymentConfigPath))
	if err != nil {
		logger.Fatal("Failed to load configurations", log.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	serviceManager := managers.NewServiceManager(mux, cfg, home, logger)
	if err := serviceManager.RegisterServices(ctx); err != nil {
		logger.Fatal("Failed to register the services", log.Error(err))
	}

	go serviceManager.Run(ctx)

	if err := serve(ctx, logger, cfg, mux, home); err != nil {
		logger.Error("Server stopped with an error", log.Error(err))
	}
	if err := serviceManager.Close(); err != nil {
		logger.Error("Failed to release the server components", log.Error(err))
	}
	logger.Info("Server stopped")
}

// getServerHome returns the server home directory from the command line or the working directory.
func getServerHome(logger *log.Logger) string {
	homeFlag := flag.String("home", "", "Path to the server home directory")
	flag.Parse()

	if *homeFlag != "" {
		logger.Info("Using server home from command line argument", log.String("home", *homeFlag))
		return *homeFlag
	}

	dir, err := os.Getwd()
	if err != nil {
		logger.Fatal("Failed to get current working directory", log.Error(err))
	}
	return dir
}

// serve listens until ctx is done and then shuts the server down gracefully.
func serve(ctx context.Context, logger *log.Logger, cfg *config.Config, mux *http.ServeMux, home string) error {
	tlsConfig, err := cert.GetTLSConfig(cfg.Security, home)
	if err != nil {
		return fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	server, serverAddr := createHTTPServer(logger, cfg, mux)
	ln, err := net.Listen("tcp", serverAddr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	scheme := "HTTP"
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
		scheme = "HTTPS"
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ln)
	}()
	logger.Info("Data access coordination server started", log.String("address", serverAddr),
		log.String("scheme", scheme))

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down the server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// createHTTPServer creates an HTTP server that wraps the multiplexer with the access log handler.
func createHTTPServer(logger *log.Logger, cfg *config.Config, mux *http.ServeMux) (*http.Server, string) {
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Hostname, cfg.Server.Port)

	server := &http.Server{
		Addr:              serverAddr,
		Handler:           log.AccessLogHandler(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return server, serverAddr
}
