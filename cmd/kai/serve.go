package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/Basilakis/kai-sub003/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	servePort int
	serveHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP API.

The server exposes embedding, registration and recognition over JSON, plus library
management, statistics and Prometheus metrics.

/embed, /register and /recognize read the image_path in the request from the
server's own filesystem, and the API has no authentication. The default host is
127.0.0.1; binding to another interface lets any client that can reach the port
read images anywhere the server process can.

Examples:
  kai serve
  kai serve --port 3456
  kai serve --host 0.0.0.0 --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default from config, 3456)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config, 127.0.0.1)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := initApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Server
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveHost != "" {
		cfg.Host = serveHost
	}

	if !isLoopback(cfg.Host) {
		a.logger.Warn("serving on a non-loopback address; clients can read any image path the server can open",
			zap.String("host", cfg.Host))
	}

	opts := []server.Option{server.WithLogger(a.logger)}
	if a.registry != nil {
		opts = append(opts, server.WithMetrics(a.metrics, a.registry))
	}
	srv := server.New(a.svc, server.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, opts...)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-done
		fmt.Println("\nShutting down...")
		if err := srv.Shutdown(); err != nil {
			a.logger.Warn("shutdown failed", zap.Error(err))
		}
	}()

	fmt.Printf("kai server listening on http://%s\n", srv.Addr())
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
	fmt.Println("Endpoints:")
	fmt.Println("  POST   /embed           - Embed an image")
	fmt.Println("  POST   /register        - Add an image to the library")
	fmt.Println("  POST   /recognize       - Rank library materials")
	fmt.Println("  GET    /materials       - List records")
	fmt.Println("  GET    /materials/:id   - Get a record")
	fmt.Println("  DELETE /materials/:id   - Delete a record")
	fmt.Println("  GET    /stats           - Library and embedding statistics")
	fmt.Println("  DELETE /stats           - Reset embedding statistics")
	fmt.Println("  GET    /health          - Health check")
	if a.registry != nil {
		fmt.Println("  GET    /metrics         - Prometheus metrics")
	}

	return srv.Start()
}

// isLoopback reports whether host only accepts local connections. An empty host
// binds every interface.
func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
