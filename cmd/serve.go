package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/presenceapp/presence/internal/config"
	"github.com/presenceapp/presence/internal/database"
	"github.com/presenceapp/presence/internal/database/mysql"
	"github.com/presenceapp/presence/internal/database/postgres"
	"github.com/presenceapp/presence/internal/detect"
	"github.com/presenceapp/presence/internal/session"
	"github.com/presenceapp/presence/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance engine server",
	Long: `Start the Presence HTTP server.
The server accepts training uploads, runs live recognition sessions over
camera frames, and streams attendance events to clients.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("max-frame-width", 640, "Downscale frames wider than this before detection (0 disables)")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// openAttendanceStore picks the attendance backend: MySQL when a DSN is
// configured, the primary PostgreSQL pool otherwise. Returns the store and
// a close function for the extra pool, if any.
func openAttendanceStore(ctx context.Context, cfg *config.Config, pool *postgres.Pool) (database.AttendanceStore, func(), error) {
	if cfg.MySQL.DSN == "" {
		fmt.Printf("Attendance storage: PostgreSQL\n")
		return postgres.NewAttendanceRepository(pool), func() {}, nil
	}

	fmt.Printf("Attendance storage: MySQL\n")
	mysqlPool, err := mysql.NewPool(cfg.MySQL.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MySQL: %w", err)
	}
	if err := mysqlPool.Migrate(ctx); err != nil {
		_ = mysqlPool.Close()
		return nil, nil, fmt.Errorf("migrating MySQL attendance tables: %w", err)
	}
	return mysql.NewAttendanceRepository(mysqlPool), func() { _ = mysqlPool.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	trainingRepo := postgres.NewTrainingRepository(pool)

	attendanceStore, closeAttendance, err := openAttendanceStore(ctx, cfg, pool)
	if err != nil {
		return err
	}
	defer closeAttendance()

	detector := detect.NewHTTPDetector(cfg.Detector.URL, cfg.Detector.Dim, mustGetInt(cmd, "max-frame-width"))
	fmt.Printf("Face detection service: %s (dim %d)\n", cfg.Detector.URL, cfg.Detector.Dim)

	sessions := session.NewManager(trainingRepo, attendanceStore, detector, cfg.Tuning)
	port, host := resolveServeHostPort(cmd)
	server := web.NewServer(cfg, port, host, trainingRepo, attendanceStore, sessions)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Presence on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
