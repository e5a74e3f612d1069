package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostel/internal/attendance"
	"hostel/internal/auth"
	"hostel/internal/cloudinary"
	"hostel/internal/config"
	"hostel/internal/fees"
	"hostel/internal/httpapi"
	"hostel/internal/httpmiddleware"
	"hostel/internal/occupancy"
	"hostel/internal/queue"
	"hostel/internal/store"
	"hostel/internal/students"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(context.Background(), db.Client); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var jobs queue.Queue
	if cfg.QueueBackend == "memory" {
		jobs = queue.NewInMemory(64)
	} else {
		jobs = queue.NewRedisQueue(redisClient.Client, "hostel:jobs")
	}

	roomSvc := occupancy.NewService(occupancy.NewRepository(db.Client))
	studentSvc := students.NewService(students.NewRepository(db.Client), roomSvc)
	recorder, err := attendance.NewRecorder(attendance.NewRepository(db.Client), cfg.JWTSigningKey, cfg.JWTIssuer, cfg.LateCutoff)
	if err != nil {
		return err
	}
	ledger := fees.NewLedger(fees.NewRepository(db.Client))

	// Cloudinary client (nil when not configured)
	var cdnClient *cloudinary.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		cdnClient = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET not set)")
	}

	h := httpapi.New(cfg, studentSvc, roomSvc, recorder, ledger, cdnClient, jobs)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/register", h.Register)
	r.POST("/v1/auth/login", h.Login)

	authed := r.Group("/v1", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authed.GET("/students", h.ListStudents)
	authed.GET("/students/:id", h.GetStudent)
	authed.PUT("/students/:id", h.UpdateStudent)
	authed.GET("/students/:id/attendance", h.ListAttendance)
	authed.GET("/students/:id/attendance/stats", h.AttendanceStats)
	authed.GET("/students/:id/fees", h.ListFees)

	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id", h.GetRoom)

	authed.POST("/attendance/scan", h.ScanBadge)

	admin := authed.Group("", auth.RequireAdmin())
	admin.DELETE("/students/:id", h.DeleteStudent)
	admin.POST("/students/:id/deactivate", h.DeactivateStudent)
	admin.POST("/students/:id/badge", h.IssueBadge)
	admin.POST("/students/:id/reassign", h.ReassignRoom)

	admin.POST("/rooms", h.CreateRoom)
	admin.PUT("/rooms/:id/capacity", h.UpdateRoomCapacity)
	admin.DELETE("/rooms/:id", h.DeleteRoom)
	admin.POST("/rooms/:id/assign", h.AssignRoom)
	admin.POST("/rooms/:id/unassign", h.UnassignRoom)

	admin.POST("/attendance/manual", h.ManualAttendance)

	admin.POST("/fees", h.CreateFee)
	admin.POST("/fees/:id/pay", h.PayFee)
	admin.GET("/fees/stats", h.FeeStats)
	admin.POST("/fees/sweep", h.SweepFees)
	admin.POST("/fees/sweep/enqueue", h.EnqueueSweep)

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
