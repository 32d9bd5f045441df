package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"emargement/internal/attendance"
	"emargement/internal/auth"
	"emargement/internal/config"
	"emargement/internal/httpmiddleware"
	"emargement/internal/notify"
	"emargement/internal/queue"
	"emargement/internal/roster"
	"emargement/internal/signimg"
	"emargement/internal/store"
	"emargement/internal/validation"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *store.DB
	if cfg.StoreBackend != "memory" {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
			db = nil
		}
		defer func() {
			if db != nil {
				_ = db.Close()
			}
		}()
		if db != nil {
			if err := db.EnsureSchema(ctx); err != nil {
				return err
			}
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "emargement:audit")
	}

	hub := notify.NewHub(prometheus.DefaultRegisterer)
	var pub attendance.Publisher = hub
	if cfg.QueueBackend != "memory" {
		bridge := notify.NewRedisBridge(redisClient.Client, hub, cfg.EventChannel)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				log.Printf("event bridge stopped: %v", err)
			}
		}()
		pub = bridge
	}

	var sessions attendance.Store
	var creds validation.CredentialStore
	var repo *attendance.Repository
	if cfg.StoreBackend == "memory" || db == nil {
		log.Println("using in-memory session store")
		sessions = attendance.NewMemStore()
		creds = validation.NewMemCredentials()
	} else {
		repo = attendance.NewRepository(db.Client)
		sessions = repo
		creds = validation.NewPGCredentials(db.Client)
	}

	var resolver roster.Resolver
	var rosterClient *roster.Client
	if cfg.RosterSkip || db == nil {
		if len(cfg.RosterStatic) > 0 {
			rosterClient = roster.NewClient(cfg.RosterServiceURL, true, cfg.RosterStatic)
		} else {
			rosterClient = roster.NewClient(cfg.RosterServiceURL, cfg.RosterSkip, nil)
		}
		resolver = rosterClient
	} else {
		resolver = roster.NewPGResolver(db.Client)
	}

	tokens := attendance.NewTokenService(cfg.TokenTTL)
	metrics := attendance.NewMetrics(prometheus.DefaultRegisterer)
	att := attendance.NewService(sessions, resolver, tokens, pub, metrics)
	gate := validation.NewGate(att, creds)

	// Cloudinary client (nil when not configured)
	var imgClient *signimg.Client
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		imgClient = signimg.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		log.Println("Cloudinary not configured; signature images stored as raw blobs only")
	}

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
		dbHealthy := db != nil || cfg.StoreBackend == "memory"
		rosterHealthy := rosterClient == nil || rosterClient.Health(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy || !rosterHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy, "roster": rosterHealthy})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		pair, err := auth.Issue(req.Subject, attendance.Role(req.Role), cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"access_token":  pair.AccessToken,
			"refresh_token": pair.RefreshToken,
			"expires_at":    pair.AccessExp.Unix(),
		})
	})

	// uploadImage pushes a base64 signature drawing to Cloudinary and
	// returns its hosted URL, or "" when image storage is not configured.
	uploadImage := func(data string) string {
		if imgClient == nil || data == "" {
			return ""
		}
		result, err := imgClient.UploadBase64(data)
		if err != nil {
			log.Printf("signature image upload failed: %v", err)
			return ""
		}
		return result.SecureURL
	}

	authed := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	instructor := authed.Group("", auth.RequireRole(attendance.RoleInstructor))

	instructor.POST("/sessions", func(c *gin.Context) {
		var req struct {
			CourseID      string `json:"course_id" binding:"required"`
			ModuleID      string `json:"module_id"`
			ScheduledDate string `json:"scheduled_date" binding:"required"`
			StartTime     string `json:"start_time"`
			EndTime       string `json:"end_time"`
			Room          string `json:"room"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		date, err := time.Parse("2006-01-02", req.ScheduledDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_date must be YYYY-MM-DD"})
			return
		}

		sess, err := att.Create(c.Request.Context(), auth.ActorFrom(c), attendance.CreateInput{
			CourseID:      req.CourseID,
			ModuleID:      req.ModuleID,
			ScheduledDate: date,
			StartTime:     req.StartTime,
			EndTime:       req.EndTime,
			Room:          req.Room,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, sess)
	})

	instructor.POST("/sessions/:id/open", func(c *gin.Context) {
		sess, err := att.Open(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		publishAudit(c, q, sess)
		c.JSON(http.StatusOK, sess)
	})

	instructor.POST("/sessions/:id/rotate", func(c *gin.Context) {
		sess, err := att.RotateToken(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": sess.State, "token": sess.Token})
	})

	instructor.GET("/sessions/:id/qr", func(c *gin.Context) {
		sess, _, err := att.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if sess.InstructorID != auth.ActorFrom(c).ID {
			writeError(c, attendance.ErrForbidden)
			return
		}
		if sess.Token == nil {
			writeError(c, attendance.ErrSessionNotOpen)
			return
		}
		c.JSON(http.StatusOK, sess.Token)
	})

	instructor.POST("/sessions/:id/sign", func(c *gin.Context) {
		var req struct {
			Signature string `json:"signature"`
		}
		_ = c.ShouldBindJSON(&req)

		sess, err := att.SignInstructor(c.Request.Context(), c.Param("id"), auth.ActorFrom(c),
			[]byte(req.Signature), uploadImage(req.Signature))
		if err != nil {
			writeError(c, err)
			return
		}
		publishAudit(c, q, sess)
		c.JSON(http.StatusOK, gin.H{"state": sess.State})
	})

	instructor.POST("/sessions/:id/absences", func(c *gin.Context) {
		var req struct {
			ParticipantID string `json:"participant_id" binding:"required"`
			Reason        string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sig, sess, err := att.MarkAbsence(c.Request.Context(), c.Param("id"), auth.ActorFrom(c), req.ParticipantID, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		publishAudit(c, q, sess)
		c.JSON(http.StatusOK, gin.H{"signature": sig, "state": sess.State})
	})

	instructor.POST("/sessions/:id/submit", func(c *gin.Context) {
		id := c.Param("id")
		sess, err := att.SubmitToAdmin(c.Request.Context(), id, auth.ActorFrom(c))
		if err != nil {
			if errors.Is(err, attendance.ErrIncompleteSignatures) {
				_, progress, perr := att.Get(c.Request.Context(), id)
				if perr == nil {
					c.JSON(http.StatusConflict, gin.H{
						"error":     "incomplete signatures",
						"remaining": progress.StudentsExpected - progress.StudentsSigned,
						"progress":  progress,
					})
					return
				}
			}
			writeError(c, err)
			return
		}
		publishAudit(c, q, sess)
		c.JSON(http.StatusOK, sess)
	})

	authed.POST("/sessions/:id/checkin", auth.RequireRole(attendance.RoleStudent), func(c *gin.Context) {
		var req struct {
			Code      string `json:"code" binding:"required"`
			Signature string `json:"signature"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		res, err := att.CheckIn(c.Request.Context(), c.Param("id"), auth.ActorFrom(c), req.Code,
			[]byte(req.Signature), uploadImage(req.Signature))
		if err != nil {
			writeError(c, err)
			return
		}
		publishAudit(c, q, res.Session)
		c.JSON(http.StatusOK, gin.H{
			"signature":      res.Signature,
			"state":          res.Session.State,
			"already_signed": res.Already,
		})
	})

	authed.POST("/sessions/:id/validate", auth.RequireRole(attendance.RoleAdmin), func(c *gin.Context) {
		var req struct {
			ReSign    bool   `json:"re_sign"`
			Signature string `json:"signature"`
		}
		_ = c.ShouldBindJSON(&req)

		sess, err := gate.Validate(c.Request.Context(), c.Param("id"), auth.ActorFrom(c), req.ReSign, []byte(req.Signature))
		if err != nil {
			writeError(c, err)
			return
		}
		publishAudit(c, q, sess)
		c.JSON(http.StatusOK, sess)
	})

	authed.POST("/admins/signature", auth.RequireRole(attendance.RoleAdmin), func(c *gin.Context) {
		var req struct {
			Signature string `json:"signature" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := gate.Enroll(c.Request.Context(), auth.ActorFrom(c).ID, []byte(req.Signature)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "enrolled"})
	})

	authed.POST("/sessions/:id/cancel", func(c *gin.Context) {
		sess, err := att.Cancel(c.Request.Context(), c.Param("id"), auth.ActorFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		publishAudit(c, q, sess)
		c.JSON(http.StatusOK, sess)
	})

	authed.GET("/sessions/:id", func(c *gin.Context) {
		sess, progress, err := att.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		// The code itself is only shown to the owning instructor.
		if auth.ActorFrom(c).ID != sess.InstructorID {
			sess.Token = nil
		}
		c.JSON(http.StatusOK, gin.H{"session": sess, "progress": progress})
	})

	authed.GET("/sessions", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		list, err := att.List(c.Request.Context(), attendance.ListFilter{
			CourseID: c.Query("course_id"),
			State:    attendance.State(c.Query("state")),
			Limit:    limit,
			Offset:   offset,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	})

	// Audit trail needs the durable store; absent in memory mode.
	if repo != nil {
		authed.GET("/sessions/:id/audit", auth.RequireRole(attendance.RoleAdmin), func(c *gin.Context) {
			limit := 100
			if v := c.Query("limit"); v != "" {
				if parsed, err := strconv.Atoi(v); err == nil {
					limit = parsed
				}
			}
			entries, err := repo.ListAudit(c.Request.Context(), c.Param("id"), limit)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"audit": entries})
		})
	}

	authed.GET("/sessions/:id/events", func(c *gin.Context) {
		sessionID := c.Param("id")
		subID, events := hub.Subscribe(sessionID)
		defer hub.Unsubscribe(sessionID, subID)

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")
		c.Writer.Flush()

		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-heartbeat.C:
				if _, err := c.Writer.WriteString(": keep-alive\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			case evt, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if _, err := c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
					return
				}
				c.Writer.Flush()
			}
		}
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
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
	cancel()
	hub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// publishAudit enqueues the mutation for the audit worker; queue failures
// are logged, never surfaced, since the mutation already committed. The
// message id becomes the audit row's primary key, so replays are no-ops.
func publishAudit(c *gin.Context, q queue.Queue, sess attendance.Session) {
	msg := queue.Message{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Kind:      string(attendance.EventSessionStateChanged),
		At:        time.Now().UTC(),
		State:     string(sess.State),
	}
	if err := q.Publish(c.Request.Context(), msg); err != nil {
		log.Printf("audit publish failed: %v", err)
	}
}

// writeError maps engine errors onto HTTP responses. Expired and Mismatch
// collapse into one generic refusal so callers cannot probe code validity.
func writeError(c *gin.Context, err error) {
	switch {
	case attendance.CheckinRefused(err):
		c.JSON(http.StatusForbidden, gin.H{"error": "check-in refused"})
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, attendance.ErrForbidden), errors.Is(err, attendance.ErrNotOnRoster):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, attendance.ErrAlreadyOpen):
		c.JSON(http.StatusConflict, gin.H{"error": "session already open"})
	case errors.Is(err, attendance.ErrSessionNotOpen):
		c.JSON(http.StatusConflict, gin.H{"error": "session not open"})
	case errors.Is(err, attendance.ErrIncompleteSignatures):
		c.JSON(http.StatusConflict, gin.H{"error": "incomplete signatures"})
	case errors.Is(err, attendance.ErrSessionFinalized):
		c.JSON(http.StatusConflict, gin.H{"error": "session finalized"})
	case errors.Is(err, attendance.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid transition"})
	case errors.Is(err, validation.ErrNoStoredSignature):
		c.JSON(http.StatusConflict, gin.H{"error": "no stored administrator signature"})
	case errors.Is(err, attendance.ErrRosterUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "roster unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
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
