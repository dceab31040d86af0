package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/examroom/internal/config"
	"github.com/stemsi/examroom/internal/handler"
	"github.com/stemsi/examroom/internal/metrics"
	"github.com/stemsi/examroom/internal/middleware"
	"github.com/stemsi/examroom/internal/response"
	"github.com/stemsi/examroom/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	User          *handler.UserHandler
	Exam          *handler.ExamHandler
	Grading       *handler.GradingHandler
	WS            *handler.WSHandler
	Dashboard     *handler.DashboardHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
}

// Limiters are the per-client rate limiters applied to public and
// guessable endpoints.
type Limiters struct {
	Login  *middleware.RateLimiter
	Unlock *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters *Limiters,
	m *metrics.Metrics,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(m.Middleware())

	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Skipper: func(c *gin.Context) bool { return c.Request.URL.Path == "/metrics" },
	}))

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	requireSession := middleware.RequireLiveSession(authService)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	auth.Use(middleware.NoStore())
	{
		auth.POST("/login", limiters.Login.Middleware(), handlers.Auth.Login)
		auth.POST("/register", limiters.Login.Middleware(), handlers.User.Register)

		auth.GET("/me", middleware.RequireAnyJWT(authService), requireSession, handlers.Auth.Me)
		auth.PUT("/me", middleware.RequireAnyJWT(authService), requireSession, handlers.User.UpdateProfile)
		auth.POST("/logout", middleware.RequireAnyJWT(authService), requireSession, handlers.Auth.Logout)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.NoStore(),
		middleware.RequireStudentJWT(authService),
		requireSession,
	)
	{
		studentAPI.GET("/lobby", handlers.StudentPortal.GetLobby)
		studentAPI.POST("/unlock", limiters.Unlock.Middleware(), handlers.StudentPortal.RedeemToken)
		studentAPI.POST("/exams/:exam_id/unlock", limiters.Unlock.Middleware(), handlers.StudentPortal.UnlockExam)
		studentAPI.GET("/results", handlers.StudentPortal.ListResults)
		studentAPI.GET("/submissions/:id", handlers.StudentPortal.GetResult)
	}

	// ─── 3. WebSocket Group (Student JWT via ?token=) ──────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentJWT(authService), requireSession)
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.ExamWebSocketStream)
	}

	// ─── 4. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.NoStore(),
		middleware.RequireAdminJWT(authService),
		requireSession,
	)
	{
		// Exam management
		adminAPI.GET("/exams", handlers.Exam.ListExams)
		adminAPI.POST("/exams", handlers.Exam.CreateExam)
		adminAPI.GET("/exams/:id", handlers.Exam.GetExam)
		adminAPI.PUT("/exams/:id", handlers.Exam.UpdateExam)
		adminAPI.DELETE("/exams/:id", handlers.Exam.DeleteExam)
		adminAPI.PUT("/exams/:id/token", handlers.Exam.UpdateToken)
		adminAPI.POST("/exams/:id/questions", handlers.Exam.AddQuestion)
		adminAPI.PUT("/exams/:id/questions/:question_id", handlers.Exam.UpdateQuestion)
		adminAPI.DELETE("/exams/:id/questions/:question_id", handlers.Exam.DeleteQuestion)

		// Live monitoring
		adminAPI.GET("/exams/:id/progress", handlers.Monitor.GetProgress)
		adminAPI.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)

		// Grading
		adminAPI.GET("/exams/:id/submissions", handlers.Grading.ListSubmissions)
		adminAPI.GET("/submissions/:id/grading", handlers.Grading.OpenSubmission)
		adminAPI.POST("/submissions/:id/grade", handlers.Grading.GradeSubmission)

		// User management
		adminAPI.GET("/users", handlers.User.ListUsers)
		adminAPI.POST("/users", handlers.User.CreateUser)
		adminAPI.DELETE("/users/:id", handlers.User.DeleteUser)
		adminAPI.PUT("/users/:id/password", handlers.User.ResetPassword)
		adminAPI.POST("/users/:id/reset-session", handlers.User.ResetSession)

		// Dashboard
		adminAPI.GET("/dashboard", handlers.Dashboard.GetDashboardData)

		// System Monitoring
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
