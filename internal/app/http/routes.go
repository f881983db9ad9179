package routes

import (
	"net/http"
	"time"

	"saas-portal/database"
	"saas-portal/internal"
	adminapi "saas-portal/internal/api/admin"
	authapi "saas-portal/internal/api/auth"
	"saas-portal/internal/api/billing"
	"saas-portal/internal/api/plans"
	stripewebhooks "saas-portal/internal/api/stripewebhook"
	"saas-portal/internal/api/users"
	"saas-portal/internal/app/http/middleware"
	domainusers "saas-portal/internal/domain/users"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewEngine returns a gin engine with the shared middleware stack and
// every route registered.
func NewEngine(d *internal.Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.MaxMultipartMemory = 4 << 20

	r.Use(
		cors.New(cors.Config{
			AllowOrigins:     []string{d.Config.CORSOrigin},
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
			ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		middleware.RequestID(),
		ginzap.GinzapWithConfig(d.Log, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.URL.Path == "/health"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}
				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}
				if v := c.GetString("uuid"); v != "" {
					fields = append(fields, zap.String("user_uuid", v))
				}
				return fields
			},
		}),
		ginzap.RecoveryWithZap(d.Log, true),
	)

	RegisterRoutes(r, d)
	return r
}

func RegisterRoutes(r *gin.Engine, d *internal.Deps) {
	auth := authapi.New(d)
	billingH := billing.New(d)
	plansH := plans.New(d)
	usersH := users.New(d)
	adminH := adminapi.New(d)
	webhook := stripewebhooks.New(d)

	jwt := middleware.AuthMiddleware(d.Tokens)
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: d.Config.RateLimitRPS,
		Burst:             d.Config.RateLimitBurst,
	})

	// the webhook signature covers the raw body, so it skips sanitising
	r.POST("/webhook", webhook.StripeWebhook)
	r.GET("/health", func(c *gin.Context) {
		if err := database.Ping(c.Request.Context(), d.DB); err != nil {
			d.Log.Error("Health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := r.Group("/")
	public.Use(middleware.SanitizeInput())

	public.POST("/register", limiter.Handler(), auth.Register)
	public.POST("/login", limiter.Handler(), auth.Login)
	public.GET("/verify", auth.VerifyEmail)
	public.POST("/resend-verification", limiter.Handler(), auth.ResendVerification)
	public.POST("/forgot-password", limiter.Handler(), auth.ForgotPassword)
	public.GET("/reset-password/validate", auth.ValidateResetToken)
	public.POST("/reset-password", limiter.Handler(), auth.ResetPassword)
	public.GET("/plans", plansH.ListPlans)

	public.GET("/auth/google", auth.GoogleStart)
	public.GET("/auth/google/callback", auth.GoogleCallback)

	// Authenticated
	authed := r.Group("/")
	authed.Use(jwt, middleware.SanitizeInput())
	authed.GET("/me", usersH.GetCurrentUser)
	authed.PUT("/me/avatar", usersH.UploadAvatar)
	authed.POST("/change-password", auth.ChangePassword)
	authed.POST("/checkout", billingH.CreateCheckoutSession)
	authed.GET("/orders", billingH.ListOrders)
	authed.POST("/orders/activate", billingH.ActivateOrder)

	// Admin routes
	admin := r.Group("/admin")
	admin.Use(jwt, middleware.RequireRole(domainusers.RoleAdmin))
	admin.GET("/users", adminH.ListAllUsers)
	admin.GET("/orders", adminH.ListAllOrders)
	admin.POST("/sync-plans", plansH.SyncPlansFromStripe)
	admin.POST("/reset-tokens/sweep", adminH.SweepResetTokens)
}
