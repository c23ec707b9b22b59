package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/bakery_backend/config"
	"github.com/mmdatafocus/bakery_backend/middlewares"
	"github.com/mmdatafocus/bakery_backend/models"
	"github.com/mmdatafocus/bakery_backend/utils"
	"github.com/mmdatafocus/bakery_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("bakery-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		db := config.GetDB()
		var user models.User
		if err := db.WithContext(c.Request.Context()).
			Where("username = ?", req.Username).Take(&user).Error; err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if user.IsActive != nil && !*user.IsActive {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if err := utils.ComparePassword(user.Password, req.Password); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		token := uuid.NewString()
		if err := config.SetRedisValue("Token:"+token, user.Username, utils.GetCacheLifespan()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token": token,
			"user":  user,
		})
	}
}

func requireActor(c *gin.Context) bool {
	if _, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func createProductionHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireActor(c) {
			return
		}
		ctx, span := tracer.Start(c.Request.Context(), "createProduction")
		defer span.End()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		// Clients have historically sent a single object under "ingredients";
		// reject that shape with a targeted message before the generic bind.
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		ingredientsRaw, ok := raw["ingredients"]
		if ok {
			trimmed := bytes.TrimSpace(ingredientsRaw)
			if len(trimmed) == 0 || trimmed[0] != '[' {
				c.JSON(http.StatusBadRequest, gin.H{"error": "'ingredients' must be an array"})
				return
			}
		}

		var input models.NewProduction
		if err := json.Unmarshal(body, &input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		production, err := workflow.ProcessProduction(ctx, logger, &input)
		var insufficient *workflow.InsufficientStockError
		switch {
		case errors.As(err, &insufficient):
			c.JSON(http.StatusBadRequest, gin.H{
				"message":   "Insufficient stock",
				"shortages": insufficient.Shortages,
			})
		case errors.Is(err, utils.ErrorRecordNotFound):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case err != nil:
			config.LogError(logger, "server.go", "createProductionHandler", "ProcessProduction", input, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not record production"})
		default:
			c.JSON(http.StatusCreated, production)
		}
	}
}

func parseDateParam(c *gin.Context, name string) (*time.Time, bool) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return nil, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, true
		}
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
	return nil, false
}

func productionFilterFromQuery(c *gin.Context) (models.ProductionFilter, bool) {
	var filter models.ProductionFilter
	filter.RecipeId, _ = strconv.Atoi(c.Query("recipe_id"))
	filter.BatchNumber = strings.TrimSpace(c.Query("batch_number"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))

	from, ok := parseDateParam(c, "from_date")
	if !ok {
		return filter, false
	}
	to, ok := parseDateParam(c, "to_date")
	if !ok {
		return filter, false
	}
	filter.FromDate, filter.ToDate = from, to
	return filter, true
}

func listProductionsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := productionFilterFromQuery(c)
		if !ok {
			return
		}
		productions, total, err := models.ListProductions(c.Request.Context(), filter)
		if err != nil {
			config.LogError(logger, "server.go", "listProductionsHandler", "ListProductions", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list productions"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": productions, "total": total})
	}
}

func exportProductionsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, ok := productionFilterFromQuery(c)
		if !ok {
			return
		}
		f, err := models.ExportProductionHistoryXlsx(c.Request.Context(), filter)
		if err != nil {
			config.LogError(logger, "server.go", "exportProductionsHandler", "ExportProductionHistoryXlsx", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not export productions"})
			return
		}
		filename := "productions-" + time.Now().UTC().Format("20060102-150405") + ".xlsx"
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		if err := f.Write(c.Writer); err != nil {
			config.LogError(logger, "server.go", "exportProductionsHandler", "Write xlsx", filename, err)
		}
	}
}

func getProductionHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		production, err := utils.FetchModel[models.ProductionRecord](c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "production not found"})
			return
		}
		usages, batchUsages, err := models.ListUsageRecordsForProduction(c.Request.Context(), id)
		if err != nil {
			config.LogError(logger, "server.go", "getProductionHandler", "ListUsageRecordsForProduction", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load production usage"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"production":   production,
			"usages":       usages,
			"batch_usages": batchUsages,
		})
	}
}

func listActivitiesHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.ActivityFilter
		filter.ReferenceType = strings.TrimSpace(c.Query("reference_type"))
		filter.ReferenceId, _ = strconv.Atoi(c.Query("reference_id"))
		filter.Limit, _ = strconv.Atoi(c.Query("limit"))
		filter.Offset, _ = strconv.Atoi(c.Query("offset"))
		from, ok := parseDateParam(c, "from_date")
		if !ok {
			return
		}
		to, ok := parseDateParam(c, "to_date")
		if !ok {
			return
		}
		filter.FromDate, filter.ToDate = from, to

		activities, total, err := models.ListActivities(c.Request.Context(), filter)
		if err != nil {
			config.LogError(logger, "server.go", "listActivitiesHandler", "ListActivities", filter, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list activities"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": activities, "total": total})
	}
}

func listIngredientsHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ingredients, err := models.ListIngredients(c.Request.Context())
		if err != nil {
			config.LogError(logger, "server.go", "listIngredientsHandler", "ListIngredients", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list ingredients"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": ingredients})
	}
}

func lowStockHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ingredients, err := models.ListLowStockIngredients(c.Request.Context())
		if err != nil {
			config.LogError(logger, "server.go", "lowStockHandler", "ListLowStockIngredients", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list low stock ingredients"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": ingredients})
	}
}

func createIngredientHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireActor(c) {
			return
		}
		var input models.NewIngredient
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ingredient, err := models.CreateIngredient(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, ingredient)
	}
}

func updateIngredientHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireActor(c) {
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		var input models.NewIngredient
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ingredient, err := models.UpdateIngredient(c.Request.Context(), id, &input)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ingredient not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ingredient)
	}
}

func getIngredientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		ingredient, err := models.GetIngredient(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "ingredient not found"})
			return
		}
		c.JSON(http.StatusOK, ingredient)
	}
}

func listIngredientBatchesHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		if err := utils.ValidateResourceId[models.Ingredient](c.Request.Context(), id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "ingredient not found"})
			return
		}
		batches, err := models.ListIngredientBatches(c.Request.Context(), id)
		if err != nil {
			config.LogError(logger, "server.go", "listIngredientBatchesHandler", "ListIngredientBatches", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list batches"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": batches})
	}
}

func createIngredientBatchHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireActor(c) {
			return
		}
		var input models.NewIngredientBatch
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		batch, err := models.CreateIngredientBatch(c.Request.Context(), &input)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "ingredient not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, batch)
	}
}

func listRecipesHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		recipes, err := models.ListRecipes(c.Request.Context())
		if err != nil {
			config.LogError(logger, "server.go", "listRecipesHandler", "ListRecipes", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list recipes"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": recipes})
	}
}

func getRecipeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		recipe, err := models.GetRecipe(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "recipe not found"})
			return
		}
		c.JSON(http.StatusOK, recipe)
	}
}

func createRecipeHandler(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireActor(c) {
			return
		}
		var input models.NewRecipe
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		recipe, err := models.CreateRecipe(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, recipe)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/login", loginHandler())

	r.POST("/production", createProductionHandler(logger))
	r.GET("/productions", listProductionsHandler(logger))
	r.GET("/productions/export", exportProductionsHandler(logger))
	r.GET("/productions/:id", getProductionHandler(logger))

	r.GET("/activities", listActivitiesHandler(logger))

	r.GET("/ingredients", listIngredientsHandler(logger))
	r.POST("/ingredients", createIngredientHandler(logger))
	r.GET("/ingredients/low-stock", lowStockHandler(logger))
	r.GET("/ingredients/:id", getIngredientHandler())
	r.PUT("/ingredients/:id", updateIngredientHandler(logger))
	r.GET("/ingredients/:id/batches", listIngredientBatchesHandler(logger))
	r.POST("/ingredient-batches", createIngredientBatchHandler(logger))

	r.GET("/recipes", listRecipesHandler(logger))
	r.POST("/recipes", createRecipeHandler(logger))
	r.GET("/recipes/:id", getRecipeHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
