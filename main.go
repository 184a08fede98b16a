package main

import (
	"database/sql"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"

	"utilibill/internal/audit"
	"utilibill/internal/auth"
	billingapp "utilibill/internal/billing/application"
	billingrepo "utilibill/internal/billing/infrastructure/postgres"
	billinginterfaces "utilibill/internal/billing/interfaces"
	customerapp "utilibill/internal/customer/application"
	customerrepo "utilibill/internal/customer/infrastructure/postgres"
	customerinterfaces "utilibill/internal/customer/interfaces"
	"utilibill/internal/locking"
	meteringapp "utilibill/internal/metering/application"
	meteringrepo "utilibill/internal/metering/infrastructure/postgres"
	meteringinterfaces "utilibill/internal/metering/interfaces"
	"utilibill/internal/observability/metrics"
	tariffapp "utilibill/internal/tariff/application"
	tariffrepo "utilibill/internal/tariff/infrastructure/postgres"
	tariffinterfaces "utilibill/internal/tariff/interfaces"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init(db, logger)
	auditRepo := audit.NewRepository(db)

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatalf("snowflake node error: %v", err)
	}

	meterRepo := meteringrepo.NewMeterRepository(db)
	readingRepo := meteringrepo.NewReadingRepository(db)
	tariffRepo := tariffrepo.NewRepository(db)
	customerRepo := customerrepo.NewRepository(db)
	invoiceRepo := billingrepo.NewRepository(db)

	locks := locking.NewKeyedMutex()

	readingService, err := meteringapp.NewReadingService(meterRepo, readingRepo, locks,
		meteringapp.WithRolloverTolerance(cfg.RolloverTolerance),
		meteringapp.WithLogger(logger))
	if err != nil {
		logger.Fatalf("reading service error: %v", err)
	}
	billingService, err := billingapp.NewBillingService(
		invoiceRepo, customerRepo, tariffRepo, meterRepo, readingRepo,
		locks, node, logger,
		billingapp.WithPaymentTerms(cfg.PaymentTermsDays),
	)
	if err != nil {
		logger.Fatalf("billing service error: %v", err)
	}
	customerService, err := customerapp.NewCustomerService(customerRepo, meterRepo, tariffRepo)
	if err != nil {
		logger.Fatalf("customer service error: %v", err)
	}
	tariffService, err := tariffapp.NewTariffService(tariffRepo)
	if err != nil {
		logger.Fatalf("tariff service error: %v", err)
	}

	readingHandler, err := meteringinterfaces.NewReadingHandler(readingService, auditRepo)
	if err != nil {
		logger.Fatalf("reading handler error: %v", err)
	}
	invoiceHandler, err := billinginterfaces.NewInvoiceHandler(billingService, auditRepo)
	if err != nil {
		logger.Fatalf("invoice handler error: %v", err)
	}
	customerHandler, err := customerinterfaces.NewCustomerHandler(customerService, auditRepo)
	if err != nil {
		logger.Fatalf("customer handler error: %v", err)
	}
	tariffHandler, err := tariffinterfaces.NewTariffHandler(tariffService, auditRepo)
	if err != nil {
		logger.Fatalf("tariff handler error: %v", err)
	}

	authPolicy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), authPolicy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/readings", readingHandler)
	mux.Handle("/api/v1/customers", customerHandler)
	mux.Handle("/api/v1/customers/", customerHandler)
	mux.Handle("/api/v1/tariffs", tariffHandler)
	mux.Handle("/api/v1/tariffs/", tariffHandler)
	mux.Handle("/api/v1/invoices", invoiceHandler)
	mux.Handle("/api/v1/invoices/", invoiceHandler)
	mux.Handle("/api/v1/invoices/generate", invoiceHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	DatabaseURL       string
	HTTPAddr          string
	JWTSecret         string
	NodeID            int64
	PaymentTermsDays  int
	RolloverTolerance float64
}

func loadConfig() config {
	cfg := config{
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
		NodeID:            int64(getenvIntDefault("SNOWFLAKE_NODE_ID", 1)),
		PaymentTermsDays:  getenvIntDefault("PAYMENT_TERMS_DAYS", billingapp.DefaultPaymentTermsDays),
		RolloverTolerance: getenvFloatDefault("ROLLOVER_TOLERANCE", 0),
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
