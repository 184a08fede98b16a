package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "utilibill_"

	// ResultSuccess labels a successful operation.
	ResultSuccess = "success"
	// ResultError labels a failed operation.
	ResultError = "error"
)

var (
	registerOnce sync.Once

	invoiceGenerateTotal   *prometheus.CounterVec
	invoiceGenerateLatency *prometheus.HistogramVec

	ledgerOpsTotal *prometheus.CounterVec

	readingRecordTotal   *prometheus.CounterVec
	readingRecordLatency *prometheus.HistogramVec

	invoiceExportTotal   *prometheus.CounterVec
	invoiceExportLatency *prometheus.HistogramVec

	batchRunTotal *prometheus.CounterVec

	openInvoicesGauge     prometheus.Gauge
	unbilledReadingsGauge prometheus.Gauge
)

// Init registers billing metrics and starts the DB-backed gauges when a
// database is available.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		invoiceGenerateTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_generate_total",
				Help: "Total invoice generation runs by result",
			},
			[]string{"result"},
		)
		invoiceGenerateLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_generate_latency_seconds",
				Help:    "Invoice generation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		ledgerOpsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_operations_total",
				Help: "Total ledger operations by operation and result",
			},
			[]string{"operation", "result"},
		)

		readingRecordTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "reading_record_total",
				Help: "Total recorded readings by result",
			},
			[]string{"result"},
		)
		readingRecordLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "reading_record_latency_seconds",
				Help:    "Reading record latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		invoiceExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "invoice_export_total",
				Help: "Total invoice exports by format and result",
			},
			[]string{"format", "result"},
		)
		invoiceExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "invoice_export_latency_seconds",
				Help:    "Invoice export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		batchRunTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "batch_billing_customers_total",
				Help: "Total customers processed by batch billing, by result",
			},
			[]string{"result"},
		)

		openInvoicesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "open_invoices",
			Help: "Invoices currently pending, partial or overdue",
		})
		unbilledReadingsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "unbilled_readings",
			Help: "Readings not yet consumed by an invoice",
		})

		prometheus.MustRegister(
			invoiceGenerateTotal, invoiceGenerateLatency,
			ledgerOpsTotal,
			readingRecordTotal, readingRecordLatency,
			invoiceExportTotal, invoiceExportLatency,
			batchRunTotal,
			openInvoicesGauge, unbilledReadingsGauge,
		)

		if db != nil {
			go pollGauges(db, logger)
		}
	})
}

// ObserveInvoiceGenerate records one invoice generation run.
func ObserveInvoiceGenerate(result string, d time.Duration) {
	if invoiceGenerateTotal == nil {
		return
	}
	invoiceGenerateTotal.WithLabelValues(result).Inc()
	invoiceGenerateLatency.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveLedgerOp records a payment, refund or cancellation.
func ObserveLedgerOp(operation, result string) {
	if ledgerOpsTotal == nil {
		return
	}
	ledgerOpsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveReadingRecord records one reading-recording call.
func ObserveReadingRecord(result string, d time.Duration) {
	if readingRecordTotal == nil {
		return
	}
	readingRecordTotal.WithLabelValues(result).Inc()
	readingRecordLatency.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveInvoiceExport records one document export.
func ObserveInvoiceExport(format, result string, d time.Duration) {
	if invoiceExportTotal == nil {
		return
	}
	invoiceExportTotal.WithLabelValues(format, result).Inc()
	invoiceExportLatency.WithLabelValues(format, result).Observe(d.Seconds())
}

// ObserveBatchCustomer records one customer handled by a batch run.
func ObserveBatchCustomer(result string) {
	if batchRunTotal == nil {
		return
	}
	batchRunTotal.WithLabelValues(result).Inc()
}

func pollGauges(db *sql.DB, logger *log.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		var open, unbilled int64
		row := db.QueryRow(`SELECT COUNT(*) FROM invoices WHERE status IN ('pending', 'partial', 'overdue')`)
		if err := row.Scan(&open); err != nil {
			if logger != nil {
				logger.Printf("metrics: open invoices gauge: %v", err)
			}
			continue
		}
		row = db.QueryRow(`SELECT COUNT(*) FROM readings WHERE billed = FALSE`)
		if err := row.Scan(&unbilled); err != nil {
			if logger != nil {
				logger.Printf("metrics: unbilled readings gauge: %v", err)
			}
			continue
		}
		openInvoicesGauge.Set(float64(open))
		unbilledReadingsGauge.Set(float64(unbilled))
	}
}
