package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawnledger_payments_recorded_total",
		Help: "Payments posted against loans.",
	})
	PaymentAmount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawnledger_payment_amount_rupiah_total",
		Help: "Sum of posted payment amounts in rupiah.",
	})
	PaymentsReversed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawnledger_payments_reversed_total",
		Help: "Payments reversed with a counter-entry.",
	})
	LoansPaidOff = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawnledger_loans_paid_off_total",
		Help: "Loans that reached LUNAS.",
	})
	LedgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pawnledger_ledger_entries_total",
		Help: "Cash ledger entries posted, by source and direction.",
	}, []string{"source", "direction"})
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pawnledger_decisions_total",
		Help: "Decisions recorded on overdue loans.",
	}, []string{"decision"})
	Auctions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pawnledger_auctions_total",
		Help: "Auction listings by resulting status.",
	}, []string{"status"})
	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pawnledger_settlements_total",
		Help: "Auction settlements recorded.",
	})
	Contracts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pawnledger_contracts_total",
		Help: "Contracts finalized or voided.",
	}, []string{"status"})
	OperationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pawnledger_operation_errors_total",
		Help: "Rejected or failed operations by operation and error kind.",
	}, []string{"operation", "kind"})
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pawnledger_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
