package metrics

// Pre-defined metrics for the exit-delay-penalty verifier daemon. All
// metrics live in DefaultRegistry so they are globally accessible without
// passing a registry around. The comments below name what each metric
// stands for; no code outside this package updates them, so each stays at
// its zero value.

var (
	// ---- Cycle Driver (C9) metrics ----

	// CyclesCompleted counts cycles that ran the Prover Core to completion.
	CyclesCompleted = DefaultRegistry.Counter("daemon.cycles_completed")
	// CyclesFailed counts cycles that errored before a block range was
	// fully processed.
	CyclesFailed = DefaultRegistry.Counter("daemon.cycles_failed")
	// CycleDuration records wall-clock cycle time in milliseconds.
	CycleDuration = DefaultRegistry.Histogram("daemon.cycle_duration_ms")
	// LastProcessedBlock tracks the EL block number the last successful
	// cycle advanced the persisted cursor to.
	LastProcessedBlock = DefaultRegistry.Gauge("daemon.last_processed_block")

	// ---- Prover Core (C8) metrics ----

	// OracleEventsAccumulated counts decoded oracle events folded into the
	// validator store during the accumulation pass.
	OracleEventsAccumulated = DefaultRegistry.Counter("prover.oracle_events_accumulated")
	// EntriesSubmitted counts validator witnesses successfully submitted
	// (or, in dry-run/emulation mode, that would have been submitted).
	EntriesSubmitted = DefaultRegistry.Counter("prover.entries_submitted")
	// EntriesSkippedIneligible counts entries the verification pass found
	// not yet past their exit deadline on this pass.
	EntriesSkippedIneligible = DefaultRegistry.Counter("prover.entries_skipped_ineligible")
	// SubmissionFailures counts submission attempts that errored after
	// passing eligibility and gas-acceptability checks.
	SubmissionFailures = DefaultRegistry.Counter("prover.submission_failures")

	// ---- Gas Manager (C6) metrics ----

	// GasAcceptableDecisions counts Acceptable() calls that returned true.
	GasAcceptableDecisions = DefaultRegistry.Counter("gas.acceptable_decisions")
	// GasRejectedDecisions counts Acceptable() calls that returned false,
	// deferring submission to a later cycle.
	GasRejectedDecisions = DefaultRegistry.Counter("gas.rejected_decisions")
	// CurrentBaseFeeGwei tracks the most recently observed base fee, in
	// gwei, for dashboards that don't want to parse wei-scale gauges.
	CurrentBaseFeeGwei = DefaultRegistry.Gauge("gas.current_base_fee_gwei")

	// ---- Validator Store (C5) metrics ----

	// TrackedValidators tracks the total validator-entry count currently
	// held across all deadline slots.
	TrackedValidators = DefaultRegistry.Gauge("store.tracked_validators")
	// TrackedSlots tracks the number of distinct deadline slots currently
	// occupied.
	TrackedSlots = DefaultRegistry.Gauge("store.tracked_slots")
)
