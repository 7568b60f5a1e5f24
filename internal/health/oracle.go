// Package health implements the health oracle (C15): three independent
// availability probes run concurrently, aggregated into one status record.
package health

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/optionalpha/scanner/internal/domain"
	"github.com/optionalpha/scanner/internal/ports"
)

const (
	llmProbeTimeout         = 5 * time.Second
	vendorProbeTimeout      = 10 * time.Second
	persistenceProbeTimeout = 5 * time.Second

	canarySymbol = "SPY"
	canaryPeriod = "1d"
)

// Oracle runs the three availability probes.
type Oracle struct {
	llm    ports.LLMPort
	vendor ports.VendorPort
	db     *sql.DB
	model  string
	log    zerolog.Logger
}

// New builds an Oracle. model is the LLM model id the LLM probe checks for.
func New(llmPort ports.LLMPort, vendorPort ports.VendorPort, db *sql.DB, model string, log zerolog.Logger) *Oracle {
	return &Oracle{llm: llmPort, vendor: vendorPort, db: db, model: model, log: log.With().Str("component", "health_oracle").Logger()}
}

// Check runs all three probes concurrently and returns the aggregated
// status. One probe failing never affects the others.
func (o *Oracle) Check(ctx context.Context) domain.HealthStatus {
	llmCh := make(chan llmProbeResult, 1)
	vendorCh := make(chan bool, 1)
	persistenceCh := make(chan bool, 1)

	go func() {
		llmCh <- o.probeLLM()
	}()
	go func() {
		vendorCh <- o.probeVendor()
	}()
	go func() {
		persistenceCh <- o.probePersistence(ctx)
	}()

	llm := <-llmCh
	vendor := <-vendorCh
	persistence := <-persistenceCh

	return domain.HealthStatus{
		LLMAvailable:         llm.available,
		VendorAvailable:      vendor,
		PersistenceAvailable: persistence,
		LLMModels:            llm.models,
		LastCheckUTC:         time.Now().UTC(),
	}
}

type llmProbeResult struct {
	available bool
	models    []string
}

func (o *Oracle) probeLLM() llmProbeResult {
	if o.llm == nil {
		return llmProbeResult{}
	}
	done := make(chan bool, 1)
	go func() {
		done <- o.llm.ValidateModel(o.model)
	}()

	var available bool
	select {
	case available = <-done:
	case <-time.After(llmProbeTimeout):
		o.log.Warn().Msg("llm probe timed out")
	}

	models := []string{o.model}
	if !available {
		models = nil
	}
	return llmProbeResult{available: available, models: models}
}

func (o *Oracle) probeVendor() bool {
	if o.vendor == nil {
		return false
	}
	done := make(chan bool, 1)
	go func() {
		bars, err := o.vendor.History(canarySymbol, canaryPeriod)
		done <- err == nil && len(bars) >= 1
	}()
	select {
	case ok := <-done:
		return ok
	case <-time.After(vendorProbeTimeout):
		o.log.Warn().Msg("vendor probe timed out")
		return false
	}
}

func (o *Oracle) probePersistence(ctx context.Context) bool {
	if o.db == nil {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, persistenceProbeTimeout)
	defer cancel()

	var count int
	err := o.db.QueryRowContext(probeCtx, "SELECT COUNT(*) FROM schema_version").Scan(&count)
	if err != nil {
		o.log.Warn().Err(err).Msg("persistence probe failed")
		return false
	}
	return true
}
