package health

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/optionalpha/scanner/internal/database"
	"github.com/optionalpha/scanner/internal/ports"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeLLM struct{ available bool }

func (f *fakeLLM) ValidateModel(model string) bool { return f.available }
func (f *fakeLLM) Chat(messages []ports.ChatMessage, model string, timeout time.Duration) (ports.ChatResult, error) {
	return ports.ChatResult{}, nil
}

type fakeVendor struct {
	bars []ports.Bar
	err  error
}

func (f *fakeVendor) History(symbol, period string) ([]ports.Bar, error) { return f.bars, f.err }
func (f *fakeVendor) Info(symbol string) (map[string]interface{}, error) { return nil, nil }
func (f *fakeVendor) OptionChain(symbol string, expiration time.Time) ([]ports.OptionRow, []ports.OptionRow, error) {
	return nil, nil, nil
}
func (f *fakeVendor) Options(symbol string) ([]time.Time, error) { return nil, nil }

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: "file::memory:?cache=shared", Profile: database.ProfileStandard, Name: "scanner"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { db.Conn().Close() })
	return db.Conn()
}

func TestCheck_AllProbesHealthy(t *testing.T) {
	oracle := New(&fakeLLM{available: true}, &fakeVendor{bars: []ports.Bar{{}}}, testDB(t), "llama3.1:8b", testLogger())

	status := oracle.Check(context.Background())

	assert.True(t, status.LLMAvailable)
	assert.True(t, status.VendorAvailable)
	assert.True(t, status.PersistenceAvailable)
	assert.Equal(t, []string{"llama3.1:8b"}, status.LLMModels)
}

func TestCheck_LLMDownDoesNotAffectOtherProbes(t *testing.T) {
	oracle := New(&fakeLLM{available: false}, &fakeVendor{bars: []ports.Bar{{}}}, testDB(t), "llama3.1:8b", testLogger())

	status := oracle.Check(context.Background())

	assert.False(t, status.LLMAvailable)
	assert.Nil(t, status.LLMModels)
	assert.True(t, status.VendorAvailable)
	assert.True(t, status.PersistenceAvailable)
}

func TestCheck_VendorEmptyHistoryIsUnhealthy(t *testing.T) {
	oracle := New(&fakeLLM{available: true}, &fakeVendor{bars: nil}, testDB(t), "llama3.1:8b", testLogger())

	status := oracle.Check(context.Background())

	assert.False(t, status.VendorAvailable)
	assert.True(t, status.LLMAvailable)
}

func TestCheck_PersistenceDownWithNilDB(t *testing.T) {
	oracle := New(&fakeLLM{available: true}, &fakeVendor{bars: []ports.Bar{{}}}, nil, "llama3.1:8b", testLogger())

	status := oracle.Check(context.Background())

	assert.False(t, status.PersistenceAvailable)
	assert.True(t, status.LLMAvailable)
	assert.True(t, status.VendorAvailable)
}
