package observability

import (
	"testing"
	"time"

	"github.com/danmuck/shardline/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("admin", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrame(0, "in", "hello")
	RecordDispatch("GUILD_CREATE")
	ObserveHeartbeatLatency(0, 40*time.Millisecond)
	SetSessionState(0, 4)
	RecordReconnect(0, "resume")
	RecordCacheError("GUILD_UPDATE")
	RecordSupervisorRestart(1)
	RecordDeliveries("GUILD_CREATE", 2)

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestVocabularyGrowthIgnoresNonPositive(t *testing.T) {
	testlog.Start(t)

	before := testutil.ToFloat64(vocabularyGrowth)
	AddVocabularyGrowth(0)
	AddVocabularyGrowth(-3)
	AddVocabularyGrowth(2)
	if got := testutil.ToFloat64(vocabularyGrowth) - before; got != 2 {
		t.Fatalf("expected growth delta 2, got %v", got)
	}
}
