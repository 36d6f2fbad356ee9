package httpapi

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/keyledger/internal/convert"
	"github.com/and161185/keyledger/internal/licensekey"
	"github.com/and161185/keyledger/internal/limiter"
	"github.com/and161185/keyledger/internal/metrics"
	"github.com/and161185/keyledger/internal/repository/badgerdb"
	"github.com/and161185/keyledger/internal/service"
	"github.com/and161185/keyledger/internal/sysinfo"
)

func TestActivate_InvalidKeysThenBlocked(t *testing.T) {
	t.Parallel()

	db, err := badgerdb.Open(badgerdb.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := zaptest.NewLogger(t)
	const maxFails = 5
	ledger := service.NewLedgerService(badgerdb.NewActivationRepo(db), licensekey.NewSigner([]byte("limit-secret"), nil), "cflow-server",
		service.WithLimiter(limiter.NewMemory(15*time.Minute, maxFails, 15*time.Minute)),
		service.WithLogger(log),
	)
	h := New(ledger, sysinfo.Fixed{Cores: 4}, metrics.New(nil), log).Routes()

	const body = `{"licenseKey":"AAAAA-BBBBB-CCCCC-DDDDD-EEEEE"}`
	// every rejected key is reported as such, including the one that trips the block
	for i := 1; i <= maxFails; i++ {
		rec := do(t, h, http.MethodPost, "/api/v1/license/activation", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "submission %d", i)
		resp := decode[convert.ErrorResponse](t, rec)
		require.False(t, resp.Success)
		require.NotEqual(t, "too many failed activation attempts", resp.Message)
	}

	rec := do(t, h, http.MethodPost, "/api/v1/license/activation", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.JSONEq(t, `{"success":false,"message":"too many failed activation attempts"}`, rec.Body.String())
}
