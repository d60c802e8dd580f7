// Command ledgercheck verifies the integrity of the audit ledger chain
// and exits non-zero when tampering is detected, so it can run from cron
// or CI against a production database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"

	"go.uber.org/zap"

	"github.com/cmp/backend/internal/domain/ledger"
	"github.com/cmp/backend/internal/infrastructure/config"
	"github.com/cmp/backend/internal/infrastructure/logger"
	"github.com/cmp/backend/internal/infrastructure/persistence"
)

func main() {
	var (
		from     uint64
		to       uint64
		logLevel string
	)
	flag.Uint64Var(&from, "from", 0, "First sequence to verify")
	flag.Uint64Var(&to, "to", math.MaxUint64, "Last sequence to verify (default: chain tail)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		_ = db.Close()
	}()

	led := ledger.New(persistence.NewGormLedgerEntryStore(db.DB), ledger.WithLogger(log))

	log.Info("Verifying audit chain",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
	)

	err = led.Verify(context.Background(), from, to)
	if err == nil {
		log.Info("Audit chain intact")
		return
	}

	var tamperErr *ledger.TamperError
	if errors.As(err, &tamperErr) {
		log.Error("Tampering detected",
			zap.Uint64("sequence", tamperErr.Sequence),
			zap.String("reason", tamperErr.Reason),
		)
		fmt.Fprintf(os.Stderr, "tamper detected at sequence %d: %s\n", tamperErr.Sequence, tamperErr.Reason)
		os.Exit(1)
	}

	log.Fatal("Verification failed", zap.Error(err))
}
