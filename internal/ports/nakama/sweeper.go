package nakama

import (
	"context"
	"errors"
	"time"

	"gridrival/internal/app"
	"gridrival/internal/config"
	"gridrival/internal/domain"
	"gridrival/internal/ports"

	"github.com/go-co-op/gocron/v2"
	"github.com/heroiclabs/nakama-common/runtime"
)

const sweepPageSize = 100

// Sweeper periodically walks the stored match records and finalizes any
// whose turn holder sat past the ceiling. Live handlers enforce the same
// ceiling on their tick; the sweeper covers matches whose handler has
// dissolved and whose players only come back through RPCs.
type Sweeper struct {
	nk        runtime.NakamaModule
	logger    runtime.Logger
	rules     config.MatchRules
	scheduler gocron.Scheduler
}

// StartSweeper schedules the sweep at the configured interval and runs the
// scheduler. The returned Sweeper keeps running for the process lifetime.
func StartSweeper(nk runtime.NakamaModule, logger runtime.Logger, rules config.MatchRules) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	s := &Sweeper{nk: nk, logger: logger, rules: rules, scheduler: scheduler}
	_, err = scheduler.NewJob(
		gocron.DurationJob(rules.SweepInterval()),
		gocron.NewTask(s.Sweep),
	)
	if err != nil {
		return nil, err
	}

	scheduler.Start()
	logger.Info("Timeout sweeper running every %s.", rules.SweepInterval())
	return s, nil
}

// Shutdown stops the scheduler. Used by tests; the module never stops it.
func (s *Sweeper) Shutdown() error {
	return s.scheduler.Shutdown()
}

// Sweep walks every stored record once.
func (s *Sweeper) Sweep() {
	ctx := context.Background()
	transport := NewStorageTransport(s.nk, s.logger)
	now := time.Now()

	swept := 0
	expired := 0
	cursor := ""
	for {
		objects, next, err := s.nk.StorageList(ctx, "", "", collectionMatches, sweepPageSize, cursor)
		if err != nil {
			s.logger.Error("Sweep: Failed to list match records: %v", err)
			return
		}

		for _, obj := range objects {
			// Listing spans the whole collection; participant stubs live
			// under user ids and are skipped here.
			if obj.UserId != "" {
				continue
			}
			swept++
			if s.sweepRecord(ctx, transport, obj.Key, []byte(obj.Value), obj.Version, now) {
				expired++
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	if expired > 0 {
		s.logger.Info("Sweep: Finalized %d of %d stored matches on timeout.", expired, swept)
	}
}

// sweepRecord finalizes a single stored record when its turn has expired.
// Reports whether a timeout was applied.
func (s *Sweeper) sweepRecord(ctx context.Context, transport *StorageTransport, matchID string, payload []byte, version string, now time.Time) bool {
	rec, _, err := domain.DecodeRecord(payload)
	if err != nil {
		s.logger.Warn("Sweep: Skipping corrupt record %s: %v", matchID, err)
		return false
	}
	if rec.Ended || !app.TurnExpired(rec, now, s.rules.TurnCeiling()) {
		return false
	}

	svc := app.NewService(nil)
	next, _, err := svc.Timeout(rec, now)
	if err != nil {
		s.logger.Error("Sweep: Timeout resolution for %s failed: %v", matchID, err)
		return false
	}

	encoded, err := domain.EncodeRecord(next)
	if err != nil {
		s.logger.Error("Sweep: Failed to encode record %s: %v", matchID, err)
		return false
	}
	if err := transport.EndMatch(ctx, matchID, encoded, version); err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			// A turn landed between the list and the write; the match is
			// alive after all.
			return false
		}
		s.logger.Error("Sweep: Failed to store timeout for %s: %v", matchID, err)
		return false
	}

	archiveEndedMatch(ctx, s.logger, NewNakamaArchiveAdapter(s.nk), next)
	return true
}
