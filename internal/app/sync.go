package app

import (
	"fmt"
	"time"

	"gridrival/internal/domain"
)

// SyncTier labels how far down the recovery ladder a resync had to go.
type SyncTier int

const (
	// SyncClean: the local set already regenerates from the record.
	SyncClean SyncTier = iota
	// SyncRegenerated: the local set drifted; the record's own derivation
	// was adopted silently.
	SyncRegenerated
	// SyncSeedRefreshed: the derivation itself was disputed between
	// devices; this side holds write access and re-seeded the current turn.
	SyncSeedRefreshed
	// SyncRefreshRequested: derivation disputed but this side cannot
	// write; the turn holder was asked to re-seed.
	SyncRefreshRequested
	// SyncEmergency: no valid record obtainable; a fallback set derived
	// from the player's own id was issued.
	SyncEmergency
)

func (t SyncTier) String() string {
	switch t {
	case SyncClean:
		return "clean"
	case SyncRegenerated:
		return "regenerated"
	case SyncSeedRefreshed:
		return "seed_refreshed"
	case SyncRefreshRequested:
		return "refresh_requested"
	case SyncEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// SyncResolution is the outcome of one pass over the resync ladder.
// RecordChanged marks a resolution whose record must be persisted and
// relayed; Incident carries the log line when the pass found drift.
type SyncResolution struct {
	Tier          SyncTier
	Pieces        [domain.PendingPieceCount]domain.PieceDescriptor
	Record        domain.MatchRecord
	RecordChanged bool
	Incident      string
}

// ValidateSync reports whether the local pending set regenerates exactly
// from the record. Comparison is order-sensitive: the UI presents pieces in
// generation order, so a permutation still counts as desynchronized.
func ValidateSync(local []domain.PieceDescriptor, rec domain.MatchRecord) bool {
	derived := domain.Generate(rec.RandomSeed, rec.TurnNumber, rec.Mode)
	if len(local) != len(derived) {
		return false
	}
	for i := range derived {
		if local[i] != derived[i] {
			return false
		}
	}
	return true
}

// Resync walks the recovery ladder for a pending-set mismatch against the
// latest authoritative record. opponentReported is the set the opponent's
// device claimed in its last payload; nil means no claim is available.
// Past piece sets are never corrected, only the current and future ones.
func (s *Service) Resync(rec domain.MatchRecord, local, opponentReported []domain.PieceDescriptor, localPlayerID string, now time.Time) (SyncResolution, []Event, error) {
	if rec.Ended {
		return SyncResolution{}, nil, ErrMatchEnded
	}
	if !rec.IsParticipant(localPlayerID) {
		return SyncResolution{}, nil, fmt.Errorf("%w: %q", ErrUnknownParticipant, localPlayerID)
	}

	derived := domain.Generate(rec.RandomSeed, rec.TurnNumber, rec.Mode)
	opponentAgrees := opponentReported == nil || ValidateSync(opponentReported, rec)

	if ValidateSync(local, rec) {
		if !opponentAgrees {
			return s.resolveDispute(rec, localPlayerID, now)
		}
		return SyncResolution{Tier: SyncClean, Pieces: derived, Record: rec}, nil, nil
	}

	if !opponentAgrees {
		return s.resolveDispute(rec, localPlayerID, now)
	}

	// The local copy drifted but the record is internally consistent:
	// adopt its derivation, re-stamping the stored pending set in case the
	// drift came from there.
	res := SyncResolution{
		Tier:     SyncRegenerated,
		Pieces:   derived,
		Record:   domain.RefreshSeed(rec, rec.RandomSeed, now),
		Incident: fmt.Sprintf("pending set drifted on turn %d; regenerated from seed", rec.TurnNumber),
	}
	events := []Event{{
		Kind: EventDesyncResolved,
		Payload: DesyncResolvedPayload{
			MatchID:    rec.MatchID,
			TurnNumber: rec.TurnNumber,
			Detail:     res.Incident,
		},
		Recipients: []string{localPlayerID},
	}}
	return res, events, nil
}

// resolveDispute handles a derivation the two devices cannot agree on. Only
// the side holding write access (the current turn holder) may draw the new
// seed; the other side asks for one and keeps playing on the derivation.
func (s *Service) resolveDispute(rec domain.MatchRecord, localPlayerID string, now time.Time) (SyncResolution, []Event, error) {
	if rec.TurnHolderID == localPlayerID {
		refreshed := domain.RefreshSeed(rec, s.DrawSeed(), now)
		res := SyncResolution{
			Tier:          SyncSeedRefreshed,
			Pieces:        refreshed.PendingPieces,
			Record:        refreshed,
			RecordChanged: true,
			Incident:      fmt.Sprintf("pending set disputed on turn %d; holder re-seeded", rec.TurnNumber),
		}
		events := []Event{{
			Kind: EventSeedRefreshed,
			Payload: SeedRefreshedPayload{
				MatchID:    refreshed.MatchID,
				TurnNumber: refreshed.TurnNumber,
				Seed:       refreshed.RandomSeed,
				Pieces:     refreshed.PendingPieces[:],
			},
		}}
		return res, events, nil
	}

	derived := domain.Generate(rec.RandomSeed, rec.TurnNumber, rec.Mode)
	res := SyncResolution{
		Tier:     SyncRefreshRequested,
		Pieces:   derived,
		Record:   rec,
		Incident: fmt.Sprintf("pending set disputed on turn %d; refresh requested from holder", rec.TurnNumber),
	}
	events := []Event{{
		Kind: EventSeedRefreshRequested,
		Payload: SeedRefreshRequestedPayload{
			MatchID:     rec.MatchID,
			TurnNumber:  rec.TurnNumber,
			RequesterID: localPlayerID,
		},
		Recipients: []string{rec.TurnHolderID},
	}}
	return res, events, nil
}

// EmergencyFallback produces a playable set when no valid record can be
// obtained at all. The set derives from the player's own id hash, so it is
// deterministic per player but not agreed with the opponent; the incident
// must always be logged.
func (s *Service) EmergencyFallback(matchID, playerID string, turnNumber int, mode domain.Mode) (SyncResolution, []Event) {
	res := SyncResolution{
		Tier:     SyncEmergency,
		Pieces:   domain.EmergencyPieces(playerID, turnNumber, mode),
		Incident: fmt.Sprintf("no valid record for match %s; emergency set issued on turn %d", matchID, turnNumber),
	}
	events := []Event{{
		Kind: EventSyncDegraded,
		Payload: SyncDegradedPayload{
			MatchID:  matchID,
			PlayerID: playerID,
			Detail:   res.Incident,
		},
		Recipients: []string{playerID},
	}}
	return res, events
}
