package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// FormatVersion is the record schema revision this build reads and writes.
// Decoding fails closed on any other value; bumping it is a breaking change
// coordinated across all clients of a match.
const FormatVersion = "1"

// ErrCorruptRecord marks a payload that cannot be trusted as a match record.
// Callers fall back to resync instead of operating on it.
var ErrCorruptRecord = errors.New("corrupt match record")

// DecodeWarning notes a recoverable defect that DecodeRecord repaired.
type DecodeWarning struct {
	Field   string
	Applied string
}

// EncodeRecord serializes a record for storage and relay. A zero
// FormatVersion is stamped with the current one.
func EncodeRecord(rec MatchRecord) ([]byte, error) {
	if rec.FormatVersion == "" {
		rec.FormatVersion = FormatVersion
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode match record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses and checks a stored record. Unknown format versions
// and structural violations fail closed with ErrCorruptRecord. The only
// repair applied is defaulting an empty display name to the player id,
// reported as a warning.
func DecodeRecord(data []byte) (MatchRecord, []DecodeWarning, error) {
	var probe struct {
		FormatVersion string `json:"format_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return MatchRecord{}, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if probe.FormatVersion != FormatVersion {
		return MatchRecord{}, nil, fmt.Errorf("%w: format version %q, this build reads %q", ErrCorruptRecord, probe.FormatVersion, FormatVersion)
	}

	var rec MatchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return MatchRecord{}, nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}

	var warnings []DecodeWarning
	for i := range rec.Players {
		if rec.Players[i].DisplayName == "" && rec.Players[i].PlayerID != "" {
			rec.Players[i].DisplayName = rec.Players[i].PlayerID
			warnings = append(warnings, DecodeWarning{
				Field:   fmt.Sprintf("players[%d].display_name", i),
				Applied: rec.Players[i].PlayerID,
			})
		}
	}

	if vs := Validate(rec); len(vs) > 0 {
		return MatchRecord{}, warnings, fmt.Errorf("%w: %s", ErrCorruptRecord, vs[0])
	}
	return rec, warnings, nil
}
