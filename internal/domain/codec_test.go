package domain

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := placeFirstPending(t, newTestRecord(), refAlice.ID, 12, 999, matchEpoch.Add(time.Minute))

	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	got, warnings, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Errorf("round trip diverged:\ngot  %+v\nwant %+v", got, rec)
	}
}

func TestDecodeRejectsUnknownFormatVersion(t *testing.T) {
	rec := newTestRecord()
	rec.FormatVersion = "2"

	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	_, _, err = DecodeRecord(data)
	if !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("error = %v, want ErrCorruptRecord", err)
	}
	if !strings.Contains(err.Error(), `"2"`) {
		t.Errorf("error %q does not name the rejected version", err)
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	for _, payload := range []string{"", "{", `"a string"`, `{"format_version":"1","turn_number":"NaN"}`} {
		if _, _, err := DecodeRecord([]byte(payload)); !errors.Is(err, ErrCorruptRecord) {
			t.Errorf("payload %q: error = %v, want ErrCorruptRecord", payload, err)
		}
	}
}

func TestDecodeRejectsStructuralViolations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*MatchRecord)
	}{
		{"zero turn number", func(r *MatchRecord) { r.TurnNumber = 0 }},
		{"duplicate players", func(r *MatchRecord) { r.Players[1].PlayerID = r.Players[0].PlayerID }},
		{"holder not a participant", func(r *MatchRecord) { r.TurnHolderID = "someone-else" }},
		{"negative score", func(r *MatchRecord) { r.Players[0].Score = -5 }},
		{"unknown board color", func(r *MatchRecord) { r.Players[0].Board[0][0] = 99 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := newTestRecord()
			tc.mutate(&rec)
			data, err := EncodeRecord(rec)
			if err != nil {
				t.Fatalf("EncodeRecord: %v", err)
			}
			if _, _, err := DecodeRecord(data); !errors.Is(err, ErrCorruptRecord) {
				t.Fatalf("error = %v, want ErrCorruptRecord", err)
			}
		})
	}
}

func TestDecodeDefaultsMissingDisplayName(t *testing.T) {
	rec := newTestRecord()
	rec.Players[1].DisplayName = ""

	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	got, warnings, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if got.Players[1].DisplayName != refBob.ID {
		t.Errorf("display name = %q, want the player id fallback", got.Players[1].DisplayName)
	}
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
	if warnings[0].Field != "players[1].display_name" {
		t.Errorf("warning field = %q", warnings[0].Field)
	}
}

func TestEncodeStampsEmptyVersion(t *testing.T) {
	rec := newTestRecord()
	rec.FormatVersion = ""

	data, err := EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	got, _, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if got.FormatVersion != FormatVersion {
		t.Errorf("FormatVersion = %q, want %q", got.FormatVersion, FormatVersion)
	}
}
