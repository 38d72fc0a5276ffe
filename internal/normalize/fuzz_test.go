package normalize

import (
	"errors"
	"testing"
	"time"
)

func FuzzParseStartTime(f *testing.F) {
	f.Add("2022-07-01T14:30:00Z")
	f.Add("2022-07-01T14:30:00.123Z")
	f.Add("2022-07-01 14:30:00")
	f.Add("")
	f.Fuzz(func(t *testing.T, s string) {
		ts, err := ParseStartTime(s)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error %v is not a *ParseError", err)
			}
			return
		}
		if got := time.Unix(ts, 0).UTC().Format(startTimeLayout); got != s {
			t.Fatalf("accepted %q but it formats back as %q", s, got)
		}
	})
}

func FuzzParticipant(f *testing.F) {
	f.Add([]byte(`{"cust_id": 11, "display_name": "Ann Apex", "newi_rating": 1612}`))
	f.Add([]byte(`{"team_id": -77, "driver_results": [{"cust_id": 11}]}`))
	f.Add([]byte(`{"driver_results": null}`))
	f.Add([]byte(`[]`))
	f.Fuzz(func(t *testing.T, data []byte) {
		var p Participant
		if err := p.UnmarshalJSON(data); err != nil {
			return
		}
		if (p.Solo == nil) == (p.Team == nil) {
			t.Fatalf("decoded participant must be exactly one variant: %+v", p)
		}
	})
}

func FuzzFlatten(f *testing.F) {
	f.Add([]byte(soloSubsessionJSON))
	f.Add([]byte(teamSubsessionJSON))
	f.Add([]byte(`{"subsession_id": 1, "start_time": "bad"}`))
	f.Fuzz(func(t *testing.T, data []byte) {
		rows, err := Flatten(data)
		if err != nil {
			return
		}
		for _, r := range rows.Results {
			if r.SubsessionID != rows.Subsession.SubsessionID {
				t.Fatalf("result of subsession %d in subsession %d", r.SubsessionID, rows.Subsession.SubsessionID)
			}
		}
	})
}

func BenchmarkFlatten(b *testing.B) {
	raw := []byte(teamSubsessionJSON)
	for b.Loop() {
		if _, err := Flatten(raw); err != nil {
			b.Fatal(err)
		}
	}
}
