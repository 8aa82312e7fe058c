package store

import (
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/karthikraju391/agent-dashboard/models"
)

// =============================================================================
// Generators
// =============================================================================

func genCategory(t *rapid.T, label string) models.Category {
	return rapid.SampledFrom(models.Categories).Draw(t, label)
}

// genMessages returns n messages titled by insertion index.
func genMessages(t *rapid.T) []models.Message {
	n := rapid.IntRange(0, 60).Draw(t, "n")
	out := make([]models.Message, n)
	for i := range out {
		out[i] = msg(genCategory(t, fmt.Sprintf("cat_%d", i)), fmt.Sprint(i))
	}
	return out
}

func index(t *rapid.T, m models.Message) int {
	var i int
	if _, err := fmt.Sscanf(m.Title, "%d", &i); err != nil {
		t.Fatalf("bad title %q: %v", m.Title, err)
	}
	return i
}

// =============================================================================
// Properties
// =============================================================================

func TestProperty_RecentBoundedAndOrdered(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		recentCap := rapid.IntRange(1, 30).Draw(rt, "recentCap")
		s := New(Options{RecentCap: recentCap})
		msgs := genMessages(rt)
		for _, m := range msgs {
			s.Append(m)
		}

		limit := rapid.IntRange(-5, 80).Draw(rt, "limit")
		got := s.Recent(limit)

		want := limit
		if want < 0 {
			want = 0
		}
		want = min(want, recentCap, len(msgs))
		if len(got) != want {
			rt.Fatalf("Recent(%d) returned %d, want %d", limit, len(got), want)
		}
		for i, m := range got {
			if index(rt, m) != len(msgs)-1-i {
				rt.Fatalf("position %d holds %q, want %d", i, m.Title, len(msgs)-1-i)
			}
		}
	})
}

func TestProperty_CategoryCapEvictsOldestFirst(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		catCap := rapid.IntRange(1, 10).Draw(rt, "categoryCap")
		s := New(Options{CategoryCap: catCap})
		msgs := genMessages(rt)

		byCat := make(map[models.Category][]int)
		for i, m := range msgs {
			s.Append(m)
			byCat[m.Category] = append(byCat[m.Category], i)
		}

		for _, c := range models.Categories {
			got := s.ByCategory(c, 1000)
			if len(got) > catCap {
				rt.Fatalf("%s holds %d messages, cap %d", c, len(got), catCap)
			}
			all := byCat[c]
			keep := all[max(0, len(all)-catCap):]
			if len(got) != len(keep) {
				rt.Fatalf("%s holds %d, want %d", c, len(got), len(keep))
			}
			for i, m := range got {
				if index(rt, m) != keep[len(keep)-1-i] {
					rt.Fatalf("%s position %d holds %q, want %d", c, i, m.Title, keep[len(keep)-1-i])
				}
			}
		}
	})
}

func TestProperty_ExpiredAlertsNeverActive(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New(Options{})
		n := rapid.IntRange(1, 40).Draw(rt, "n")
		for i := 0; i < n; i++ {
			var expires *time.Time
			if rapid.Bool().Draw(rt, fmt.Sprintf("expires_%d", i)) {
				e := base.Add(time.Duration(rapid.IntRange(1, 120).Draw(rt, fmt.Sprintf("minutes_%d", i))) * time.Minute)
				expires = &e
			}
			s.Append(alert(fmt.Sprint(i), expires))
		}

		now := base.Add(time.Duration(rapid.IntRange(0, 150).Draw(rt, "nowMinutes")) * time.Minute)
		for _, a := range s.ActiveAlerts(now) {
			if a.Alert.ExpiresAt != nil && !a.Alert.ExpiresAt.After(now) {
				rt.Fatalf("alert %q expired at %v is active at %v", a.Title, a.Alert.ExpiresAt, now)
			}
		}
	})
}

func TestProperty_PassRate(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		s := New(Options{})
		passes := rapid.IntRange(0, 20).Draw(rt, "passes")
		fails := rapid.IntRange(0, 20).Draw(rt, "fails")
		if passes+fails == 0 {
			fails = 1
		}
		for i := 0; i < passes; i++ {
			s.Append(compliance("d", rapid.SampledFrom([]string{"passed", "compliant"}).Draw(rt, fmt.Sprintf("p_%d", i))))
		}
		for i := 0; i < fails; i++ {
			s.Append(compliance("d", rapid.SampledFrom([]string{"failed", "non_compliant"}).Draw(rt, fmt.Sprintf("f_%d", i))))
		}

		st := s.ComplianceSummary()["d"]
		total := passes + fails
		if st.Total != total || st.Passed != passes || st.Failed != fails {
			rt.Fatalf("stats = %+v, want passed=%d failed=%d", st, passes, fails)
		}
		if st.PassRate != float64(passes)/float64(total) {
			rt.Fatalf("pass rate = %v, want %v", st.PassRate, float64(passes)/float64(total))
		}
	})
}
