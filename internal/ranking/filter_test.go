package ranking

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/lvonguyen/threatlens/internal/threat"
)

func rec(source string, auth threat.Authority, title string) threat.Record {
	return threat.Record{
		Source:    source,
		Authority: auth,
		Title:     title,
		CVEID:     threat.NoCVE,
		Severity:  threat.SeverityUnknown,
	}
}

// =============================================================================
// Relevance Scorer Tests
// =============================================================================

// TestRelevance_Heuristic verifies each component of the keyword formula.
func TestRelevance_Heuristic(t *testing.T) {
	s := NewRelevanceScorer(DefaultWeights())

	tests := []struct {
		name string
		r    threat.Record
		want float64
	}{
		{
			name: "exact match in title, both keywords in title, official",
			r:    rec("CISA KEV", threat.AuthorityOfficial, "Apache Tomcat RCE"),
			want: 1.0, // 0.5 + 0.3 + 0.3 + 0.2 clamped
		},
		{
			name: "keywords split across title and description, community",
			r: threat.Record{Source: "HackerOne", Authority: threat.AuthorityCommunity,
				Title: "Tomcat bug", Description: "affects apache servers"},
			want: 0.45, // 0.3 + 0.15
		},
		{
			name: "no match, verified",
			r:    rec("Snyk", threat.AuthorityVerified, "lodash prototype pollution"),
			want: 0.1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Heuristic(tt.r, "Apache Tomcat")
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Heuristic = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestRelevance_ShortWordsIgnored verifies words of two characters or fewer
// are not keywords.
func TestRelevance_ShortWordsIgnored(t *testing.T) {
	s := NewRelevanceScorer(DefaultWeights())
	r := rec("HackerOne", threat.AuthorityCommunity, "an io of it")

	if got := s.Heuristic(r, "io it"); got != 0 {
		t.Errorf("expected 0 for short words, got %v", got)
	}
}

// TestRelevance_FilterProperties verifies every kept record scores at least
// 0.4 and NVD records with a CVE score exactly 0.8.
func TestRelevance_FilterProperties(t *testing.T) {
	s := NewRelevanceScorer(DefaultWeights())

	nvd := rec("NVD", threat.AuthorityOfficial, "Unrelated kernel bug")
	nvd.CVEID = "CVE-2024-1111"
	nvdNoCVE := rec("NVD", threat.AuthorityOfficial, "Unrelated kernel bug")

	records := []threat.Record{
		nvd,
		nvdNoCVE,
		rec("Rapid7", threat.AuthorityVerified, "Apache Tomcat exploit"),
		rec("Reddit NetSec", threat.AuthorityCommunity, "weekly thread"),
	}

	kept := s.Filter(records, "Apache Tomcat")

	if len(kept) != 2 {
		t.Fatalf("expected 2 kept records, got %d", len(kept))
	}
	for _, r := range kept {
		if r.RelevanceScore < 0.4 {
			t.Errorf("%s kept with relevance %v", r.Source, r.RelevanceScore)
		}
	}
	if kept[0].Source != "NVD" || kept[0].RelevanceScore != 0.8 {
		t.Errorf("expected NVD with fixed 0.8, got %s %v", kept[0].Source, kept[0].RelevanceScore)
	}
	if records[0].RelevanceScore != 0 {
		t.Error("Filter must not modify its input")
	}
}

// =============================================================================
// Deduplicator Tests
// =============================================================================

// TestDedup_CVECollapse verifies three records of one CVE collapse into one,
// at the first occurrence's position.
func TestDedup_CVECollapse(t *testing.T) {
	mk := func(source string, auth threat.Authority, id string, cvss float64) threat.Record {
		r := rec(source, auth, source+" advisory")
		r.CVEID = id
		r.CVSSScore = cvss
		return r
	}

	records := []threat.Record{
		mk("NVD", threat.AuthorityOfficial, "CVE-2024-1111", 7.5),
		mk("Other", threat.AuthorityVerified, "CVE-2024-2222", 5.0),
		mk("Rapid7", threat.AuthorityVerified, "cve-2024-1111", 9.8),
		mk("Reddit NetSec", threat.AuthorityCommunity, "CVE-2024-1111", 9.8),
	}

	t.Run("deterministic", func(t *testing.T) {
		out := NewDeduplicator(DefaultWeights()).Dedup(records)
		if len(out) != 2 {
			t.Fatalf("expected 2 records, got %d", len(out))
		}
		if out[0].Source != "Rapid7" {
			t.Errorf("highest CVSS then authority should win, got %s", out[0].Source)
		}
		if out[1].CVEID != "CVE-2024-2222" {
			t.Errorf("second slot should hold CVE-2024-2222, got %s", out[1].CVEID)
		}
	})

	t.Run("first_seen", func(t *testing.T) {
		w := DefaultWeights()
		w.DedupPolicy = DedupFirstSeen
		out := NewDeduplicator(w).Dedup(records)
		if len(out) != 2 || out[0].Source != "NVD" {
			t.Errorf("first record should win, got %+v", out)
		}
	})
}

// TestDedup_TitlePrefix verifies records without CVE ids are keyed by a
// case-insensitive 50-rune title prefix.
func TestDedup_TitlePrefix(t *testing.T) {
	base := "Apache Tomcat partial PUT remote code execution via session persistence"
	records := []threat.Record{
		rec("Packet Storm", threat.AuthorityVerified, base+" (part 1)"),
		rec("Full Disclosure", threat.AuthorityCommunity, "APACHE TOMCAT PARTIAL PUT REMOTE CODE EXECUTION VIA SESSION"),
		rec("Vulners", threat.AuthorityVerified, "Something else entirely"),
	}

	out := NewDeduplicator(DefaultWeights()).Dedup(records)
	if len(out) != 2 {
		t.Errorf("expected 2 records after title dedup, got %d", len(out))
	}
}

// TestDedup_Idempotent verifies Dedup(Dedup(x)) == Dedup(x).
func TestDedup_Idempotent(t *testing.T) {
	var records []threat.Record
	for i := 0; i < 30; i++ {
		r := rec(fmt.Sprintf("src-%d", i%4), threat.Authority([]string{"OFFICIAL", "VERIFIED", "COMMUNITY"}[i%3]),
			fmt.Sprintf("title %d", i%7))
		if i%2 == 0 {
			r.CVEID = fmt.Sprintf("CVE-2024-%04d", 1000+i%5)
		}
		r.CVSSScore = float64(i % 10)
		records = append(records, r)
	}

	for _, policy := range []DedupPolicy{DedupFirstSeen, DedupDeterministic} {
		w := DefaultWeights()
		w.DedupPolicy = policy
		d := NewDeduplicator(w)

		once := d.Dedup(records)
		twice := d.Dedup(once)
		if !reflect.DeepEqual(once, twice) {
			t.Errorf("%s: dedup is not idempotent", policy)
		}
	}
}

// =============================================================================
// Retention Selector Tests
// =============================================================================

// TestRetention_Tiers verifies official records are always kept and the
// verified and community caps apply.
func TestRetention_Tiers(t *testing.T) {
	w := DefaultWeights()
	w.Retention.RankingInput = 100

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var records []threat.Record
	for i := 0; i < 2; i++ {
		records = append(records, rec("NVD", threat.AuthorityOfficial, fmt.Sprintf("official %d", i)))
	}
	for i := 0; i < 7; i++ {
		r := rec("Snyk", threat.AuthorityVerified, fmt.Sprintf("verified %d", i))
		r.Severity = threat.SeverityMedium
		if i == 6 {
			r.Severity = threat.SeverityCritical
		}
		records = append(records, r)
	}
	for i := 0; i < 5; i++ {
		r := rec("HackerOne", threat.AuthorityCommunity, fmt.Sprintf("community %d", i))
		r.PublishedDate = now.AddDate(0, 0, -i)
		r.Severity = threat.SeverityLow
		records = append(records, r)
	}

	kept := NewRetentionSelector(w).Select(records)

	counts := map[threat.Authority]int{}
	titles := map[string]bool{}
	for _, r := range kept {
		counts[r.Authority]++
		titles[r.Title] = true
	}

	if counts[threat.AuthorityOfficial] != 2 {
		t.Errorf("expected both official records, got %d", counts[threat.AuthorityOfficial])
	}
	if counts[threat.AuthorityVerified] != 5 {
		t.Errorf("expected 5 verified records, got %d", counts[threat.AuthorityVerified])
	}
	if counts[threat.AuthorityCommunity] != 3 {
		t.Errorf("expected 3 community records, got %d", counts[threat.AuthorityCommunity])
	}
	if !titles["verified 6"] {
		t.Error("the critical verified record should be retained first")
	}
	if !titles["community 0"] || titles["community 4"] {
		t.Error("community records should be retained newest first")
	}
}

// TestRetention_HighSeverityTopUp verifies remaining CRITICAL/HIGH records
// fill up to the overall cap.
func TestRetention_HighSeverityTopUp(t *testing.T) {
	w := DefaultWeights()
	w.Retention.RankingInput = 100

	var records []threat.Record
	for i := 0; i < 10; i++ {
		r := rec("Tenable", threat.AuthorityVerified, fmt.Sprintf("verified %d", i))
		r.Severity = threat.SeverityHigh
		records = append(records, r)
	}

	kept := NewRetentionSelector(w).Select(records)
	if len(kept) != 10 {
		t.Errorf("high-severity records beyond the verified cap should be topped up, got %d", len(kept))
	}

	w.Retention.OverallCap = 7
	kept = NewRetentionSelector(w).Select(records)
	if len(kept) != 7 {
		t.Errorf("expected overall cap 7, got %d", len(kept))
	}
}

// TestRetention_OrderAndTruncate verifies the final ordering and the cut to
// the ranking input size.
func TestRetention_OrderAndTruncate(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var records []threat.Record
	for i := 0; i < 10; i++ {
		r := rec("NVD", threat.AuthorityOfficial, fmt.Sprintf("official %d", i))
		r.PublishedDate = now.AddDate(0, 0, -10+i)
		records = append(records, r)
	}
	undated := rec("NVD", threat.AuthorityOfficial, "undated")
	records = append([]threat.Record{undated}, records...)

	kept := NewRetentionSelector(DefaultWeights()).Select(records)

	if len(kept) != 8 {
		t.Fatalf("expected 8 records, got %d", len(kept))
	}
	if kept[0].Title != "official 9" {
		t.Errorf("newest record should be first, got %q", kept[0].Title)
	}
	for _, r := range kept {
		if r.Title == "undated" {
			t.Error("undated record should sort oldest and be cut")
		}
	}
	for i := 1; i < len(kept); i++ {
		if kept[i].PublishedDate.After(kept[i-1].PublishedDate) {
			t.Errorf("records not ordered newest first at %d", i)
		}
	}
}

// TestRetention_TieBreaks verifies relevance, then authority, then severity
// break date ties.
func TestRetention_TieBreaks(t *testing.T) {
	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	a := rec("Snyk", threat.AuthorityVerified, "a")
	a.RelevanceScore = 0.5
	a.Severity = threat.SeverityCritical
	b := rec("NVD", threat.AuthorityOfficial, "b")
	b.RelevanceScore = 0.9
	c := rec("CERT/CC", threat.AuthorityOfficial, "c")
	c.RelevanceScore = 0.5
	c.Severity = threat.SeverityLow
	for _, r := range []*threat.Record{&a, &b, &c} {
		r.PublishedDate = day
	}

	kept := NewRetentionSelector(DefaultWeights()).Select([]threat.Record{a, b, c})

	got := []string{kept[0].Title, kept[1].Title, kept[2].Title}
	want := []string{"b", "c", "a"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}
