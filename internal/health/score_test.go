package health

import (
	"testing"
	"time"

	"github.com/signalmesh/fleetwatch/internal/feature"
	"github.com/signalmesh/fleetwatch/pkg/models"
)

func TestScore_HealthyDeviceIsPerfect(t *testing.T) {
	f := feature.Map{
		feature.RSSIMean:    -55,
		feature.RSSIStd:     1,
		feature.RTMean:      100,
		feature.RTTrend:     0,
		feature.UptimeRatio: 1.0,
		feature.TempMax:     60,
	}
	res := Score(f, time.Now())
	if res.Score != 100 {
		t.Fatalf("Score = %v, want 100", res.Score)
	}
	if res.Risk != models.RiskLow {
		t.Fatalf("Risk = %v, want low", res.Risk)
	}
	if res.PredictedFailure != nil {
		t.Fatalf("PredictedFailure should be nil for a healthy device")
	}
}

func TestScore_ClampsToZero(t *testing.T) {
	f := feature.Map{
		feature.RSSIMean:         -90,
		feature.RSSIStd:          20,
		feature.RTMean:           2000,
		feature.RTTrend:          1,
		feature.UptimeRatio:      0.1,
		feature.DisconnectEvents: 50,
		feature.ErrorRate:        5,
		feature.TempMax:          99,
		feature.PowerTrend:       1,
	}
	res := Score(f, time.Now())
	if res.Score != 0 {
		t.Fatalf("Score = %v, want clamped to 0", res.Score)
	}
	if res.Risk != models.RiskCritical {
		t.Fatalf("Risk = %v, want critical", res.Risk)
	}
}

func TestScore_RiskIsPureFunctionOfScore(t *testing.T) {
	cases := []struct {
		score float64
		want  models.Risk
	}{
		{80, models.RiskLow},
		{79.9, models.RiskMedium},
		{60, models.RiskMedium},
		{59.9, models.RiskHigh},
		{30, models.RiskHigh},
		{29.9, models.RiskCritical},
	}
	for _, c := range cases {
		if got := riskFor(c.score); got != c.want {
			t.Errorf("riskFor(%v) = %v, want %v", c.score, got, c.want)
		}
	}
}

func TestScore_NoPredictionAboveThreshold(t *testing.T) {
	f := feature.Map{feature.RSSIMean: -65, feature.RTTrend: -1}
	res := Score(f, time.Now())
	if res.Score <= 70 {
		t.Fatalf("expected score > 70 for this fixture, got %v", res.Score)
	}
	if res.PredictedFailure != nil {
		t.Fatalf("PredictedFailure should be nil when score > 70")
	}
}

func TestScore_PredictionRequiresNegativeTrend(t *testing.T) {
	f := feature.Map{
		feature.RSSIMean: -90, // -20
		feature.RSSIStd:  20,  // -15
		feature.RTMean:   2000, // -25
		// no negative trend features at all
	}
	res := Score(f, time.Now())
	if res.Score > 70 {
		t.Fatalf("fixture should produce score <= 70, got %v", res.Score)
	}
	if res.PredictedFailure != nil {
		t.Fatalf("PredictedFailure should be nil without a negative trend feature")
	}
}

func TestScore_DegradingDeviceProjectsFailure(t *testing.T) {
	f := feature.Map{
		feature.RSSIMean: -90,
		feature.RSSIStd:  20,
		feature.RTMean:   2000,
		feature.RTTrend:  -1, // negative trend triggers projection
	}
	now := time.Now()
	res := Score(f, now)
	if res.PredictedFailure == nil {
		t.Fatalf("expected a predicted failure date")
	}
	if !res.PredictedFailure.After(now) {
		t.Fatalf("predicted failure should be in the future")
	}
	if res.Confidence <= 0.5 || res.Confidence > 0.9 {
		t.Fatalf("confidence = %v, want in (0.5, 0.9]", res.Confidence)
	}
}

func TestScore_FactorsIncludeExpectedLabels(t *testing.T) {
	f := feature.Map{
		feature.RSSIMean:         -85,
		feature.DisconnectEvents: 3,
		feature.TempMax:          90,
	}
	res := Score(f, time.Now())
	want := []string{"Poor signal strength", "Frequent disconnections", "Temperature concerns"}
	for _, w := range want {
		found := false
		for _, got := range res.Factors {
			if got == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("factors %v missing %q", res.Factors, w)
		}
	}
}
