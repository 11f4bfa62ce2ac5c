package services_test

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap/zaptest"

	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/testutil"
)

func TestTrackCutsLongFieldsOnRuneBoundary(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	ua := strings.Repeat("a", 511) + "é"
	landing := "https://salon.example.test/?q=" + strings.Repeat("ü", 1100)
	click, err := env.Clicks.Track(ctx, services.ClickRequest{RefCode: "abc", UserAgent: ua, LandingURL: landing}, "10.0.0.1", "")
	if err != nil {
		t.Fatal(err)
	}

	var stored models.ReferralClick
	if err := env.DB.First(&stored, "id = ?", click.ID).Error; err != nil {
		t.Fatal(err)
	}
	if !utf8.ValidString(stored.UserAgent) || stored.UserAgent != strings.Repeat("a", 511) {
		t.Fatalf("user agent cut mid-rune: len=%d valid=%v", len(stored.UserAgent), utf8.ValidString(stored.UserAgent))
	}
	if !utf8.ValidString(stored.LandingURL) || len(stored.LandingURL) > 2048 || len(stored.LandingURL) < 2047 {
		t.Fatalf("landing url: len=%d valid=%v", len(stored.LandingURL), utf8.ValidString(stored.LandingURL))
	}

	short := "Mozilla/5.0 ☂"
	click, err = env.Clicks.Track(ctx, services.ClickRequest{RefCode: "abc", UserAgent: short}, "10.0.0.1", "")
	if err != nil || click.UserAgent != short {
		t.Fatalf("short values are kept as is: %q %v", click.UserAgent, err)
	}
}

func TestClickServiceNodeID(t *testing.T) {
	db := testutil.NewDB(t)
	log := zaptest.NewLogger(t)

	if _, err := services.NewClickService(db, "salt", 1024, log); err == nil {
		t.Fatal("node ids above 1023 should be rejected")
	}

	a, err := services.NewClickService(db, "salt", 3, log)
	if err != nil {
		t.Fatal(err)
	}
	b, err := services.NewClickService(db, "salt", 4, log)
	if err != nil {
		t.Fatal(err)
	}
	for svc, want := range map[*services.ClickService]int64{a: 3, b: 4} {
		click, err := svc.Track(context.Background(), services.ClickRequest{RefCode: "abc"}, "", "")
		if err != nil {
			t.Fatal(err)
		}
		id, err := snowflake.ParseString(click.ID)
		if err != nil {
			t.Fatal(err)
		}
		if id.Node() != want {
			t.Fatalf("click id %s from node %d, want %d", click.ID, id.Node(), want)
		}
	}
}
