package services

import (
	"strings"
	"testing"

	"salon-referral-system/models"
)

func TestEmailHTMLEscapesProfileFields(t *testing.T) {
	code := "ANA23456"
	c := models.Customer{
		ID:           "C1",
		GivenName:    `<script>alert("x")</script>`,
		PersonalCode: &code,
		ReferralURL:  `https://salon.example.test/ref/ANA23456?a=1&b="2"`,
	}

	_, text, body := referralCodeEmail(c)
	if strings.Contains(strings.ToLower(body), "<script") {
		t.Fatalf("name not escaped: %s", body)
	}
	if !strings.Contains(body, "&lt;") || !strings.Contains(body, "a=1&amp;b=&#34;2&#34;") {
		t.Fatalf("expected escaped name and link: %s", body)
	}
	if !strings.Contains(strings.ToLower(text), "<script>") {
		t.Fatal("plain text part is not HTML and stays unescaped")
	}

	for _, rewardType := range []models.RewardType{models.RewardTypeFriendSignupBonus, models.RewardTypeReferrerReward} {
		_, _, body := rewardEmail(c, models.GiftCardReward{RewardType: rewardType, AmountCents: 1000, Currency: "USD", GiftCardGAN: "7783"})
		if strings.Contains(strings.ToLower(body), "<script") || !strings.Contains(body, "7783") {
			t.Fatalf("%s reward email: %s", rewardType, body)
		}
	}
}
