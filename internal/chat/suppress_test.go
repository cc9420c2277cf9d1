package chat

import (
	"strings"
	"testing"

	"carpilot-backend/internal/models"
)

func TestMustAnswer(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{"brand name", "特斯拉今天股价怎么样", true},
		{"person name", "马斯克又发推了", true},
		{"product acronym", "帮我打开FSD", true},
		{"plain chat", "今天天气不错", false},
		{"empty", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := MustAnswer(tc.text); got != tc.expected {
				t.Errorf("MustAnswer(%q) = %v, expected %v", tc.text, got, tc.expected)
			}
		})
	}
}

func TestMustAnswerOverridesSuppression(t *testing.T) {
	// Any override term defeats every suppression rule, regardless of
	// intent or navigation patterns.
	texts := []string{
		"前方200米右转,特斯拉充电站就在那里",
		"马斯克说前方路口直行",
	}
	intents := []models.Intent{models.IntentNothing, models.IntentNews, models.IntentNavigation}

	for _, text := range texts {
		for _, intent := range intents {
			if ShouldSuppress(text, intent) {
				t.Errorf("ShouldSuppress(%q, %s) = true, override vocabulary must win", text, intent)
			}
		}
	}
}

func TestIsQuestion(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{"interrogative prefix", "什么时候到家", true},
		{"interrogative inside", "今天的天气怎么样", true},
		{"a-not-a prefix", "是不是该充电了", true},
		{"a-not-a can", "能不能打开车窗", true},
		{"final particle", "到了吗", true},
		{"statement", "我到家了", false},
		{"long text rejected", strings.Repeat("什么", 31), false},
		{"sixty rune question kept", strings.Repeat("啊", 59) + "吗", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsQuestion(tc.text); got != tc.expected {
				t.Errorf("IsQuestion(%q) = %v, expected %v", tc.text, got, tc.expected)
			}
		})
	}
}

func TestIsNavigationBroadcast(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected bool
	}{
		{"directional verb", "前方200米右转进入高架", true},
		{"roundabout", "进入环岛后走第二出口", true},
		{"two keywords", "前方路口注意减速", true},
		{"keyword plus distance", "前方 500 米有测速", true},
		{"question mark disqualifies", "前方200米右转进入高架？", false},
		{"single keyword no distance", "前方有情况", false},
		{"plain chat", "帮我放首歌", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNavigationBroadcast(tc.text); got != tc.expected {
				t.Errorf("IsNavigationBroadcast(%q) = %v, expected %v", tc.text, got, tc.expected)
			}
		})
	}
}

func TestShouldSuppress(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		intent   models.Intent
		expected bool
	}{
		{"navigation broadcast any intent", "前方200米右转进入高架", models.IntentNavigation, true},
		{"nothing non-question", "嗯嗯那个就这样", models.IntentNothing, true},
		{"nothing but question", "能不能打开车窗", models.IntentNothing, false},
		{"long news snippet", "今日要闻国际油价再次大幅上涨创下了三个月以来的新高", models.IntentNews, true},
		{"short news kept", "今天有什么新闻", models.IntentNews, false},
		{"plain chat kept", "给我讲个笑话", models.IntentChat, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ShouldSuppress(tc.text, tc.intent); got != tc.expected {
				t.Errorf("ShouldSuppress(%q, %s) = %v, expected %v", tc.text, tc.intent, got, tc.expected)
			}
		})
	}
}

func TestShouldSuppressNewsLengthBoundary(t *testing.T) {
	// The NEWS rule counts runes, not bytes: exactly 25 runes is kept.
	text25 := strings.Repeat("闻", 25)
	if ShouldSuppress(text25, models.IntentNews) {
		t.Errorf("25-rune NEWS input should not be suppressed")
	}
	text26 := strings.Repeat("闻", 26)
	if !ShouldSuppress(text26, models.IntentNews) {
		t.Errorf("26-rune NEWS input should be suppressed")
	}
}
