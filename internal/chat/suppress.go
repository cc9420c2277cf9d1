package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"carpilot-backend/internal/models"
)

// Vocabulary and patterns for the voice-channel suppression heuristics.
// These are deliberately permissive on the question side: treating a
// non-question as a question only prevents suppression, which is safe.
var (
	mustAnswerWords = []string{"特斯拉", "马斯克", "FSD"}

	questionWords = []string{
		"什么", "哪里", "哪儿", "谁", "为什么", "怎么",
		"怎么样", "何时", "多少", "多", "哪", "是否",
	}

	questionPrefixRe = regexp.MustCompile(
		`^(是不是|可不可以|能不能|要不要|需不需要|有没有|行不行|中不中|好不好)`)

	navigationVerbRe = regexp.MustCompile(
		`(左转|右转|直行|掉头|靠左|靠右|进入|驶入|通过|沿|上高架|下高架|走右侧两车道|路口|环岛|高架|方向)`)

	navigationKeywords = []string{"前方", "左转", "右转", "直行", "路口", "高架", "转道"}

	distanceRe = regexp.MustCompile(`\d{1,4}\s*(米|公里)`)
)

// MustAnswer reports whether the text mentions a term the assistant is
// never allowed to stay silent on. Overrides every suppression rule.
func MustAnswer(text string) bool {
	for _, w := range mustAnswerWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// IsQuestion reports whether a short utterance reads as a question.
func IsQuestion(text string) bool {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > 60 {
		return false
	}

	for _, w := range questionWords {
		if strings.HasPrefix(text, w) {
			return true
		}
	}
	if questionPrefixRe.MatchString(text) {
		return true
	}
	if strings.HasSuffix(text, "吗") {
		return true
	}
	for _, w := range questionWords {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// IsNavigationBroadcast reports whether the text looks like a live
// navigation announcement leaking in from the car's ASR feed. A full-width
// question mark disqualifies immediately: the driver is asking, not the nav.
func IsNavigationBroadcast(text string) bool {
	if strings.Contains(text, "？") {
		return false
	}

	if navigationVerbRe.MatchString(text) {
		return true
	}

	count := 0
	for _, kw := range navigationKeywords {
		if strings.Contains(text, kw) {
			count++
		}
	}
	hasDistance := distanceRe.MatchString(text)
	return count >= 2 || (count >= 1 && hasDistance)
}

// ShouldSuppress decides whether a classified, non-command input gets an
// intentionally empty stream instead of an answer. Callers apply this only
// on the filtered channel (v2 + channel1).
func ShouldSuppress(text string, intent models.Intent) bool {
	if MustAnswer(text) {
		return false
	}
	return IsNavigationBroadcast(text) ||
		(intent == models.IntentNothing && !IsQuestion(text)) ||
		(intent == models.IntentNews && utf8.RuneCountInString(text) > 25)
}
