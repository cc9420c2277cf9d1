package chat

import "testing"

func TestFormatUserInput(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"plain text untouched", "打开车窗", "打开车窗"},
		{"whitespace collapsed", "  打开   车窗  ", "打开 车窗"},
		{"ascii annotation stripped", "[music] 放首歌", "放首歌"},
		{"cjk annotation stripped", "【噪音】到家了", "到家了"},
		{"only annotation", "[noise]", ""},
		{"only punctuation", "。。。！", ""},
		{"empty", "", ""},
		{"exit phrase survives", "退出。", "退出。"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatUserInput(tc.raw); got != tc.expected {
				t.Errorf("FormatUserInput(%q) = %q, expected %q", tc.raw, got, tc.expected)
			}
		})
	}
}
