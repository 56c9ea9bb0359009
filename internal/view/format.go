package view

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var sanitizer = bluemonday.StrictPolicy()

// Sanitize はユーザー入力からマークアップと制御文字を取り除きます
func Sanitize(s string) string {
	clean := html.UnescapeString(sanitizer.Sanitize(s))
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, clean)
}

// FormatTime はメッセージの時刻を相対的な表記にします
//
//	1分未満       Just now
//	1時間未満     5m ago
//	今日          15:04
//	1週間以内     Mon
//	それ以前      Jan 2
func FormatTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.In(now.Location())
	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "Just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	}

	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("15:04")
	}
	if diff < 7*24*time.Hour {
		return t.Format("Mon")
	}
	return t.Format("Jan 2")
}

// Truncate は s を最大 n 文字（rune 単位）に切り詰めます
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
