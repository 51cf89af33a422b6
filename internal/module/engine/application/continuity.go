package application

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	jobdomain "github.com/jinford/novelforge/internal/module/job/domain"
)

// CountWords は本文の語数を数えます
// 空白区切りの語に加え、かな・漢字は1文字を1語として数えます
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana):
			count++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		case r == '\'' || r == '-':
			// 語中の記号は語を区切らない
		default:
			inWord = false
		}
	}
	return count
}

// checkContinuity は生成済みの章に簡易な継続性チェックを行い、アラートを追加します
func (s *session) checkContinuity(ch jobdomain.Chapter, targetWords int) {
	number := ch.Number

	if ch.WordCount < targetWords/2 {
		s.gc.Alerts = append(s.gc.Alerts, jobdomain.ContinuityAlert{
			AlertID:   uuid.NewString(),
			Severity:  jobdomain.AlertSeverityInfo,
			Message:   fmt.Sprintf("chapter %d is much shorter than the target length", ch.Number),
			Chapter:   &number,
			Context:   map[string]any{"wordCount": ch.WordCount, "target": targetWords},
			CreatedAt: s.now(),
		})
	}

	names := s.characterNames()
	if len(names) == 0 {
		return
	}
	for _, name := range names {
		if strings.Contains(ch.Content, name) {
			return
		}
	}
	s.gc.Alerts = append(s.gc.Alerts, jobdomain.ContinuityAlert{
		AlertID:   uuid.NewString(),
		Severity:  jobdomain.AlertSeverityWarning,
		Message:   fmt.Sprintf("no known character appears in chapter %d", ch.Number),
		Chapter:   &number,
		Context:   map[string]any{"characters": names},
		CreatedAt: s.now(),
	})
}
