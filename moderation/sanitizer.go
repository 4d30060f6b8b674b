package moderation

import (
	"bufio"
	"embed"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/abadojack/whatlanggo"
)

//go:embed censored/*
var censoredFolder embed.FS

// Sanitizer is the moderation pass every message goes through before
// persistence: censor forbidden words and detect the content language.
type Sanitizer struct {
	moderator Moderator
	log       *slog.Logger
}

func NewSanitizer(charReplacement rune, log *slog.Logger) (*Sanitizer, error) {
	words, err := loadCensoredWords()
	if err != nil {
		return nil, err
	}
	log.Info("Censored words loaded", "count", len(words))

	moderator, err := NewModerator(words, charReplacement)
	if err != nil {
		return nil, err
	}
	return &Sanitizer{moderator: moderator, log: log}, nil
}

// Sanitize returns the censored content and its ISO 639-1 language code.
func (s *Sanitizer) Sanitize(content string) (string, string) {
	info := whatlanggo.Detect(content)
	langCode := info.Lang.Iso6391()

	sanitized, found := s.moderator.Censor(content)
	if len(found) > 0 {
		s.log.Warn("Message censored", "lang", langCode, "words", len(found))
	}
	return sanitized, langCode
}

// loadCensoredWords reads every word list under censored/, one word per
// line, ignoring blanks and # comments.
func loadCensoredWords() ([]string, error) {
	seen := make(map[string]struct{})
	var words []string

	err := fs.WalkDir(censoredFolder, "censored", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		file, err := censoredFolder.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			word := strings.TrimSpace(scanner.Text())
			if word == "" || strings.HasPrefix(word, "#") {
				continue
			}
			if _, ok := seen[word]; ok {
				continue
			}
			seen[word] = struct{}{}
			words = append(words, word)
		}
		return scanner.Err()
	})
	return words, err
}
