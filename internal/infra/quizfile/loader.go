package quizfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"time-attack-quiz/internal/domain"
)

var (
	// ErrInvalidQuiz wraps decoding and validation failures of a question set file.
	ErrInvalidQuiz = errors.New("invalid question set")

	idPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)
	extensions = []string{".json", ".yaml", ".yml"}
)

// Loader reads question sets from a directory. The quiz id is the file name
// without extension. A file holds either a bare list of questions or a quiz
// object with a title and questions.
type Loader struct {
	dir      string
	validate *validator.Validate
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, validate: validator.New()}
}

func (l *Loader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if err := ctx.Err(); err != nil {
		return domain.Quiz{}, err
	}
	if !idPattern.MatchString(quizID) || strings.Contains(quizID, "..") {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	for _, ext := range extensions {
		path := filepath.Join(l.dir, quizID+ext)
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("read %s: %w", path, err)
		}
		quiz, err := Decode(raw, ext)
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("%s: %w", path, err)
		}
		quiz.ID = quizID
		if quiz.Title == "" {
			quiz.Title = quizID
		}
		if err := l.Validate(quiz); err != nil {
			return domain.Quiz{}, fmt.Errorf("%s: %w", path, err)
		}
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

// ListQuizzes returns the ids of every question set file, sorted.
func (l *Loader) ListQuizzes(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read quiz dir: %w", err)
	}
	seen := make(map[string]bool)
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if !supported(ext) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ext)
		if !idPattern.MatchString(id) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Validate checks the question set: every question needs text, at least two
// choices and a correct answer addressing one of them.
func (l *Loader) Validate(quiz domain.Quiz) error {
	if len(quiz.Questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidQuiz)
	}
	if err := l.validate.Struct(quiz); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
	}
	for i, q := range quiz.Questions {
		if q.CorrectAnswer >= len(q.Choices) {
			return fmt.Errorf("%w: question %d: correct answer %d out of range", ErrInvalidQuiz, i, q.CorrectAnswer)
		}
	}
	return nil
}

// Decode parses a question set encoded as JSON or YAML, chosen by ext.
func Decode(raw []byte, ext string) (domain.Quiz, error) {
	var quiz domain.Quiz
	switch strings.ToLower(ext) {
	case ".json":
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &quiz.Questions); err != nil {
				return domain.Quiz{}, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
			}
			return quiz, nil
		}
		if err := json.Unmarshal(trimmed, &quiz); err != nil {
			return domain.Quiz{}, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
		}
	case ".yaml", ".yml":
		var node yaml.Node
		if err := yaml.Unmarshal(raw, &node); err != nil {
			return domain.Quiz{}, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
		}
		if len(node.Content) == 0 {
			return quiz, nil
		}
		if node.Content[0].Kind == yaml.SequenceNode {
			if err := node.Decode(&quiz.Questions); err != nil {
				return domain.Quiz{}, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
			}
			return quiz, nil
		}
		if err := node.Decode(&quiz); err != nil {
			return domain.Quiz{}, fmt.Errorf("%w: %v", ErrInvalidQuiz, err)
		}
	default:
		return domain.Quiz{}, fmt.Errorf("%w: unsupported extension %q", ErrInvalidQuiz, ext)
	}
	return quiz, nil
}

func supported(ext string) bool {
	for _, e := range extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
