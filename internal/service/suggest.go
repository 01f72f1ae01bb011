package service

import (
	"errors"
	"strings"
	"sync"
	"unicode"
)

// Reserved vocabulary categories.
const (
	CategorySubscribe   = "sub"
	CategoryUnsubscribe = "unsub"
	CategoryShow        = "show"
	CategoryExit        = "exit"
)

// Direction moves the navigation cursor through a category's actions.
type Direction int

const (
	Next     Direction = 1
	Previous Direction = -1
)

var ErrInvalidDirection = errors.New("direction must be next or prev")

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "next", "down":
		return Next, nil
	case "prev", "previous", "up":
		return Previous, nil
	}
	return 0, ErrInvalidDirection
}

// SuggestService holds the command vocabulary: ordered categories, each with
// an ordered list of unique lower-case actions. The unsub category instead
// lists the ad-hoc subscriptions verbatim.
type SuggestService struct {
	mu      sync.RWMutex
	base    []string
	order   []string
	actions map[string][]string
}

// NewSuggestService seeds the reserved categories and the group topic.
// Every category added later starts from a copy of baseActions.
func NewSuggestService(baseActions []string, groupTopic string) *SuggestService {
	s := &SuggestService{actions: make(map[string][]string)}
	for _, a := range baseActions {
		s.base = appendUnique(s.base, strings.ToLower(strings.TrimSpace(a)))
	}

	s.addLocked(CategorySubscribe, nil)
	s.addLocked(CategoryUnsubscribe, nil)
	s.addLocked(CategoryShow, []string{"sub"})
	s.addLocked(CategoryExit, nil)
	if groupTopic != "" {
		s.addLocked(groupTopic, s.base)
	}
	return s
}

// AddCategory registers name with a snapshot of the base actions. Existing
// categories are left untouched.
func (s *SuggestService) AddCategory(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(name, s.base)
}

// AddAction teaches one category a new action, creating the category if needed.
func (s *SuggestService) AddAction(category, action string) {
	action = strings.ToLower(strings.TrimSpace(action))
	if category == "" || action == "" || category == CategoryUnsubscribe {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addLocked(category, s.base)
	s.actions[category] = appendUnique(s.actions[category], action)
}

func (s *SuggestService) AddAdHocTopic(topic string) {
	if topic == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[CategoryUnsubscribe] = appendUnique(s.actions[CategoryUnsubscribe], topic)
}

// RemoveAdHocTopic removes the first exact match and reports whether one existed.
func (s *SuggestService) RemoveAdHocTopic(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.actions[CategoryUnsubscribe]
	for i, t := range list {
		if t == topic {
			s.actions[CategoryUnsubscribe] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *SuggestService) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

func (s *SuggestService) Actions(category string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.actions[category]...)
}

func (s *SuggestService) AdHocTopics() []string {
	return s.Actions(CategoryUnsubscribe)
}

// Suggest completes text. A head that is not a category completes to the
// first category with that prefix; a known head with a tail completes the
// tail against the head's actions. No suggestion is made for more than two
// tokens.
func (s *SuggestService) Suggest(text string) (string, bool) {
	in, ok := splitInput(text)
	if !ok {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.suggestLocked(in)
}

// Navigate steps the action in text to the next or previous one of its
// category, wrapping at both ends. Text it cannot navigate falls back to
// Suggest, or is returned unchanged.
func (s *SuggestService) Navigate(text string, dir Direction) string {
	in, ok := splitInput(text)
	if !ok {
		return text
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if in.head == "" {
		if len(s.order) == 0 {
			return text
		}
		return s.order[0]
	}

	actions, known := s.actions[in.head]
	if known && !in.hasTail {
		return in.head
	}
	if known {
		if i := indexFold(actions, in.tail); i >= 0 {
			n := len(actions)
			j := ((i+int(dir))%n + n) % n
			return in.head + " " + actions[j]
		}
	}
	if out, ok := s.suggestLocked(in); ok {
		return out
	}
	return text
}

func (s *SuggestService) suggestLocked(in input) (string, bool) {
	actions, known := s.actions[in.head]
	if !known {
		for _, c := range s.order {
			if strings.HasPrefix(c, in.head) {
				return c, true
			}
		}
		return "", false
	}
	if !in.hasTail {
		return in.head, true
	}
	tail := strings.ToLower(in.tail)
	for _, a := range actions {
		if strings.HasPrefix(strings.ToLower(a), tail) {
			return in.head + " " + a, true
		}
	}
	return in.head, true
}

func (s *SuggestService) addLocked(name string, actions []string) {
	if _, ok := s.actions[name]; ok {
		return
	}
	s.order = append(s.order, name)
	s.actions[name] = append([]string(nil), actions...)
}

type input struct {
	head    string
	tail    string
	hasTail bool
}

// splitInput parses text into at most two tokens. A head followed by
// whitespace has an empty tail.
func splitInput(text string) (input, bool) {
	fields := strings.Fields(text)
	switch len(fields) {
	case 0:
		return input{}, true
	case 1:
		trailing := strings.TrimRightFunc(text, unicode.IsSpace) != text
		return input{head: fields[0], hasTail: trailing}, true
	case 2:
		return input{head: fields[0], tail: fields[1], hasTail: true}, true
	default:
		return input{}, false
	}
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func indexFold(list []string, v string) int {
	for i, x := range list {
		if strings.EqualFold(x, v) {
			return i
		}
	}
	return -1
}
