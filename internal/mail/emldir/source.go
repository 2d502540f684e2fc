// Package emldir is a mail source over a local directory tree of RFC 5322
// messages: loose .eml files and Maildir folders (cur/ and new/).
package emldir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mailindex/internal/mail"
)

// ErrNotFound is returned by FetchMessage for unknown ids.
var ErrNotFound = errors.New("message not found")

// pathNamespace derives stable ids for messages lacking a Message-ID.
var pathNamespace = uuid.MustParse("4f6d2a1e-8c3b-5d7a-9e0f-1b2c3d4e5f60")

// Source lists and fetches messages under a root directory.
type Source struct {
	root   string
	logger *zap.Logger

	mu    sync.RWMutex
	paths map[string]string // message id -> file path
}

// New returns a Source rooted at dir.
func New(dir string, logger *zap.Logger) (*Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("opening mail directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opening mail directory: %s is not a directory", dir)
	}
	return &Source{root: dir, logger: logger, paths: make(map[string]string)}, nil
}

// Root returns the directory the source reads.
func (s *Source) Root() string { return s.root }

type listed struct {
	id    string
	email *mail.Email
}

// ListMessageIDs walks the tree and returns the ids of messages matching
// query, newest first, capped at max when max > 0. Unparseable files are
// logged and skipped.
func (s *Source) ListMessageIDs(ctx context.Context, query string, max int) ([]string, error) {
	q, err := mail.ParseQuery(query)
	if err != nil {
		return nil, err
	}

	var found []listed
	paths := make(map[string]string)

	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !IsMessageFile(path) {
			return nil
		}

		e, err := s.parseFile(path)
		if err != nil {
			s.logger.Warn("skipping unparseable message", zap.String("path", path), zap.Error(err))
			return nil
		}
		if folder := maildirFolder(s.root, path); folder != "" {
			e.Labels = mail.NormalizeLabels(append(e.Labels, folder))
		}
		if !q.Matches(e) {
			return nil
		}
		if _, dup := paths[e.ID]; dup {
			return nil
		}
		paths[e.ID] = path
		found = append(found, listed{id: e.ID, email: e})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(found, func(i, j int) bool {
		return found[i].email.Date.After(found[j].email.Date)
	})
	if max > 0 && len(found) > max {
		found = found[:max]
	}

	s.mu.Lock()
	for id, p := range paths {
		s.paths[id] = p
	}
	s.mu.Unlock()

	ids := make([]string, len(found))
	for i, f := range found {
		ids[i] = f.id
	}
	s.logger.Debug("listed messages",
		zap.String("root", s.root),
		zap.String("query", query),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// FetchMessage parses the message with the given id. Ids are known after a
// ListMessageIDs call covering them.
func (s *Source) FetchMessage(ctx context.Context, id string) (*mail.Email, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	path, ok := s.paths[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	e, err := s.parseFile(path)
	if err != nil {
		return nil, err
	}
	if folder := maildirFolder(s.root, path); folder != "" {
		e.Labels = mail.NormalizeLabels(append(e.Labels, folder))
	}
	return e, nil
}

func (s *Source) parseFile(path string) (*mail.Email, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	e, err := Parse(f, uuid.NewSHA1(pathNamespace, []byte(filepath.ToSlash(rel))).String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rel, err)
	}
	return e, nil
}

// IsMessageFile reports whether path looks like a message: a .eml file or
// any regular file directly inside a Maildir cur/ or new/ directory.
func IsMessageFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if strings.EqualFold(filepath.Ext(base), ".eml") {
		return true
	}
	switch filepath.Base(filepath.Dir(path)) {
	case "cur", "new":
		return true
	}
	return false
}

// maildirFolder names the Maildir folder holding path, or "" for loose
// files. The root Maildir is INBOX; Maildir++ subfolders drop their leading dot.
func maildirFolder(root, path string) string {
	dir := filepath.Dir(path)
	switch filepath.Base(dir) {
	case "cur", "new":
	default:
		return ""
	}
	folder := filepath.Dir(dir)
	if filepath.Clean(folder) == filepath.Clean(root) {
		return "INBOX"
	}
	return strings.TrimPrefix(filepath.Base(folder), ".")
}
