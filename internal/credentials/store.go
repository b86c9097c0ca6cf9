// Package credentials loads the username:secret file that backs login
// verification. The store is read-only once loaded.
package credentials

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const separator = ":"

// ErrSourceMissing is returned alongside an empty store when the credential
// file does not exist. Callers treat it as a warning, not a startup failure.
var ErrSourceMissing = errors.New("credential source not found")

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// Store maps usernames to secrets.
type Store struct {
	secrets map[string]string
}

// Load reads the credential file at path. A missing file yields an empty
// store together with ErrSourceMissing; any other I/O error is returned as-is.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Parse(strings.NewReader("")), fmt.Errorf("%w: %s", ErrSourceMissing, path)
		}
		return nil, fmt.Errorf("open credential file %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat credential file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("credential file %s is a directory", path)
	}

	return Parse(f), nil
}

// Parse builds a store from the line-oriented name:secret format. Lines that
// are blank, lack the separator or have an empty name are skipped; the last
// occurrence of a repeated name wins. Parse never fails: a read error simply
// ends the scan with whatever was collected so far.
func Parse(r io.Reader) *Store {
	s := &Store{secrets: make(map[string]string)}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, secret, ok := strings.Cut(line, separator)
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		s.secrets[name] = strings.TrimSpace(secret)
	}

	return s
}

// Verify reports whether secret matches the stored secret for username.
// Stored bcrypt hashes are compared with bcrypt, plain secrets in constant time.
func (s *Store) Verify(username, secret string) bool {
	if s == nil {
		return false
	}
	stored, ok := s.secrets[username]
	if !ok {
		return false
	}

	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
}

// Len returns the number of known users.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.secrets)
}

// Usernames returns the known usernames in lexical order.
func (s *Store) Usernames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func isBcryptHash(secret string) bool {
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(secret, prefix) {
			return true
		}
	}
	return false
}
