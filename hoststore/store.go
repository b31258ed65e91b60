package hoststore

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// StoreIOError wraps a failure talking to the backing file: it fails
// the individual operation but the server keeps running, per spec.md
// §7.
type StoreIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("hoststore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreIOError) Unwrap() error { return e.Err }

// Store is a flat-file lease store: one record per line, `;`-separated
// `mac;ip;hostname;last_used`. Empty lines are ignored on read and never
// produced on write. Every mutation is serialized through an exclusive
// file lock (spec.md §4.3).
type Store struct {
	path string
	lock *flock.Flock
}

// Open opens (creating if absent) the host database file at path.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, &StoreIOError{Op: "open", Path: path, Err: err}
	}
	f.Close()
	return &Store{path: path, lock: flock.New(path + ".lock")}, nil
}

// Get returns every host matching pattern. Reads take a shared lock so
// they never observe a half-written file.
func (s *Store) Get(pattern Pattern) ([]Host, error) {
	if err := s.lock.RLock(); err != nil {
		return nil, &StoreIOError{Op: "lock", Path: s.path, Err: err}
	}
	defer s.lock.Unlock()

	hosts, err := s.readAll()
	if err != nil {
		return nil, err
	}
	matches := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if pattern.Matches(h) {
			matches = append(matches, h)
		}
	}
	return matches, nil
}

// Add appends one record. No deduplication: this is how updates happen
// (a later line for the same mac/ip wins on a pattern Get).
func (s *Store) Add(h Host) error {
	if err := s.lock.Lock(); err != nil {
		return &StoreIOError{Op: "lock", Path: s.path, Err: err}
	}
	defer s.lock.Unlock()
	return s.appendLine(h)
}

// Delete rewrites the file excluding every record matching pattern. The
// rewrite is atomic with respect to concurrent readers: it writes to a
// temp file in the same directory and renames it over the original.
func (s *Store) Delete(pattern Pattern) error {
	if err := s.lock.Lock(); err != nil {
		return &StoreIOError{Op: "lock", Path: s.path, Err: err}
	}
	defer s.lock.Unlock()

	hosts, err := s.readAll()
	if err != nil {
		return err
	}
	kept := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if !pattern.Matches(h) {
			kept = append(kept, h)
		}
	}
	return s.rewrite(kept)
}

// Replace deletes any record with h's (MAC, IP) identity, then adds h.
func (s *Store) Replace(h Host) error {
	if err := s.lock.Lock(); err != nil {
		return &StoreIOError{Op: "lock", Path: s.path, Err: err}
	}
	defer s.lock.Unlock()

	hosts, err := s.readAll()
	if err != nil {
		return err
	}
	identity := ByMACAndIP(h.MAC, h.IP)
	kept := make([]Host, 0, len(hosts)+1)
	for _, existing := range hosts {
		if !identity.Matches(existing) {
			kept = append(kept, existing)
		}
	}
	kept = append(kept, h)
	return s.rewrite(kept)
}

func (s *Store) readAll() ([]Host, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, &StoreIOError{Op: "read", Path: s.path, Err: err}
	}
	defer f.Close()

	var hosts []Host
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		h, err := parseLine(line)
		if err != nil {
			return nil, &StoreIOError{Op: "parse", Path: s.path, Err: err}
		}
		hosts = append(hosts, h)
	}
	if err := scanner.Err(); err != nil {
		return nil, &StoreIOError{Op: "read", Path: s.path, Err: err}
	}
	return hosts, nil
}

func (s *Store) appendLine(h Host) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &StoreIOError{Op: "append", Path: s.path, Err: err}
	}
	defer f.Close()
	if _, err := f.WriteString(formatLine(h) + "\n"); err != nil {
		return &StoreIOError{Op: "append", Path: s.path, Err: err}
	}
	return nil
}

func (s *Store) rewrite(hosts []Host) error {
	tmp, err := os.CreateTemp(dirOf(s.path), ".hoststore-*.tmp")
	if err != nil {
		return &StoreIOError{Op: "rewrite", Path: s.path, Err: err}
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, h := range hosts {
		if _, err := w.WriteString(formatLine(h) + "\n"); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return &StoreIOError{Op: "rewrite", Path: s.path, Err: err}
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &StoreIOError{Op: "rewrite", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &StoreIOError{Op: "rewrite", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return &StoreIOError{Op: "rewrite", Path: s.path, Err: err}
	}
	return nil
}

func formatLine(h Host) string {
	return strings.Join([]string{h.MAC, h.IP, h.Hostname, h.lastUsedField()}, ";")
}

func parseLine(line string) (Host, error) {
	fields := strings.Split(line, ";")
	if len(fields) != 4 {
		return Host{}, fmt.Errorf("expected 4 fields, got %d: %q", len(fields), line)
	}
	lastUsed, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Host{}, fmt.Errorf("bad last_used field %q: %w", fields[3], err)
	}
	return Host{MAC: fields[0], IP: fields[1], Hostname: fields[2], LastUsed: lastUsed}, nil
}

func dirOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return "."
	}
	return path[:idx]
}
