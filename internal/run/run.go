// Package run manages collection runs on disk.
//
// A run is a directory written by the collectors. Its run_data.json
// descriptor records the collection status, the completion time and the
// owning environment; the other files hold the collected documents. The
// descriptor moves through
//
//	running -> finished -> syncing -> finished (+synced)
//
// Only a finished run without a synced timestamp is eligible for
// ingestion. Start persists the syncing status before any graph write so
// an interrupted ingestion can be recognised and retried.
package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DescriptorFile is the name of the run descriptor inside a run directory.
const DescriptorFile = "run_data.json"

// Status is the collection status of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusSyncing  Status = "syncing"
)

var (
	// ErrInvalidCollection means the directory has no readable descriptor.
	ErrInvalidCollection = errors.New("invalid collection")

	// ErrAlreadySynced means the run has a synced timestamp.
	ErrAlreadySynced = errors.New("run already synced")

	// ErrInvalidStatus means the run is not finished.
	ErrInvalidStatus = errors.New("run has invalid status")

	// ErrStaleRun means the environment holds data at least as new as the
	// run.
	ErrStaleRun = errors.New("run contains old data")
)

// Environment identifies the environment a run was collected from.
type Environment struct {
	AccountNumber string `json:"account_number"`
	Name          string `json:"name"`
}

// Identity returns the Environment entity identity.
func (e Environment) Identity() string {
	return e.AccountNumber + "-" + e.Name
}

func (e Environment) String() string {
	return e.Identity()
}

// Run is one collection directory.
//
// Run is not safe for concurrent use; the environment lock serializes
// writers across processes.
type Run struct {
	path        string
	status      Status
	completed   time.Time
	synced      string
	environment Environment

	// raw keeps descriptor keys this package does not interpret.
	raw map[string]json.RawMessage
}

// Open reads the run in dir.
func Open(dir string) (*Run, error) {
	r := &Run{path: dir}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Run) load() error {
	data, err := os.ReadFile(filepath.Join(r.path, DescriptorFile))
	if err != nil {
		return fmt.Errorf("%s: %w: %v", r.path, ErrInvalidCollection, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%s: %w: %v", r.path, ErrInvalidCollection, err)
	}

	var (
		status    string
		completed string
		synced    *string
		env       Environment
	)
	fields := []struct {
		key string
		dst any
	}{
		{"status", &status},
		{"completed", &completed},
		{"synced", &synced},
		{"environment", &env},
	}
	for _, f := range fields {
		v, ok := raw[f.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, f.dst); err != nil {
			return fmt.Errorf("%s: %w: field %s: %v", r.path, ErrInvalidCollection, f.key, err)
		}
	}
	if env.AccountNumber == "" || env.Name == "" {
		return fmt.Errorf("%s: %w: missing environment", r.path, ErrInvalidCollection)
	}
	ts, err := ParseTime(completed)
	if err != nil {
		return fmt.Errorf("%s: %w: completed: %v", r.path, ErrInvalidCollection, err)
	}

	r.raw = raw
	r.status = Status(status)
	r.completed = ts
	r.synced = ""
	if synced != nil {
		r.synced = *synced
	}
	r.environment = env
	return nil
}

// Reload rereads the descriptor from disk.
func (r *Run) Reload() error { return r.load() }

// Path returns the run directory.
func (r *Run) Path() string { return r.path }

// Name returns the base name of the run directory.
func (r *Run) Name() string { return filepath.Base(r.path) }

func (r *Run) Status() Status { return r.status }

func (r *Run) Environment() Environment { return r.environment }

// Completed returns the collection completion time.
func (r *Run) Completed() time.Time { return r.completed }

// CompletedMillis returns the completion time in milliseconds since the
// epoch. Every interval written for the run starts here.
func (r *Run) CompletedMillis() int64 { return r.completed.UnixMilli() }

// Synced returns the synced timestamp, or "" if the run was never synced.
func (r *Run) Synced() string { return r.synced }

// Eligible reports nil if the run may be ingested.
func (r *Run) Eligible() error {
	if r.synced != "" {
		return fmt.Errorf("%s: %w", r.path, ErrAlreadySynced)
	}
	if r.status != StatusFinished {
		return fmt.Errorf("%s (%s): %w", r.path, r.status, ErrInvalidStatus)
	}
	return nil
}

// Interrupted reports whether an earlier ingestion claimed the run and
// never finished it.
func (r *Run) Interrupted() bool {
	return r.status == StatusSyncing && r.synced == ""
}

// Recover returns an interrupted run to finished so it can be claimed
// again. It reports whether the run changed. Callers must hold the
// environment lock, otherwise a live ingestion could be mistaken for a
// crashed one.
func (r *Run) Recover() (bool, error) {
	if !r.Interrupted() {
		return false, nil
	}
	return true, r.setStatus(StatusFinished)
}

// Start claims the run for ingestion.
func (r *Run) Start() error {
	if err := r.Eligible(); err != nil {
		return err
	}
	return r.setStatus(StatusSyncing)
}

// Finish marks the run finished and synced at now.
func (r *Run) Finish(now time.Time) error {
	synced := FormatTime(now)
	if err := r.set(map[string]any{"status": StatusFinished, "synced": synced}); err != nil {
		return err
	}
	r.status = StatusFinished
	r.synced = synced
	return nil
}

// Fail returns the run to finished without a synced timestamp. It is
// retried on the next pass.
func (r *Run) Fail() error {
	return r.setStatus(StatusFinished)
}

// Reset makes a run eligible again, dropping its synced timestamp.
func (r *Run) Reset() error {
	delete(r.raw, "synced")
	if err := r.setStatus(StatusFinished); err != nil {
		return err
	}
	r.synced = ""
	return nil
}

func (r *Run) setStatus(s Status) error {
	if err := r.set(map[string]any{"status": s}); err != nil {
		return err
	}
	r.status = s
	return nil
}

// set merges fields into the descriptor and saves it.
func (r *Run) set(fields map[string]any) error {
	raw := make(map[string]json.RawMessage, len(r.raw)+len(fields))
	for k, v := range r.raw {
		raw[k] = v
	}
	for k, v := range fields {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", k, err)
		}
		raw[k] = b
	}
	if err := writeDescriptor(r.path, raw); err != nil {
		return err
	}
	r.raw = raw
	return nil
}

// writeDescriptor replaces the descriptor atomically so a crash never
// leaves a truncated file.
func writeDescriptor(dir string, raw map[string]json.RawMessage) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+DescriptorFile+".*")
	if err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write descriptor: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync descriptor: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close descriptor: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, DescriptorFile)); err != nil {
		return fmt.Errorf("rename descriptor: %w", err)
	}
	return nil
}

// File returns the path of name inside the run directory.
func (r *Run) File(name string) string {
	return filepath.Join(r.path, name)
}

// HostFile is a per-host document in a run.
type HostFile struct {
	Host string
	Path string
}

// HostFiles returns the files named prefix + hostname + ".json", sorted
// by hostname.
func (r *Run) HostFiles(prefix string) ([]HostFile, error) {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.path, err)
	}
	var files []HostFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		host := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		if host == "" {
			continue
		}
		files = append(files, HostFile{Host: host, Path: filepath.Join(r.path, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Host < files[j].Host })
	return files, nil
}

// ParseTime parses a descriptor timestamp. Timestamps are UTC ISO-8601,
// with or without fractional seconds and zone; a missing zone means UTC.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// FormatTime formats t the way collectors write descriptor timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000")
}
