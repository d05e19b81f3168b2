// Package store persists the visitor's consent decision and answers whether a
// valid decision currently exists.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/consentry/consentry/internal/storage"
)

const keyPrefix = "consentry:v1:consent:"

// Key returns the storage key holding the consent record for a site.
func Key(siteID string) string {
	return keyPrefix + siteID
}

// Record is the persisted consent decision.
type Record struct {
	SiteID    string    `json:"siteId"`
	Granted   []string  `json:"granted"`
	DecidedAt time.Time `json:"decidedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GrantedSet returns the granted categories as a lookup set.
func (r Record) GrantedSet() map[string]bool {
	set := make(map[string]bool, len(r.Granted))
	for _, id := range r.Granted {
		set[id] = true
	}
	return set
}

// Store reads and writes the consent record for one site. A copy of the last
// known record is kept in memory so state inspection does not touch storage.
type Store struct {
	siteID string
	kv     storage.KV
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	current Record
	present bool
}

// New builds a store bound to a site. The ttl stamps ExpiresAt on records
// created through NewRecord.
func New(siteID string, kv storage.KV, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		siteID: siteID,
		kv:     kv,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// NewRecord stamps a fresh record for the granted category set.
func (s *Store) NewRecord(granted []string) Record {
	decided := s.now().UTC()
	return Record{
		SiteID:    s.siteID,
		Granted:   append([]string(nil), granted...),
		DecidedAt: decided,
		ExpiresAt: decided.Add(s.ttl),
	}
}

// Load returns the stored record and whether a valid one exists. It never
// surfaces an error: unreadable storage reports absent, and a record that is
// malformed, incomplete, or expired is purged before reporting absent.
func (s *Store) Load(ctx context.Context) (Record, bool) {
	raw, found, err := s.kv.Lookup(ctx, Key(s.siteID))
	if err != nil {
		s.logger.Warn("consent lookup failed, treating as absent", "siteId", s.siteID, "error", err)
		s.setCurrent(Record{}, false)
		return Record{}, false
	}
	if !found {
		s.setCurrent(Record{}, false)
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.logger.Warn("consent record unparseable, purging", "siteId", s.siteID, "error", err)
		s.purge(ctx)
		return Record{}, false
	}
	if rec.SiteID != s.siteID || len(rec.Granted) == 0 || rec.DecidedAt.IsZero() || rec.ExpiresAt.IsZero() {
		s.logger.Warn("consent record incomplete, purging", "siteId", s.siteID)
		s.purge(ctx)
		return Record{}, false
	}
	if !rec.ExpiresAt.After(s.now()) {
		s.logger.Info("consent record expired, purging", "siteId", s.siteID, "expiresAt", rec.ExpiresAt)
		s.purge(ctx)
		return Record{}, false
	}

	s.setCurrent(rec, true)
	return rec, true
}

// Save persists the record and updates the in-memory copy.
func (s *Store) Save(ctx context.Context, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal consent record: %w", err)
	}
	if err := s.kv.Store(ctx, Key(s.siteID), raw); err != nil {
		return fmt.Errorf("store: persist consent record: %w", err)
	}
	s.setCurrent(rec, true)
	return nil
}

// Clear removes the stored record.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, Key(s.siteID)); err != nil {
		return fmt.Errorf("store: clear consent record: %w", err)
	}
	s.setCurrent(Record{}, false)
	return nil
}

// Current returns the in-memory copy from the last Load or Save without
// touching storage.
func (s *Store) Current() (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.present
}

func (s *Store) setCurrent(rec Record, present bool) {
	s.mu.Lock()
	s.current = rec
	s.present = present
	s.mu.Unlock()
}

func (s *Store) purge(ctx context.Context) {
	if err := s.kv.Delete(ctx, Key(s.siteID)); err != nil {
		s.logger.Warn("consent purge failed", "siteId", s.siteID, "error", err)
	}
	s.setCurrent(Record{}, false)
}
