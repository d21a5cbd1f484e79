// Package registry implements the session registry: CRUD over
// sessions.json and the consolidation sweep that reconciles the
// on-disk records with the live process table (dead-bridge detection,
// expired-session removal, orphan socket and log cleanup).
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/mcpc-dev/mcpc/pkg/home"
	"github.com/mcpc-dev/mcpc/pkg/mcpcerr"
	"github.com/mcpc-dev/mcpc/pkg/mcpclient"
	"github.com/mcpc-dev/mcpc/pkg/store"
)

// Status values a SessionRecord can carry on disk: "active" (set by
// Create) and "expired" (set by MarkExpired). "dead" is computed at
// read time from PID liveness and never written.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// SessionRecord is the on-disk shape of one session, keyed by its
// "@name" in sessions.json. Server.HTTP.Headers, if present, is always
// the redacted view — real header values live in the keychain under
// session:<name>:headers.
type SessionRecord struct {
	Name        string                  `json:"name"`
	Server      mcpclient.ServerConfig  `json:"server"`
	ProfileName string                  `json:"profileName,omitempty"`
	PID         int                     `json:"pid,omitempty"`
	Status      string                  `json:"status"`
	CreatedAt   time.Time               `json:"createdAt"`
	LastSeenAt  time.Time               `json:"lastSeenAt"`
}

type sessionsDoc struct {
	Sessions map[string]*SessionRecord `json:"sessions"`
}

var defaultSessionsDoc = []byte(`{"sessions":{}}`)

// LiveStatus is the computed-at-read-time state the spec defines: "live"
// requires a recorded PID that answers to signal 0 (and, under a forced
// consolidation, a successful ping); "expired" is terminal and always
// persisted; everything else is "dead".
type LiveStatus string

const (
	Live    LiveStatus = "live"
	Dead    LiveStatus = "dead"
	Expired LiveStatus = "expired"
)

// Registry is a thin, stateless handle on one home directory's
// sessions.json; every method reacquires the file lock via pkg/store.
type Registry struct {
	HomeDir string
}

// New returns a Registry rooted at homeDir.
func New(homeDir string) *Registry {
	return &Registry{HomeDir: homeDir}
}

func (r *Registry) path() string { return home.SessionsPath(r.HomeDir) }

// Get returns the session record named name, or a ClientError if it
// does not exist.
func (r *Registry) Get(name string) (*SessionRecord, error) {
	var doc sessionsDoc
	if err := store.ReadJSON(r.path(), defaultSessionsDoc, &doc); err != nil {
		return nil, err
	}
	rec, ok := doc.Sessions[name]
	if !ok {
		return nil, mcpcerr.NewClient(fmt.Sprintf("no such session %q", name))
	}
	return rec, nil
}

// List returns every session record, keyed by "@name".
func (r *Registry) List() (map[string]*SessionRecord, error) {
	var doc sessionsDoc
	if err := store.ReadJSON(r.path(), defaultSessionsDoc, &doc); err != nil {
		return nil, err
	}
	if doc.Sessions == nil {
		return map[string]*SessionRecord{}, nil
	}
	return doc.Sessions, nil
}

// Create inserts a new session record, stamping CreatedAt and
// LastSeenAt to now. It overwrites any existing record of the same
// name, matching the "connect" operation's semantics (a fresh connect
// replaces a prior registration for the name).
func (r *Registry) Create(name string, server mcpclient.ServerConfig, profileName string) (*SessionRecord, error) {
	if err := home.ValidateSessionName(name); err != nil {
		return nil, err
	}
	now := time.Now()
	rec := &SessionRecord{
		Name:        name,
		Server:      server,
		ProfileName: profileName,
		Status:      StatusActive,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	err := store.ModifyJSON(r.path(), defaultSessionsDoc, func(doc *sessionsDoc) error {
		if doc.Sessions == nil {
			doc.Sessions = make(map[string]*SessionRecord)
		}
		doc.Sessions[name] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SetPID records a freshly spawned (or restarted) bridge's PID and
// bumps LastSeenAt. Used by the bridge manager after startBridge and
// restartBridge.
func (r *Registry) SetPID(name string, pid int) error {
	return store.ModifyJSON(r.path(), defaultSessionsDoc, func(doc *sessionsDoc) error {
		rec, ok := doc.Sessions[name]
		if !ok {
			return mcpcerr.NewClient(fmt.Sprintf("no such session %q", name))
		}
		rec.PID = pid
		rec.LastSeenAt = time.Now()
		return nil
	})
}

// Touch bumps LastSeenAt without otherwise changing the record.
func (r *Registry) Touch(name string) error {
	return store.ModifyJSON(r.path(), defaultSessionsDoc, func(doc *sessionsDoc) error {
		rec, ok := doc.Sessions[name]
		if !ok {
			return mcpcerr.NewClient(fmt.Sprintf("no such session %q", name))
		}
		rec.LastSeenAt = time.Now()
		return nil
	})
}

// MarkExpired sets status=expired, the bridge's last act before exiting
// once the upstream MCP server has signalled the session is
// permanently unusable.
func (r *Registry) MarkExpired(name string) error {
	return store.ModifyJSON(r.path(), defaultSessionsDoc, func(doc *sessionsDoc) error {
		rec, ok := doc.Sessions[name]
		if !ok {
			return nil // already gone; idempotent
		}
		rec.Status = StatusExpired
		return nil
	})
}

// Delete removes a session record outright. Idempotent: deleting an
// absent name is not an error, matching the close(x) twice law.
func (r *Registry) Delete(name string) error {
	return store.ModifyJSON(r.path(), defaultSessionsDoc, func(doc *sessionsDoc) error {
		delete(doc.Sessions, name)
		return nil
	})
}

// Status computes the caller-visible LiveStatus for rec without
// touching disk: Expired if the persisted status says so, Live if its
// PID answers to signal 0, Dead otherwise.
func (r *Registry) Status(rec *SessionRecord) LiveStatus {
	if rec.Status == StatusExpired {
		return Expired
	}
	if rec.PID != 0 && IsProcessAlive(rec.PID) {
		return Live
	}
	return Dead
}

// ConsolidatedEntry pairs a surviving record with its computed status,
// returned by Consolidate.
type ConsolidatedEntry struct {
	Record *SessionRecord
	Status LiveStatus
}

// orphanLogRE matches rotating bridge log files: "bridge-@name.log" or
// "bridge-@name.log.3".
var orphanLogRE = regexp.MustCompile(`^bridge-(@[A-Za-z0-9_-]+)\.log(\.\d+)?$`)

const defaultOrphanLogMaxAgeDays = 7

// Consolidate loads the registry under lock, computes each entry's
// LiveStatus (using ping, in addition to PID liveness, when force is
// true), removes entries whose persisted status is "expired" (sweeping
// their socket file), and — only when force is true, since the spec
// leaves the dead-entry grace period an open question and this
// implementation resolves it to "immediate" under an explicit force —
// also removes entries found Dead. It finishes by unlinking orphan log
// files older than maxAgeDays (default 7) whose session name is no
// longer in the registry. Returns the post-consolidation map.
func (r *Registry) Consolidate(force bool, ping func(name string) bool) (map[string]ConsolidatedEntry, error) {
	result := make(map[string]ConsolidatedEntry)

	err := store.ModifyJSON(r.path(), defaultSessionsDoc, func(doc *sessionsDoc) error {
		if doc.Sessions == nil {
			return nil
		}
		for name, rec := range doc.Sessions {
			status := r.Status(rec)
			if status == Live && force && ping != nil && !ping(name) {
				status = Dead
			}

			switch {
			case status == Expired:
				delete(doc.Sessions, name)
				r.sweepSocket(name)
			case status == Dead && force:
				delete(doc.Sessions, name)
				r.sweepSocket(name)
			default:
				result[name] = ConsolidatedEntry{Record: rec, Status: status}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := r.sweepOrphanLogs(result, defaultOrphanLogMaxAgeDays); err != nil {
		return result, err
	}
	return result, nil
}

func (r *Registry) sweepSocket(name string) {
	_ = os.Remove(home.SocketPath(r.HomeDir, name))
}

func (r *Registry) sweepOrphanLogs(surviving map[string]ConsolidatedEntry, maxAgeDays int) error {
	logsDir := filepath.Join(r.HomeDir, "logs")
	entries, err := os.ReadDir(logsDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return mcpcerr.WrapClient("reading logs directory", err)
	}

	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := orphanLogRE.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		if _, ok := surviving[m[1]]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(logsDir, entry.Name()))
		}
	}
	return nil
}
