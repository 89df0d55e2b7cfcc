// Package logging provides audit logging for validation sessions.
// Audit events form a JSONL trail of everything a session did: worker runs,
// attempts, fixes, knowledge hits and evictions. The trail is what lets a
// failed worker be diagnosed after the fact from its full attempt history.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Session lifecycle events
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"

	// Worker lifecycle events
	AuditWorkerStart    AuditEventType = "worker_start"
	AuditWorkerComplete AuditEventType = "worker_complete"

	// Iteration events
	AuditAttemptStart    AuditEventType = "attempt_start"
	AuditAttemptComplete AuditEventType = "attempt_complete"
	AuditFixApplied      AuditEventType = "fix_applied"
	AuditStateChange     AuditEventType = "state_change"

	// Knowledge events
	AuditKnowledgeHit   AuditEventType = "knowledge_hit"
	AuditKnowledgeMiss  AuditEventType = "knowledge_miss"
	AuditKnowledgeLearn AuditEventType = "knowledge_learn"
	AuditKnowledgeEvict AuditEventType = "knowledge_evict"

	// Probe events
	AuditProbeComplete AuditEventType = "probe_complete"
	AuditProbeError    AuditEventType = "probe_error"
)

// AuditEvent represents one structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	SessionID  string                 `json:"session,omitempty"`
	WorkerID   string                 `json:"worker,omitempty"`
	Target     string                 `json:"target,omitempty"` // Target of the operation (signature, probe name, ...)
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes scoped audit events.
type AuditLogger struct {
	sessionID string
	workerID  string
}

// InitAudit initializes the audit logging system.
// A no-op unless debug mode is enabled.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// AuditWithWorker creates an audit logger scoped to a session and worker.
func AuditWithWorker(sessionID, workerID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID, workerID: workerID}
}

// Event writes a raw audit event.
func (a *AuditLogger) Event(eventType AuditEventType, target string, success bool, fields map[string]interface{}) {
	a.write(AuditEvent{
		Timestamp: time.Now().UnixMilli(),
		EventType: eventType,
		SessionID: a.sessionID,
		WorkerID:  a.workerID,
		Target:    target,
		Success:   success,
		Fields:    fields,
	})
}

// Attempt records one completed attempt.
func (a *AuditLogger) Attempt(number int, score float64, success bool, duration time.Duration, errCount int) {
	a.write(AuditEvent{
		Timestamp:  time.Now().UnixMilli(),
		EventType:  AuditAttemptComplete,
		SessionID:  a.sessionID,
		WorkerID:   a.workerID,
		Success:    success,
		DurationMs: duration.Milliseconds(),
		Fields: map[string]interface{}{
			"attempt": number,
			"score":   score,
			"errors":  errCount,
		},
	})
}

// KnowledgeHit records a successful knowledge store lookup.
func (a *AuditLogger) KnowledgeHit(signature string, similarity float64, solution string) {
	a.write(AuditEvent{
		Timestamp: time.Now().UnixMilli(),
		EventType: AuditKnowledgeHit,
		SessionID: a.sessionID,
		WorkerID:  a.workerID,
		Target:    signature,
		Success:   true,
		Fields: map[string]interface{}{
			"similarity": similarity,
			"solution":   solution,
		},
	})
}

// ProbeResult records one dimension probe's outcome.
func (a *AuditLogger) ProbeResult(dimension string, score float64, duration time.Duration, probeErr error) {
	event := AuditEvent{
		Timestamp:  time.Now().UnixMilli(),
		EventType:  AuditProbeComplete,
		SessionID:  a.sessionID,
		WorkerID:   a.workerID,
		Target:     dimension,
		Success:    probeErr == nil,
		DurationMs: duration.Milliseconds(),
		Fields:     map[string]interface{}{"score": score},
	}
	if probeErr != nil {
		event.EventType = AuditProbeError
		event.Error = probeErr.Error()
	}
	a.write(event)
}

// StateChange records an iteration state transition.
func (a *AuditLogger) StateChange(from, to string, reason string) {
	a.write(AuditEvent{
		Timestamp: time.Now().UnixMilli(),
		EventType: AuditStateChange,
		SessionID: a.sessionID,
		WorkerID:  a.workerID,
		Target:    to,
		Success:   true,
		Message:   reason,
		Fields:    map[string]interface{}{"from": from},
	})
}

// write serializes and appends the event. Failures are swallowed - the
// audit trail is diagnostic, never load-bearing.
func (a *AuditLogger) write(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}
