package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// DoomLoopThreshold is how many consecutive identical calls count as a
// loop.
const DoomLoopThreshold = 3

// DoomLoopDetector notices when an agent keeps issuing the exact same
// tool call: a model stuck re-reading the same file or re-running the
// same failing command. Only the current run matters, so the detector
// keeps one (hash, run-length) pair per session instead of a history.
type DoomLoopDetector struct {
	mu   sync.Mutex
	runs map[string]*callRun
}

// callRun is the current streak of identical calls within one session.
type callRun struct {
	hash   string
	length int
}

// NewDoomLoopDetector creates an empty detector.
func NewDoomLoopDetector() *DoomLoopDetector {
	return &DoomLoopDetector{runs: make(map[string]*callRun)}
}

// Check records one tool call and reports whether it extends a streak
// of DoomLoopThreshold or more identical calls. Any differing call
// resets the streak to one.
func (d *DoomLoopDetector) Check(sessionID, toolName string, input any) bool {
	hash := fingerprint(toolName, input)

	d.mu.Lock()
	defer d.mu.Unlock()

	run, ok := d.runs[sessionID]
	if !ok || run.hash != hash {
		d.runs[sessionID] = &callRun{hash: hash, length: 1}
		return false
	}
	run.length++
	return run.length >= DoomLoopThreshold
}

// Clear forgets a session's streak entirely (session deleted).
func (d *DoomLoopDetector) Clear(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runs, sessionID)
}

// Reset drops the current streak, for when the user approves continuing
// past a detected loop; the next call starts a fresh streak of one.
func (d *DoomLoopDetector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runs, sessionID)
}

// fingerprint hashes a call's identity: tool name plus its full input.
func fingerprint(toolName string, input any) string {
	raw, _ := json.Marshal(struct {
		Tool  string `json:"tool"`
		Input any    `json:"input"`
	}{toolName, input})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
