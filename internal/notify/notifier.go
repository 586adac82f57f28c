package notify

import (
	"slices"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-singcapture/internal/config"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// Fault kinds that trigger notifications. Permission refusals, empty takes
// and cancellations are singer-side outcomes and are not reported.
var alertKinds = []string{"device_unavailable", "stop_timeout", "recorder_fault"}

// DefaultCooldown is the minimum time between notifications of the same kind.
const DefaultCooldown = 5 * time.Minute

// Fault describes a failed capture session.
type Fault struct {
	Kind      string
	SessionID string
	Detail    string
}

// FaultNotifier sends webhook, email, and log notifications for capture
// faults. Repeats of the same kind within the cooldown are suppressed so a
// broken microphone does not flood the operator.
type FaultNotifier struct {
	cfg      *config.Config
	cooldown time.Duration
	now      func() time.Time

	// mu protects lastSent
	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewFaultNotifier returns a FaultNotifier configured with the given config.
func NewFaultNotifier(cfg *config.Config) *FaultNotifier {
	return &FaultNotifier{
		cfg:      cfg,
		cooldown: DefaultCooldown,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// ShouldNotify reports whether faults of this kind are reported at all.
func ShouldNotify(kind string) bool {
	return slices.Contains(alertKinds, kind)
}

// HandleFault triggers the configured notifications for f. It returns false
// when the fault was filtered out or suppressed by the cooldown.
func (n *FaultNotifier) HandleFault(f Fault) bool {
	if !ShouldNotify(f.Kind) || !n.claim(f.Kind) {
		return false
	}

	cfg := n.cfg.Snapshot()
	if cfg.HasWebhook() {
		go util.LogNotifyResult(func() error { return SendFaultWebhook(cfg.WebhookURL, f) }, "Fault webhook", true)
	}
	if cfg.HasEmail() {
		emailCfg := EmailConfigFromSnapshot(&cfg)
		go util.LogNotifyResult(func() error { return SendFaultAlert(emailCfg, f) }, "Fault email", true)
	}
	if cfg.HasLogPath() {
		go util.LogNotifyResult(func() error { return LogFault(cfg.LogPath, f) }, "Fault log", true)
	}
	return true
}

// claim records a send for kind unless one happened within the cooldown.
func (n *FaultNotifier) claim(kind string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.lastSent[kind]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.lastSent[kind] = now
	return true
}

// Reset clears the cooldown state.
func (n *FaultNotifier) Reset() {
	n.mu.Lock()
	n.lastSent = make(map[string]time.Time)
	n.mu.Unlock()
}
