// Package strategy parses the io.balena.update.strategy label and exposes
// the recognized update strategies' kill/fetch/start ordering.
package strategy

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/cfilipov/edged/internal/model"
)

// Strategy is a recognized value of the io.balena.update.strategy label.
type Strategy string

const (
	DownloadThenKill  Strategy = "download-then-kill"
	KillThenDownload  Strategy = "kill-then-download"
	DeleteThenDownload Strategy = "delete-then-download"
	HandOver          Strategy = "hand-over"

	// Default is the strategy applied when the label is absent or unrecognized.
	Default = DownloadThenKill

	defaultHandoverTimeoutSeconds = 60
)

var recognized = map[string]Strategy{
	string(DownloadThenKill):   DownloadThenKill,
	string(KillThenDownload):   KillThenDownload,
	string(DeleteThenDownload): DeleteThenDownload,
	string(HandOver):           HandOver,
}

// unknownSeen tracks which unrecognized label values have already been
// warned about in this process. It's the fallback first-seen check when
// UnknownStrategySeenFunc hasn't been wired (e.g. in planner unit tests),
// and the backstop used if the wired persistence itself errors.
var unknownSeen sync.Map

// UnknownStrategySeenFunc, when set, backs the first-seen check for an
// unrecognized update-strategy label value with durable storage instead of
// unknownSeen, so the once-per-value warning survives a device reboot
// mid-reconciliation. internal/loop wires this to
// internal/state.Store.LogUnknownStrategyOnce at startup.
var UnknownStrategySeenFunc func(value string) (firstSeen bool, err error)

// OfService returns the update strategy declared by the service's
// io.balena.update.strategy label, defaulting to download-then-kill if the
// label is absent or its value isn't recognized. An unrecognized non-empty
// value is logged once per value.
func OfService(svc model.Service) Strategy {
	raw, ok := svc.Config.Labels[model.LabelUpdateStrategy]
	if !ok || raw == "" {
		return Default
	}
	if s, ok := recognized[raw]; ok {
		return s
	}
	if firstSeenUnknown(raw) {
		slog.Warn("unknown update strategy, defaulting to download-then-kill",
			"strategy", raw, "service", svc.ServiceName)
	}
	return Default
}

func firstSeenUnknown(value string) bool {
	if UnknownStrategySeenFunc == nil {
		_, already := unknownSeen.LoadOrStore(value, struct{}{})
		return !already
	}
	firstSeen, err := UnknownStrategySeenFunc(value)
	if err != nil {
		slog.Warn("persist unknown update strategy", "strategy", value, "err", err)
		_, already := unknownSeen.LoadOrStore(value, struct{}{})
		return !already
	}
	return firstSeen
}

// HandoverTimeoutSeconds returns the service's io.balena.update.handover-timeout
// label value in seconds, defaulting to 60 if absent or unparseable.
func HandoverTimeoutSeconds(svc model.Service) int {
	raw, ok := svc.Config.Labels[model.LabelHandoverTimeout]
	if !ok {
		return defaultHandoverTimeoutSeconds
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultHandoverTimeoutSeconds
	}
	return n
}
