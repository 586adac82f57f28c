package notify

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"slices"

	"github.com/oszuidwest/zwfm-singcapture/internal/types"
	"github.com/oszuidwest/zwfm-singcapture/internal/util"
)

// DefaultLogEntries is the number of entries returned by ReadFaultLog when
// no limit is given.
const DefaultLogEntries = 100

// LogFault records a capture fault.
func LogFault(logPath string, f Fault) error {
	return appendLogEntry(logPath, types.FaultLogEntry{
		Timestamp: util.RFC3339Now(),
		Event:     f.Kind,
		SessionID: f.SessionID,
		Detail:    f.Detail,
	})
}

// WriteTestLog writes a test entry to verify log file configuration.
func WriteTestLog(logPath string) error {
	if logPath == "" {
		return errors.New("log file path not configured")
	}

	return appendLogEntry(logPath, types.FaultLogEntry{
		Timestamp: util.RFC3339Now(),
		Event:     "test",
	})
}

// ReadFaultLog returns the newest entries of the log, newest first.
// Lines that do not parse are skipped. A missing file yields no entries.
func ReadFaultLog(logPath string, limit int) ([]types.FaultLogEntry, error) {
	if logPath == "" {
		return nil, errors.New("log file path not configured")
	}
	if limit <= 0 {
		limit = DefaultLogEntries
	}

	f, err := os.Open(logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	var entries []types.FaultLogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e types.FaultLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
		if len(entries) > limit {
			entries = entries[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, util.WrapError("read log file", err)
	}

	// Newest first
	slices.Reverse(entries)
	return entries, nil
}

// appendLogEntry appends a JSON log entry to the file.
func appendLogEntry(logPath string, entry types.FaultLogEntry) error {
	if !util.IsConfigured(logPath) {
		return nil
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return util.WrapError("marshal log entry", err)
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return util.WrapError("open log file", err)
	}
	defer util.SafeCloseFunc(f, "log file")()

	if _, err := f.Write(jsonData); err != nil {
		return util.WrapError("write log entry", err)
	}
	if _, err := f.WriteString("\n"); err != nil {
		return util.WrapError("write newline", err)
	}

	return nil
}
